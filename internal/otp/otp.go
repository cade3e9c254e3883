// Package otp issues and verifies short-lived email verification codes.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pigeon/internal/identity"
	"pigeon/internal/mail"
)

var (
	// ErrCodeMismatch is returned when the submitted code does not match.
	ErrCodeMismatch = errors.New("otp: code mismatch")
	// ErrCodeExpired is returned when no live code exists for the address.
	ErrCodeExpired = errors.New("otp: code expired or not issued")
	// ErrTooManyAttempts is returned once the attempt budget is spent.
	ErrTooManyAttempts = errors.New("otp: too many attempts")
)

const (
	codeTTL     = 10 * time.Minute
	maxAttempts = 5
	codeDigits  = 6
)

type entry struct {
	hash      []byte
	expiresAt time.Time
	attempts  int
}

// Store keeps pending codes in memory, keyed by normalized email. Codes are
// stored bcrypt-hashed so a heap dump never yields a usable code.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewStore constructs an empty code store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry), now: time.Now}
}

// put replaces any pending code for the address.
func (s *Store) put(email string, hash []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[email] = &entry{hash: hash, expiresAt: s.now().Add(codeTTL)}
}

// check verifies a submitted code and consumes the entry on success.
func (s *Store) check(email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	e, ok := s.entries[email]
	if !ok {
		return ErrCodeExpired
	}
	if e.attempts >= maxAttempts {
		delete(s.entries, email)
		return ErrTooManyAttempts
	}
	e.attempts++

	if bcrypt.CompareHashAndPassword(e.hash, []byte(code)) != nil {
		return ErrCodeMismatch
	}
	delete(s.entries, email)
	return nil
}

// sweepLocked drops expired entries. Called under s.mu on every access, which
// bounds the map without a background goroutine.
func (s *Store) sweepLocked() {
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// Service issues codes by email and verifies submissions.
type Service struct {
	store  *Store
	sender mail.Sender
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(store *Store, sender mail.Sender, logger *slog.Logger) *Service {
	return &Service{store: store, sender: sender, logger: logger}
}

// Send issues a fresh code for the address and emails it. Any previously
// pending code for the same address is invalidated.
func (s *Service) Send(ctx context.Context, email string) error {
	email = identity.NormalizeEmail(email)
	if !identity.ValidEmail(email) {
		return identity.ErrInvalidInput
	}

	code, err := randomCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.store.put(email, hash)

	msg := mail.Message{
		To:      email,
		Subject: "Your Pigeon verification code",
		HTML:    fmt.Sprintf("<p>Your verification code is <strong>%s</strong>. It expires in 10 minutes.</p>", code),
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return err
	}
	s.logger.Info("otp.send.ok", "email", email)
	return nil
}

// Verify checks a submitted code. Success consumes the code; it cannot be
// replayed.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email = identity.NormalizeEmail(email)
	err := s.store.check(email, code)
	if err != nil {
		s.logger.Info("otp.verify.fail", "email", email, "error", err)
		return err
	}
	s.logger.Info("otp.verify.ok", "email", email)
	return nil
}

func randomCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
