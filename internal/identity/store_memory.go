package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev/test fallback when no database is configured.
// It mirrors the PostgresStore contract, including error kinds.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*memUser
	byEmail map[string]string // normalized email -> user id
}

type memUser struct {
	user User
	hash string
}

// NewMemoryStore constructs an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*memUser),
		byEmail: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

// CreateUser creates a user and its credential in one step.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if !ValidEmail(email) {
		return User{}, pgInvalid(op, "invalid email")
	}
	if name == "" {
		return User{}, pgInvalid(op, "name is required")
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, pgInvalid(op, "password is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:        id,
		Email:     email,
		Name:      name,
		Phone:     strings.TrimSpace(in.Phone),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	s.byID[id] = &memUser{user: u, hash: hash}
	s.byEmail[email] = id

	return u, nil
}

// GetUserByID loads a user by ID.
func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	mu, ok := s.byID[strings.TrimSpace(userID)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	return mu.user, nil
}

// GetUserAuthByEmail loads a user plus password hash for login verification.
func (s *MemoryStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return UserAuth{}, NotFoundError{Op: "identity.GetUserAuthByEmail", Resource: "user"}
	}
	mu := s.byID[id]
	return UserAuth{User: mu.user, PasswordHash: mu.hash}, nil
}

// UpdateProfile applies a partial profile update.
func (s *MemoryStore) UpdateProfile(ctx context.Context, in UpdateProfileInput) (User, error) {
	const op = "identity.UpdateProfile"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if in.Name == nil && in.Phone == nil && in.PhotoURL == nil {
		return User{}, pgInvalid(op, "no fields to update")
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return User{}, pgInvalid(op, "empty name")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mu, ok := s.byID[strings.TrimSpace(in.UserID)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if v := trimOrNil(in.Name); v != nil {
		mu.user.Name = *v
	}
	if v := trimOrNil(in.Phone); v != nil {
		mu.user.Phone = *v
	}
	if v := trimOrNil(in.PhotoURL); v != nil {
		mu.user.PhotoURL = v
	}
	mu.user.UpdatedAt = now
	return mu.user, nil
}

// SearchUsers matches name or email substring, excluding the caller.
func (s *MemoryStore) SearchUsers(ctx context.Context, q string, excludeUserID string, limit int) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []User
	for id, mu := range s.byID {
		if id == excludeUserID {
			continue
		}
		if strings.Contains(strings.ToLower(mu.user.Name), q) || strings.Contains(mu.user.Email, q) {
			out = append(out, mu.user)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
