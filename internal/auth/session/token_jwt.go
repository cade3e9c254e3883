package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Snapshot is the profile data cached inside an access token for display.
// It is a copy taken at issue/rotate time, never a live reference.
type Snapshot struct {
	UserID   string
	Email    string
	Name     string
	Phone    string
	PhotoURL string
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	Snapshot
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Token is a signed token plus its expiry, handed to the client verbatim.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Token classes, embedded as the "cls" claim so one class can never be
// replayed as the other even if the secrets were ever unified.
const (
	classAccess  = "access"
	classRefresh = "refresh"
)

type accessJWTClaims struct {
	Class string `json:"cls"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Photo string `json:"photo,omitempty"`
	jwt.RegisteredClaims
}

type refreshJWTClaims struct {
	Class string `json:"cls"`
	jwt.RegisteredClaims
}

// Manager issues and verifies both token classes. It is stateless and safe
// for concurrent use.
type Manager struct {
	cfg Config
}

// NewManager validates cfg and constructs a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg}, nil
}

// AccessTTL exposes the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

// RefreshTTL exposes the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.cfg.RefreshTTL }

// Issue mints an access+refresh pair for the given profile snapshot.
func (m *Manager) Issue(snap Snapshot, now time.Time) (access Token, refresh Token, err error) {
	access, err = m.IssueAccess(snap, now)
	if err != nil {
		return Token{}, Token{}, err
	}

	refreshExp := now.Add(m.cfg.RefreshTTL)
	rc := refreshJWTClaims{
		Class: classRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   snap.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rc).SignedString(m.cfg.RefreshSecret)
	if err != nil {
		return Token{}, Token{}, err
	}

	return access, Token{Value: signed, ExpiresAt: refreshExp}, nil
}

// IssueAccess mints only an access token (used by rotation).
func (m *Manager) IssueAccess(snap Snapshot, now time.Time) (Token, error) {
	exp := now.Add(m.cfg.AccessTTL)
	ac := accessJWTClaims{
		Class: classAccess,
		Email: snap.Email,
		Name:  snap.Name,
		Phone: snap.Phone,
		Photo: snap.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   snap.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, ac).SignedString(m.cfg.AccessSecret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// VerifyAccess checks signature and expiry of an access token.
// It is pure: no store lookup, no side effects.
func (m *Manager) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AccessClaims{}, ErrMissingToken
	}

	var claims accessJWTClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.cfg.AccessSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AccessClaims{}, ErrExpiredAccess
		}
		return AccessClaims{}, ErrInvalidAccess
	}
	if claims.Class != classAccess || claims.Subject == "" {
		return AccessClaims{}, ErrInvalidAccess
	}

	out := AccessClaims{
		Snapshot: Snapshot{
			UserID:   claims.Subject,
			Email:    claims.Email,
			Name:     claims.Name,
			Phone:    claims.Phone,
			PhotoURL: claims.Photo,
		},
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// VerifyRefresh checks signature and expiry of a refresh token and returns
// the bound user id. A refresh token authorizes exactly one thing: minting a
// new access token for that same identity.
func (m *Manager) VerifyRefresh(token string, now time.Time) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}

	var claims refreshJWTClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.cfg.RefreshSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredRefresh
		}
		return "", ErrInvalidRefresh
	}
	if claims.Class != classRefresh || claims.Subject == "" {
		return "", ErrInvalidRefresh
	}
	return claims.Subject, nil
}
