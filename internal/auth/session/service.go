package session

import (
	"context"
	"time"

	"pigeon/internal/identity"
)

// Service implements the high-level session operations.
//
// It issues token pairs after credential verification, verifies access
// tokens for every protected operation, and performs rotation: a valid
// refresh token mints a fresh access token whose snapshot reflects the
// profile as it is now, not as it was at login.
type Service struct {
	tokens *Manager
	users  identity.Store
}

// NewService constructs a Service from a token manager and the credential
// store boundary.
func NewService(tokens *Manager, users identity.Store) *Service {
	return &Service{tokens: tokens, users: users}
}

// Tokens exposes the underlying token manager.
func (s *Service) Tokens() *Manager { return s.tokens }

// Issue mints a token pair for an already-verified user.
func (s *Service) Issue(user identity.User, now time.Time) (access Token, refresh Token, err error) {
	return s.tokens.Issue(snapshotOf(user), now)
}

// VerifyAccess is the authentication predicate guarding every protected
// operation. Pure signature+expiry check; no store access.
func (s *Service) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	return s.tokens.VerifyAccess(token, now)
}

// Rotate verifies a refresh token, re-reads the current profile, and mints a
// fresh access token bound to the same identity. The refresh token itself is
// not rotated.
func (s *Service) Rotate(ctx context.Context, refreshToken string, now time.Time) (Token, error) {
	userID, err := s.tokens.VerifyRefresh(refreshToken, now)
	if err != nil {
		return Token{}, err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return Token{}, ErrIdentityNotFound
		}
		return Token{}, err
	}

	return s.tokens.IssueAccess(snapshotOf(user), now)
}

func snapshotOf(u identity.User) Snapshot {
	snap := Snapshot{
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Phone:  u.Phone,
	}
	if u.PhotoURL != nil {
		snap.PhotoURL = *u.PhotoURL
	}
	return snap
}
