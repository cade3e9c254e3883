// Package identity is the credential-store boundary: it owns user rows and
// password hashes, and is the only package that reads or writes them.
// Every other component references identities by their immutable user ID.
package identity

import (
	"context"
	"time"
)

// User is the canonical security principal. ID is immutable once created.
type User struct {
	ID       string
	Email    string
	Name     string
	Phone    string
	PhotoURL *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserAuth pairs a user with its opaque password hash for login verification.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a registration request.
type CreateUserInput struct {
	Email    string
	Password string
	Name     string
	Phone    string
	Now      time.Time
}

// UpdateProfileInput describes a partial profile update.
// Nil fields are left untouched. The user ID always comes from the verified
// access token, never from a request body.
type UpdateProfileInput struct {
	UserID   string
	Name     *string
	Phone    *string
	PhotoURL *string
	Now      time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
	UpdateProfile(ctx context.Context, in UpdateProfileInput) (User, error)

	// SearchUsers matches name or email prefix/substring, excluding
	// excludeUserID (the caller itself). Result order is unspecified but stable.
	SearchUsers(ctx context.Context, q string, excludeUserID string, limit int) ([]User, error)
}
