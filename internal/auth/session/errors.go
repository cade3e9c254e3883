package session

import "errors"

var (
	// ErrMissingToken is returned when no token was presented at all.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidAccess is returned when an access token fails signature or
	// structural validation.
	ErrInvalidAccess = errors.New("invalid access token")

	// ErrExpiredAccess is returned when an otherwise valid access token is past
	// its expiry. This is the only error with an automatic recovery path
	// (rotate, then replay the protected call once).
	ErrExpiredAccess = errors.New("access token expired")

	// ErrInvalidRefresh is returned when a refresh token fails signature or
	// structural validation, or when a token of the wrong class is presented.
	ErrInvalidRefresh = errors.New("invalid refresh token")

	// ErrExpiredRefresh is returned when an otherwise valid refresh token is
	// past its expiry. Rotation must never mint from it.
	ErrExpiredRefresh = errors.New("refresh token expired")

	// ErrIdentityNotFound is returned by rotation when the refresh token's
	// subject no longer exists in the credential store.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
