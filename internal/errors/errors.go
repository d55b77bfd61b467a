package errors

import (
	"errors"
	"fmt"
)

// Common error types for the authentication subsystem
var (
	// Provider errors
	ErrConfigUnavailable   = errors.New("identity provider configuration unavailable")
	ErrStrategyUnavailable = errors.New("authentication strategy unavailable")

	// Login / callback errors
	ErrInvalidCallback = errors.New("invalid callback")
	ErrInvalidState    = errors.New("invalid state parameter")
	ErrInvalidNonce    = errors.New("invalid nonce")
	ErrLoginFailed     = errors.New("login failed")

	// Token errors
	ErrInvalidToken   = errors.New("invalid token")
	ErrRefreshFailed  = errors.New("refresh failed")
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrMissingExpiry  = errors.New("session has no expiry")

	// Session errors
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")

	// User errors
	ErrUserNotFound = errors.New("user not found")
	ErrUserUpsert   = errors.New("failed to upsert user")

	// General errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNotFound      = errors.New("not found")
	ErrInternal      = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// WithKind wraps err so that it matches both kind and err itself.
func WithKind(kind, err error) error {
	if err == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, err)
}
