package errors

import (
	"errors"
	"fmt"
)

// Error kinds raised inside the session core. None of them cross the session manager
// boundary as a fatal condition; callers turn them into state transitions.
var (
	// Callback errors
	ErrCallback               = errors.New("callback failed")
	ErrMissingParameters      = errors.New("missing code or state parameter")
	ErrStateMismatch          = errors.New("state does not match pending request")
	ErrPendingRequestNotFound = errors.New("no pending authorization request")
	ErrPendingRequestExpired  = errors.New("pending authorization request expired")
	ErrProviderRejected       = errors.New("identity provider rejected the request")
	ErrInvalidNonce           = errors.New("invalid nonce")
	ErrNoIDToken              = errors.New("no id_token in token response")
	ErrCancelled              = errors.New("cancelled by user")

	// Session lifecycle errors
	ErrRestore    = errors.New("restore session failed")
	ErrRenewal    = errors.New("silent renewal failed")
	ErrNoSession  = errors.New("no session")
	ErrNoRefresh  = errors.New("session has no refresh token")
	ErrLogout     = errors.New("provider sign-out failed")
	ErrNoEndpoint = errors.New("provider has no end_session_endpoint")

	// Store errors
	ErrStore    = errors.New("secure store failure")
	ErrNotFound = errors.New("not found")

	// Backend API errors
	ErrUnauthorized = errors.New("backend rejected the access token")
	ErrRequest      = errors.New("backend request failed")

	// General errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNotStarted    = errors.New("not started")
)

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}

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

// Join combines a kind with its cause so both match with Is.
func Join(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}
