package session

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrAuthenticationInProgress is returned by operations that are
	// rejected while an authentication attempt is in flight (for example
	// changing the login host).
	ErrAuthenticationInProgress = errors.New("authentication in progress")

	// ErrHandlerNotFound is returned when inserting relative to, or
	// removing, a handler name that isn't in the chain.
	ErrHandlerNotFound = errors.New("handler not found")

	// The taxonomy of authentication failures.  Engines classify their
	// failures onto these sentinels so the error handler chain and callers
	// can match them with errors.Is.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrVersionMismatch    = errors.New("application version mismatch")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrCancelled          = errors.New("authentication cancelled")
	ErrIdentityFetch      = errors.New("identity attribute fetch failed")
	ErrAuthFailed         = errors.New("authentication failed")
)

// IsInvalidCredentials reports whether err is classified as an invalid
// credentials failure, which means the stored credential bundle can no
// longer be exchanged and the user must reauthenticate.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsCancelled reports whether err is the result of a cancelled
// authentication attempt.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
