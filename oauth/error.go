package oauth

import "errors"

var (
	// ErrInvalidParameter is the standard "bad argument" error.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNilParameter is returned when a required argument is nil.
	ErrNilParameter = errors.New("nil parameter")

	// ErrInvalidIssuer is returned when a configured issuer URL is
	// malformed or uses an unsupported scheme.
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrUnsupportedAlg is returned when a configured signing algorithm
	// is not among the supported set.
	ErrUnsupportedAlg = errors.New("unsupported signing algorithm")

	// ErrMissingIDToken is returned when a token response does not carry
	// the id_token the flow requires.
	ErrMissingIDToken = errors.New("id_token is missing")

	// ErrInvalidNonce is returned when an id_token's nonce does not match
	// the nonce sent with the authorization request.
	ErrInvalidNonce = errors.New("invalid nonce")

	// ErrResponseStateInvalid is returned when the state in an
	// authorization response does not match the request that is in
	// flight.
	ErrResponseStateInvalid = errors.New("authorization response state is invalid")

	// ErrNoAuthorizationInFlight is reported when an authorization
	// response arrives while no interactive exchange is waiting for one.
	ErrNoAuthorizationInFlight = errors.New("no authorization in flight")
)
