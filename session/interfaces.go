package session

// ExchangeResultSink receives the outcome of one OAuth token exchange.  An
// engine must report to the sink exactly once per BeginExchange call, from
// whatever goroutine the exchange ran on.
type ExchangeResultSink interface {
	// ExchangeSucceeded delivers the credential bundle produced by the
	// exchange.  info is the AuthInfo the exchange was started with.
	ExchangeSucceeded(info *AuthInfo, bundle CredentialBundle)

	// ExchangeFailed delivers the exchange failure, classified onto the
	// session error taxonomy where possible.
	ExchangeFailed(info *AuthInfo, err error)
}

// AttributeResultSink receives the outcome of one identity attribute fetch.
// An engine must report to the sink exactly once per FetchAttributes call.
type AttributeResultSink interface {
	AttributesFetched(attrs Attributes)
	AttributeFetchFailed(err error)
}

// ExchangeEngine is the external OAuth wire-protocol engine.  The
// coordinator never performs the token exchange itself; it drives an engine
// and consumes its results through an ExchangeResultSink.
type ExchangeEngine interface {
	// BeginExchange starts an asynchronous token exchange for account and
	// reports the outcome to sink.  BeginExchange must not block: results
	// arrive on the sink from the engine's own goroutine.
	BeginExchange(account *Account, info *AuthInfo, sink ExchangeResultSink)

	// Abort cooperatively cancels the in-flight exchange, if any.  The
	// engine is not required to stop instantaneously; the coordinator
	// discards any result reported after it recorded the cancellation.
	Abort()

	// Revoke discards the refresh token held for account with the
	// provider, so the account's stored credentials become unusable.
	Revoke(account *Account) error
}

// IdentityEngine is the external identity-attribute retrieval engine.
type IdentityEngine interface {
	// FetchAttributes asynchronously retrieves the identity attributes
	// for the given credential bundle and reports the outcome to sink.
	FetchAttributes(bundle CredentialBundle, sink AttributeResultSink)
}

// CookieStore is the external cookie-management collaborator.  The
// coordinator uses it to reset the session cookie after authentication and
// to clear cookies on logout; it never mutates cookie state itself.
type CookieStore interface {
	ClearCookies(names []string, domains []string) error
	ClearAll() error
	InstallSessionCookie(domain string, bundle CredentialBundle) error
}
