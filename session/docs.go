// Package session provides the authentication session coordinator for an
// application: a single component, constructed once by the application's
// composition root, that owns the lifecycle of an OAuth-based login session.
// It initiates login, coalesces concurrent login requests onto one in-flight
// exchange, consults an ordered chain of error handlers on failure, fans out
// lifecycle notifications to registered delegates, and tears the session down
// on logout.
//
// The actual OAuth token exchange and identity attribute retrieval are
// performed by external collaborators behind the ExchangeEngine and
// IdentityEngine interfaces (see the oauth package for implementations).
package session
