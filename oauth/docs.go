// Package oauth provides the concrete OAuth collaborators for the session
// coordinator: an exchange engine implementing the typical 3-legged OIDC
// authorization code flow (with refresh-token based session refresh and
// token revocation), and an identity engine retrieving account attributes
// from the provider's UserInfo endpoint.
//
// The engine performs no UI work.  Interactive logins surface their
// authorization URL through a configured presenter, and the authorization
// response comes back through the http.HandlerFunc returned by
// Engine.CallbackHandler, which the host mounts on its redirect URL.
package oauth
