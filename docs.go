// authsession coordinates the OAuth lifecycle of an authenticated user
// session: running logins, coalescing concurrent authentication requests,
// routing failures through a pluggable error handler chain, and tearing the
// session down again on logout.
//
// The session package holds the coordinator and its collaborator
// interfaces.  The oauth package provides concrete OAuth/OIDC exchange and
// identity engines, and the cookies package a session cookie store.
//
// See README.md
package authsession
