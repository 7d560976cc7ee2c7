package session

import "sync"

// Delegate is any observer registered for coordinator lifecycle
// notifications.  A delegate implements whichever of the single-method
// notification interfaces below it cares about; notifications a delegate
// doesn't implement are skipped silently.
//
// The registry holds non-owning references: the delegate's owner manages
// its lifetime and must call RemoveDelegate before discarding it.
// Delegates must be comparable values (a pointer type, in practice).
type Delegate interface{}

// WillBeginAuthenticationDelegate is notified when the coordinator starts
// an authentication attempt, before the exchange begins.
type WillBeginAuthenticationDelegate interface {
	WillBeginAuthentication(info *AuthInfo)
}

// WillDisplayLoginDelegate is notified when an interactive attempt needs
// the user to complete a login flow at authURL.  Presentation is entirely
// the delegate's responsibility; the coordinator never renders UI.
type WillDisplayLoginDelegate interface {
	WillDisplayLogin(authURL string)
}

// DidAuthenticateDelegate is notified after an attempt succeeded and the
// account's identity attributes were retrieved.
type DidAuthenticateDelegate interface {
	DidAuthenticate(account *Account, info *AuthInfo)
}

// DidFinishAuthenticationDelegate is notified once an attempt has fully
// finished, after DidAuthenticate.
type DidFinishAuthenticationDelegate interface {
	DidFinishAuthentication(info *AuthInfo)
}

// AuthenticationFailedDelegate is notified when an attempt fails or is
// cancelled.
type AuthenticationFailedDelegate interface {
	AuthenticationFailed(err error, info *AuthInfo)
}

// LoginHostChangedDelegate is notified when the configured login host is
// set, with the previous host, the new host and whether they differ.
type LoginHostChangedDelegate interface {
	LoginHostChanged(update HostUpdate)
}

// WillLogoutDelegate is notified before the current account is logged out.
type WillLogoutDelegate interface {
	WillLogout(account *Account)
}

// DidLogoutDelegate is notified after the current account was logged out
// and the session state invalidated.
type DidLogoutDelegate interface {
	DidLogout()
}

// delegateRegistry is the set of registered delegates.  Add and remove are
// idempotent.  Dispatch iterates a snapshot taken at call time, so a
// delegate added or removed during a dispatch does not affect that
// dispatch.
type delegateRegistry struct {
	mu        sync.Mutex
	delegates []Delegate
}

// add registers d.  Adding a nil or already-present delegate is a no-op.
func (r *delegateRegistry) add(d Delegate) {
	if d == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.delegates {
		if existing == d {
			return
		}
	}
	r.delegates = append(r.delegates, d)
}

// remove unregisters d.  Removing an absent delegate is a no-op.
func (r *delegateRegistry) remove(d Delegate) {
	if d == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.delegates {
		if existing == d {
			r.delegates = append(r.delegates[:i], r.delegates[i+1:]...)
			return
		}
	}
}

// notify calls fn for every delegate in the current snapshot.  fn is
// responsible for asserting the notification interface it dispatches.
func (r *delegateRegistry) notify(fn func(Delegate)) {
	r.mu.Lock()
	snapshot := make([]Delegate, len(r.delegates))
	copy(snapshot, r.delegates)
	r.mu.Unlock()
	for _, d := range snapshot {
		fn(d)
	}
}
