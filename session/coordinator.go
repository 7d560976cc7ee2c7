package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// HostUpdate describes a login host change: the previous host, the new
// host, and whether there was an actual change.
type HostUpdate struct {
	Previous string
	New      string
	Changed  bool
}

// Coordinator owns the lifecycle of the application's login session.  A
// host application constructs exactly one Coordinator in its composition
// root and passes it to collaborators; it is safe for concurrent use.
//
// The current account, the credential validity flag, the login host, the
// authenticating flag and the pending request queue form one unit of
// state, guarded by a single mutex: the check-and-set in Login, the
// enqueue of late callers and the drain on completion are atomic with
// respect to each other, so at most one exchange is ever in flight no
// matter how many Login calls race.
type Coordinator struct {
	logger   hclog.Logger
	engine   ExchangeEngine
	identity IdentityEngine
	cookies  CookieStore

	handlers  *ErrorHandlerChain
	delegates delegateRegistry
	signals   *signalBus

	mu             sync.Mutex
	account        *Account
	valid          bool
	loginHost      string
	authenticating bool
	inflight       *attempt
	// attemptID is the id of the live attempt; bumping it retires the
	// in-flight attempt so late engine results for it are dropped.
	attemptID uint64
	pending   pendingQueue
}

// New creates a Coordinator that drives the given exchange and identity
// engines.  Supports options: WithLogger, WithLoginHost, WithCookieStore.
func New(engine ExchangeEngine, identity IdentityEngine, opt ...Option) (*Coordinator, error) {
	const op = "session.New"
	if engine == nil {
		return nil, fmt.Errorf("%s: exchange engine is nil: %w", op, ErrNilParameter)
	}
	if identity == nil {
		return nil, fmt.Errorf("%s: identity engine is nil: %w", op, ErrNilParameter)
	}
	opts := getCoordinatorOpts(opt...)
	c := &Coordinator{
		logger:    opts.withLogger,
		engine:    engine,
		identity:  identity,
		cookies:   opts.withCookies,
		loginHost: opts.withLoginHost,
		handlers:  NewErrorHandlerChain(),
		signals:   newSignalBus(),
	}
	c.registerDefaultHandlers()
	return c, nil
}

// attempt adapts one authentication attempt onto the engine result sinks.
// Holding the attempt's id lets the coordinator tell results for the live
// attempt apart from results for one that was cancelled or superseded.
type attempt struct {
	c       *Coordinator
	id      uint64
	info    *AuthInfo
	account *Account
}

var (
	_ ExchangeResultSink  = (*attempt)(nil)
	_ AttributeResultSink = (*attempt)(nil)
)

func (a *attempt) ExchangeSucceeded(_ *AuthInfo, bundle CredentialBundle) {
	a.c.exchangeSucceeded(a, bundle)
}

func (a *attempt) ExchangeFailed(_ *AuthInfo, err error) {
	a.c.failAttempt(a, err)
}

func (a *attempt) AttributesFetched(attrs Attributes) {
	a.c.attributesFetched(a, attrs)
}

func (a *attempt) AttributeFetchFailed(err error) {
	a.c.failAttempt(a, fmt.Errorf("%w: %v", ErrIdentityFetch, err))
}

// Login starts the login flow for the target account (see WithAccount), or
// the current account, or a brand new account when there is neither.  It
// returns true when this call started an exchange.  When an attempt is
// already in flight it returns false and queues the callback pair, to be
// resolved with the same outcome as the in-flight attempt, in arrival
// order; no second exchange is started.
//
// Login never blocks on the exchange: the outcome arrives via onSuccess or
// onFailure, exactly one of which is invoked exactly once per call.
func (c *Coordinator) Login(onSuccess SuccessFunc, onFailure FailureFunc, opt ...Option) bool {
	opts := getLoginOpts(opt...)

	c.mu.Lock()
	if c.authenticating {
		c.pending.enqueue(onSuccess, onFailure)
		queued := c.pending.len() - 1
		c.mu.Unlock()
		c.logger.Debug("login queued behind in-flight attempt", "queued", queued)
		return false
	}

	target := opts.withAccount
	if target == nil {
		target = c.account
	}
	if target == nil {
		target = &Account{LoginHost: c.loginHost}
	}
	typ := AuthTypeNewUser
	if target.Bundle.RefreshToken != "" {
		typ = AuthTypeRefresh
	}
	info, err := newAuthInfo(typ, c.loginHost)
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("unable to start authentication", "error", err)
		if onFailure != nil {
			onFailure(&AuthInfo{Type: typ, LoginHost: c.LoginHost()}, err)
		}
		return false
	}

	c.attemptID++
	a := &attempt{c: c, id: c.attemptID, info: info, account: target}
	c.inflight = a
	c.authenticating = true
	c.pending.enqueue(onSuccess, onFailure)
	c.mu.Unlock()

	c.logger.Debug("starting authentication",
		"attempt_id", info.AttemptID, "type", info.Type.String(), "login_host", info.LoginHost)
	c.delegates.notify(func(d Delegate) {
		if o, ok := d.(WillBeginAuthenticationDelegate); ok {
			o.WillBeginAuthentication(info)
		}
	})
	c.engine.BeginExchange(target, info, a)
	return true
}

// NotifyLoginURL surfaces the URL of an interactive login flow to the
// registered presentation delegates.  Engines that require the user to
// complete a browser flow call this (via their configured presenter)
// before waiting on the authorization response.
func (c *Coordinator) NotifyLoginURL(authURL string) {
	c.delegates.notify(func(d Delegate) {
		if o, ok := d.(WillDisplayLoginDelegate); ok {
			o.WillDisplayLogin(authURL)
		}
	})
}

func (c *Coordinator) exchangeSucceeded(a *attempt, bundle CredentialBundle) {
	c.mu.Lock()
	if !c.authenticating || a.id != c.attemptID {
		c.mu.Unlock()
		c.logger.Debug("dropping exchange result for retired attempt", "attempt_id", a.info.AttemptID)
		return
	}
	// The session is not valid yet: authenticating stays true until the
	// identity attributes have been retrieved.
	a.account.Bundle = bundle
	if a.account.LoginHost == "" {
		a.account.LoginHost = a.info.LoginHost
	}
	c.account = a.account
	c.mu.Unlock()

	c.logger.Debug("exchange succeeded, fetching identity attributes", "attempt_id", a.info.AttemptID)
	c.identity.FetchAttributes(bundle, a)
}

func (c *Coordinator) attributesFetched(a *attempt, attrs Attributes) {
	c.mu.Lock()
	if !c.authenticating || a.id != c.attemptID {
		c.mu.Unlock()
		c.logger.Debug("dropping identity result for retired attempt", "attempt_id", a.info.AttemptID)
		return
	}
	if attrs.UserID != "" {
		c.account.ID = attrs.UserID
	}
	c.account.Attributes = attrs
	c.valid = true
	c.authenticating = false
	c.inflight = nil
	callbacks := c.pending.drain()
	account := c.account
	c.mu.Unlock()

	c.resetSessionCookie(account)

	snapshot := account.clone()
	c.delegates.notify(func(d Delegate) {
		if o, ok := d.(DidAuthenticateDelegate); ok {
			o.DidAuthenticate(snapshot, a.info)
		}
	})
	c.delegates.notify(func(d Delegate) {
		if o, ok := d.(DidFinishAuthenticationDelegate); ok {
			o.DidFinishAuthentication(a.info)
		}
	})
	if err := resolveSuccess(callbacks, a.info); err != nil {
		c.logger.Error("success callback failed", "attempt_id", a.info.AttemptID, "error", err)
	}
	c.signals.emit(SignalSessionEstablished, snapshot)
	c.signals.emit(SignalUserLoggedIn, snapshot)
	c.logger.Info("authentication finished", "attempt_id", a.info.AttemptID, "account_id", snapshot.ID)
}

// failAttempt resolves the attempt as failed: the in-flight attempt is
// retired and its queue drained first, so a remediation action that
// retries (go c.Login(...)) starts a genuinely fresh attempt; then the
// handler chain runs, delegates are notified, and every callback pair is
// resolved with the same cause.
func (c *Coordinator) failAttempt(a *attempt, cause error) {
	c.mu.Lock()
	if !c.authenticating || a.id != c.attemptID {
		c.mu.Unlock()
		c.logger.Debug("dropping failure for retired attempt", "attempt_id", a.info.AttemptID)
		return
	}
	c.valid = false
	c.authenticating = false
	c.inflight = nil
	callbacks := c.pending.drain()
	c.mu.Unlock()

	c.logger.Warn("authentication failed", "attempt_id", a.info.AttemptID, "error", cause)
	if !c.handlers.evaluate(cause, a.info) {
		c.genericFailureAction(cause, a.info)
	}
	c.delegates.notify(func(d Delegate) {
		if o, ok := d.(AuthenticationFailedDelegate); ok {
			o.AuthenticationFailed(cause, a.info)
		}
	})
	if err := resolveFailure(callbacks, a.info, cause); err != nil {
		c.logger.Error("failure callback failed", "attempt_id", a.info.AttemptID, "error", err)
	}
}

// CancelAuthentication aborts the in-flight attempt, if any.  The exchange
// engine is signalled to abort, and the original caller's and every queued
// failure callback is resolved with ErrCancelled.  No success callback for
// the attempt will be honored afterwards, even if the engine later reports
// a success.
func (c *Coordinator) CancelAuthentication() {
	c.mu.Lock()
	if !c.authenticating {
		c.mu.Unlock()
		return
	}
	a := c.inflight
	// retire the attempt before signalling the engine, so a result racing
	// with the abort is dropped
	c.attemptID++
	c.inflight = nil
	c.authenticating = false
	callbacks := c.pending.drain()
	c.mu.Unlock()

	c.engine.Abort()
	c.logger.Info("authentication cancelled", "attempt_id", a.info.AttemptID)
	c.delegates.notify(func(d Delegate) {
		if o, ok := d.(AuthenticationFailedDelegate); ok {
			o.AuthenticationFailed(ErrCancelled, a.info)
		}
	})
	if err := resolveFailure(callbacks, a.info, ErrCancelled); err != nil {
		c.logger.Error("failure callback failed", "attempt_id", a.info.AttemptID, "error", err)
	}
}

// Logout logs out the current account: any in-flight attempt is cancelled
// (its callbacks resolve with ErrCancelled), delegates and signal
// subscribers are notified, the session state is invalidated, the refresh
// token is revoked with the provider and session cookies are cleared.
//
// With WithAccount naming a non-current account, only that account's
// stored credential state is invalidated; the active session, the
// authenticating flag and session-wide notifications are untouched.
func (c *Coordinator) Logout(opt ...Option) error {
	const op = "session.(Coordinator).Logout"
	opts := getLogoutOpts(opt...)

	c.mu.Lock()
	current := c.account
	if opts.withAccount != nil && !sameAccount(opts.withAccount, current) {
		c.mu.Unlock()
		return c.logoutOther(opts.withAccount)
	}
	c.mu.Unlock()

	c.CancelAuthentication()

	c.mu.Lock()
	account := c.account
	c.mu.Unlock()

	c.signals.emit(SignalUserWillLogout, account)
	c.delegates.notify(func(d Delegate) {
		if o, ok := d.(WillLogoutDelegate); ok {
			o.WillLogout(account)
		}
	})

	c.mu.Lock()
	c.account = nil
	c.valid = false
	c.mu.Unlock()

	var errs *multierror.Error
	if account != nil {
		if err := c.engine.Revoke(account); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: revoke: %w", op, err))
		}
	}
	if c.cookies != nil {
		if err := c.cookies.ClearAll(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: clear cookies: %w", op, err))
		}
	}

	c.delegates.notify(func(d Delegate) {
		if o, ok := d.(DidLogoutDelegate); ok {
			o.DidLogout()
		}
	})
	c.signals.emit(SignalUserLoggedOut, account)
	c.logger.Info("logged out")
	return errs.ErrorOrNil()
}

// logoutOther invalidates a non-current account's stored credential state.
// It never emits session-wide notifications and never touches the
// in-flight attempt.
func (c *Coordinator) logoutOther(account *Account) error {
	const op = "session.(Coordinator).Logout"
	c.logger.Debug("logging out non-current account", "account_id", account.ID)
	err := c.engine.Revoke(account)
	account.Bundle = CredentialBundle{}
	if err != nil {
		return fmt.Errorf("%s: revoke: %w", op, err)
	}
	return nil
}

// SetLoginHost updates the configured login host and notifies the
// LoginHostChanged delegates with the previous host, the new host and
// whether they differ.  Changing the host while an attempt is in flight is
// rejected with ErrAuthenticationInProgress; the host is left unchanged
// and no notification fires.
func (c *Coordinator) SetLoginHost(host string) (HostUpdate, error) {
	const op = "session.(Coordinator).SetLoginHost"
	if host == "" {
		return HostUpdate{}, fmt.Errorf("%s: login host is empty: %w", op, ErrInvalidParameter)
	}
	c.mu.Lock()
	if c.authenticating {
		c.mu.Unlock()
		return HostUpdate{}, fmt.Errorf("%s: cannot change login host during authentication: %w", op, ErrAuthenticationInProgress)
	}
	previous := c.loginHost
	c.loginHost = host
	c.mu.Unlock()

	update := HostUpdate{Previous: previous, New: host, Changed: previous != host}
	c.delegates.notify(func(d Delegate) {
		if o, ok := d.(LoginHostChangedDelegate); ok {
			o.LoginHostChanged(update)
		}
	})
	return update, nil
}

// LoginHost returns the currently configured login host.
func (c *Coordinator) LoginHost() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginHost
}

// Authenticating reports whether an authentication attempt is in flight.
func (c *Coordinator) Authenticating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticating
}

// HaveValidSession reports whether there is a current account whose
// credentials and identity attributes were established and not since
// invalidated.
func (c *Coordinator) HaveValidSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid && c.account != nil
}

// CurrentAccount returns a copy of the current account, or nil when nobody
// is logged in.
func (c *Coordinator) CurrentAccount() *Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account.clone()
}

// AddDelegate registers d for lifecycle notifications.  Adding an
// already-registered delegate is a no-op.
func (c *Coordinator) AddDelegate(d Delegate) {
	c.delegates.add(d)
}

// RemoveDelegate unregisters d.  Removing an unknown delegate is a no-op.
func (c *Coordinator) RemoveDelegate(d Delegate) {
	c.delegates.remove(d)
}

// Handlers returns the coordinator's error handler chain, so callers can
// reorder, replace or extend the built-in handlers.
func (c *Coordinator) Handlers() *ErrorHandlerChain {
	return c.handlers
}

// Subscribe registers fn for the given process-wide signal.  Subscribers
// run synchronously, in registration order, on the goroutine resolving the
// attempt or performing the logout.
func (c *Coordinator) Subscribe(s Signal, fn SignalFunc) *Subscription {
	return c.signals.subscribe(s, fn)
}

// Unsubscribe removes a signal subscription.
func (c *Coordinator) Unsubscribe(sub *Subscription) {
	c.signals.unsubscribe(sub)
}

// registerDefaultHandlers installs the built-in error handlers in priority
// order.  Their actions are deliberately small: remediation that needs the
// application's help (re-prompting for login, surfacing connectivity) goes
// through delegates and signals, not through handler side effects.
func (c *Coordinator) registerDefaultHandlers() {
	_ = c.handlers.PushBack(&ErrorHandler{
		Name:    HandlerInvalidCredentials,
		Matches: func(err error, _ *AuthInfo) bool { return IsInvalidCredentials(err) },
		Handle: func(err error, info *AuthInfo) {
			c.clearStoredCredentials()
			c.logger.Warn("stored credentials are invalid and were cleared; reauthentication required",
				"attempt_id", info.AttemptID)
		},
	})
	_ = c.handlers.PushBack(&ErrorHandler{
		Name:    HandlerVersionMismatch,
		Matches: func(err error, _ *AuthInfo) bool { return errors.Is(err, ErrVersionMismatch) },
		Handle: func(err error, info *AuthInfo) {
			c.logger.Error("application version is no longer supported by the login host",
				"attempt_id", info.AttemptID, "error", err)
		},
	})
	_ = c.handlers.PushBack(&ErrorHandler{
		Name:    HandlerNetworkUnavailable,
		Matches: func(err error, _ *AuthInfo) bool { return errors.Is(err, ErrNetworkUnavailable) },
		Handle: func(err error, info *AuthInfo) {
			c.logger.Warn("network unavailable, authentication will be retried by the caller",
				"attempt_id", info.AttemptID)
		},
	})
	_ = c.handlers.PushBack(&ErrorHandler{
		Name:    HandlerGeneric,
		Matches: func(error, *AuthInfo) bool { return true },
		Handle:  c.genericFailureAction,
	})
}

// genericFailureAction is the fallback applied when no handler in the
// chain matches a failure.
func (c *Coordinator) genericFailureAction(err error, info *AuthInfo) {
	c.logger.Error("authentication failed", "attempt_id", info.AttemptID, "error", err)
}

// clearStoredCredentials wipes the current account's credential bundle and
// marks the session invalid, leaving the account itself in place so a
// fresh login can target it.
func (c *Coordinator) clearStoredCredentials() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.account != nil {
		c.account.Bundle = CredentialBundle{}
	}
	c.valid = false
}

// resetSessionCookie clears stale session cookies for the account's login
// host and installs a fresh one from the account's bundle.  Cookie
// problems never fail a login; they are logged and the session proceeds.
func (c *Coordinator) resetSessionCookie(account *Account) {
	if c.cookies == nil || account == nil {
		return
	}
	domain := cookieDomain(account.LoginHost)
	if domain == "" {
		return
	}
	if err := c.cookies.ClearCookies(nil, []string{domain}); err != nil {
		c.logger.Warn("unable to clear session cookies", "domain", domain, "error", err)
	}
	if err := c.cookies.InstallSessionCookie(domain, account.Bundle); err != nil {
		c.logger.Warn("unable to install session cookie", "domain", domain, "error", err)
	}
}

// cookieDomain extracts the cookie domain from a login host, which may be
// a bare host name or a URL.
func cookieDomain(loginHost string) string {
	if loginHost == "" {
		return ""
	}
	if !strings.Contains(loginHost, "://") {
		return loginHost
	}
	u, err := url.Parse(loginHost)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
