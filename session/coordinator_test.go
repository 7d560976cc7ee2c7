package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCoordinator(t *testing.T, opt ...Option) (*Coordinator, *TestExchangeEngine, *TestIdentityEngine) {
	t.Helper()
	engine := NewTestExchangeEngine()
	identity := &TestIdentityEngine{
		Attrs: Attributes{UserID: "u_alice", Username: "alice", Email: "alice@example.com"},
	}
	c, err := New(engine, identity, opt...)
	require.NoError(t, err)
	return c, engine, identity
}

// recordingDelegate implements every notification interface and records the
// order notifications arrive in.
type recordingDelegate struct {
	mu     sync.Mutex
	events []string
}

func (d *recordingDelegate) record(e string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

func (d *recordingDelegate) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *recordingDelegate) WillBeginAuthentication(*AuthInfo)      { d.record("will-begin") }
func (d *recordingDelegate) WillDisplayLogin(string)                { d.record("will-display") }
func (d *recordingDelegate) DidAuthenticate(*Account, *AuthInfo)    { d.record("did-authenticate") }
func (d *recordingDelegate) DidFinishAuthentication(*AuthInfo)      { d.record("did-finish") }
func (d *recordingDelegate) AuthenticationFailed(error, *AuthInfo)  { d.record("did-fail") }
func (d *recordingDelegate) LoginHostChanged(HostUpdate)            { d.record("host-changed") }
func (d *recordingDelegate) WillLogout(*Account)                    { d.record("will-logout") }
func (d *recordingDelegate) DidLogout()                             { d.record("did-logout") }

func TestNew(t *testing.T) {
	t.Parallel()
	engine := NewTestExchangeEngine()
	identity := &TestIdentityEngine{}
	tests := []struct {
		name      string
		engine    ExchangeEngine
		identity  IdentityEngine
		wantErr   bool
		wantIsErr error
	}{
		{name: "valid", engine: engine, identity: identity},
		{name: "nil-engine", engine: nil, identity: identity, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "nil-identity", engine: engine, identity: nil, wantErr: true, wantIsErr: ErrNilParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := New(tt.engine, tt.identity)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted %q but got %q", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			require.NotNil(got)
			assert.Equal([]string{
				HandlerInvalidCredentials,
				HandlerVersionMismatch,
				HandlerNetworkUnavailable,
				HandlerGeneric,
			}, got.Handlers().Names())
		})
	}
}

func TestCoordinator_Login_Coalescing(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t, WithLoginHost("login.example.com"))

	var order []string
	var infos []*AuthInfo
	started := c.Login(
		func(info *AuthInfo) { order = append(order, "s1"); infos = append(infos, info) },
		func(*AuthInfo, error) { order = append(order, "f1") },
	)
	require.True(started)
	require.True(c.Authenticating())

	queued := c.Login(
		func(info *AuthInfo) { order = append(order, "s2"); infos = append(infos, info) },
		func(*AuthInfo, error) { order = append(order, "f2") },
	)
	require.False(queued)
	assert.Equal(1, engine.BeginCount(), "a queued login must not start a second exchange")

	require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at", RefreshToken: "rt"}))

	assert.Equal([]string{"s1", "s2"}, order)
	require.Len(infos, 2)
	assert.Same(infos[0], infos[1], "all callbacks of an attempt get the same AuthInfo")
	assert.False(c.Authenticating())
	assert.True(c.HaveValidSession())
	require.NotNil(c.CurrentAccount())
	assert.Equal("u_alice", c.CurrentAccount().ID)
}

func TestCoordinator_Login_Concurrent(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t)

	const callers = 16
	var mu sync.Mutex
	var succeeded int
	var startedCalls int

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := c.Login(
				func(*AuthInfo) {
					mu.Lock()
					succeeded++
					mu.Unlock()
				},
				func(*AuthInfo, error) {},
			)
			if started {
				mu.Lock()
				startedCalls++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(1, engine.BeginCount(), "exactly one exchange for any number of concurrent logins")
	assert.Equal(1, startedCalls, "exactly one caller observes started == true")
	require.True(c.Authenticating())

	require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at"}))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(callers, succeeded, "every caller's pair resolves with the attempt's outcome")
}

func TestCoordinator_Login_RefreshType(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t)

	acct := &Account{ID: "u_1", Bundle: CredentialBundle{RefreshToken: "rt"}}
	require.True(c.Login(func(*AuthInfo) {}, nil, WithAccount(acct)))
	require.NotNil(engine.LastInfo())
	assert.Equal(AuthTypeRefresh, engine.LastInfo().Type)
	require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at", RefreshToken: "rt2"}))

	c2, engine2, _ := testCoordinator(t)
	require.True(c2.Login(func(*AuthInfo) {}, nil))
	assert.Equal(AuthTypeNewUser, engine2.LastInfo().Type)
}

func TestCoordinator_Failure_HandlerThenCallbacks(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t)

	var mu sync.Mutex
	var order []string
	record := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, e)
	}

	// replace the built-in network handler with an observable one
	require.NoError(c.Handlers().Remove(HandlerNetworkUnavailable))
	require.NoError(c.Handlers().InsertBefore(HandlerGeneric, &ErrorHandler{
		Name:    HandlerNetworkUnavailable,
		Matches: func(err error, _ *AuthInfo) bool { return errors.Is(err, ErrNetworkUnavailable) },
		Handle:  func(error, *AuthInfo) { record("handler") },
	}))

	var gotErr error
	require.True(c.Login(
		func(*AuthInfo) { record("success") },
		func(_ *AuthInfo, err error) {
			record("failure")
			gotErr = err
		},
	))
	require.NoError(engine.SendFailure(ErrNetworkUnavailable))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal([]string{"handler", "failure"}, order)
	assert.Truef(errors.Is(gotErr, ErrNetworkUnavailable), "wanted %q but got %q", ErrNetworkUnavailable, gotErr)
	assert.False(c.Authenticating())
	assert.False(c.HaveValidSession())
}

func TestCoordinator_Failure_InvalidCredentialsClearsBundle(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t)

	// establish a session first
	require.True(c.Login(func(*AuthInfo) {}, nil))
	require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at", RefreshToken: "rt"}))
	require.True(c.HaveValidSession())

	// now fail a refresh with invalid credentials
	failed := make(chan error, 1)
	require.True(c.Login(func(*AuthInfo) {}, func(_ *AuthInfo, err error) { failed <- err }))
	require.NoError(engine.SendFailure(ErrInvalidCredentials))

	err := <-failed
	assert.True(IsInvalidCredentials(err))
	assert.False(c.HaveValidSession())
	require.NotNil(c.CurrentAccount())
	assert.True(c.CurrentAccount().Bundle.Empty(), "invalid credentials handler clears the stored bundle")
}

func TestCoordinator_IdentityFetchFailure(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	engine := NewTestExchangeEngine()
	identity := &TestIdentityEngine{Err: errors.New("identity service is down")}
	c, err := New(engine, identity)
	require.NoError(err)

	var gotErr error
	require.True(c.Login(
		func(*AuthInfo) { t.Error("success must not fire when identity retrieval fails") },
		func(_ *AuthInfo, err error) { gotErr = err },
	))
	require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at"}))

	require.Error(gotErr)
	assert.Truef(errors.Is(gotErr, ErrIdentityFetch), "wanted %q but got %q", ErrIdentityFetch, gotErr)
	assert.False(c.Authenticating(), "a failed identity fetch must not leave the session half-valid")
	assert.False(c.HaveValidSession())
}

func TestCoordinator_Cancel(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t)

	var mu sync.Mutex
	var failures []error
	var successes int
	fail := func(_ *AuthInfo, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	}
	succeed := func(*AuthInfo) {
		mu.Lock()
		defer mu.Unlock()
		successes++
	}

	require.True(c.Login(succeed, fail))
	require.False(c.Login(succeed, fail))
	require.False(c.Login(succeed, fail))

	c.CancelAuthentication()

	mu.Lock()
	require.Len(failures, 3, "original caller and both queued callers fail")
	for _, err := range failures {
		assert.Truef(errors.Is(err, ErrCancelled), "wanted %q but got %q", ErrCancelled, err)
	}
	mu.Unlock()
	assert.Equal(1, engine.AbortCount())
	assert.False(c.Authenticating())

	// the engine reporting success after cancellation must be ignored
	require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at"}))
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(successes, "no success callback may fire after cancellation")
	assert.False(c.HaveValidSession())
}

func TestCoordinator_Cancel_Idle(t *testing.T) {
	t.Parallel()
	c, engine, _ := testCoordinator(t)
	c.CancelAuthentication()
	assert.Zero(t, engine.AbortCount(), "cancel while idle is a no-op")
}

func TestCoordinator_Logout(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	cookies := &TestCookieStore{}
	c, engine, _ := testCoordinator(t, WithLoginHost("login.example.com"), WithCookieStore(cookies))

	d := &recordingDelegate{}
	c.AddDelegate(d)

	var signals []Signal
	c.Subscribe(SignalUserWillLogout, func(s Signal, _ *Account) { signals = append(signals, s) })
	c.Subscribe(SignalUserLoggedOut, func(s Signal, _ *Account) { signals = append(signals, s) })

	require.True(c.Login(func(*AuthInfo) {}, nil))
	require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at", RefreshToken: "rt"}))
	require.True(c.HaveValidSession())
	assert.Equal([]string{"login.example.com"}, cookies.Installed)

	require.NoError(c.Logout())

	assert.False(c.HaveValidSession())
	assert.Nil(c.CurrentAccount())
	assert.Equal([]Signal{SignalUserWillLogout, SignalUserLoggedOut}, signals)
	require.Len(engine.Revoked(), 1)
	assert.Equal(1, cookies.ClearedAll)

	events := d.Events()
	var logouts int
	for _, e := range events {
		if e == "did-logout" {
			logouts++
		}
	}
	assert.Equal(1, logouts, "did-logout fires exactly once")
}

func TestCoordinator_Logout_InterruptsInflight(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t)

	var gotErr error
	require.True(c.Login(
		func(*AuthInfo) { t.Error("success must not fire for an attempt interrupted by logout") },
		func(_ *AuthInfo, err error) { gotErr = err },
	))
	require.NoError(c.Logout())

	require.Error(gotErr)
	assert.Truef(errors.Is(gotErr, ErrCancelled), "wanted %q but got %q", ErrCancelled, gotErr)
	assert.Equal(1, engine.AbortCount())
	assert.False(c.Authenticating())
}

func TestCoordinator_Logout_OtherAccount(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t)

	d := &recordingDelegate{}
	c.AddDelegate(d)

	// an attempt for the current session is in flight
	require.True(c.Login(func(*AuthInfo) {}, nil))
	require.True(c.Authenticating())

	other := &Account{ID: "u_other", Bundle: CredentialBundle{RefreshToken: "other-rt"}}
	require.NoError(c.Logout(WithAccount(other)))

	assert.True(c.Authenticating(), "logging out a non-current account never interrupts the in-flight attempt")
	assert.True(other.Bundle.Empty(), "the other account's stored credentials are invalidated")
	require.Len(engine.Revoked(), 1)
	assert.Equal("u_other", engine.Revoked()[0].ID)
	for _, e := range d.Events() {
		assert.NotEqual("will-logout", e)
		assert.NotEqual("did-logout", e)
	}
}

func TestCoordinator_SetLoginHost(t *testing.T) {
	t.Parallel()
	t.Run("changed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, _, _ := testCoordinator(t, WithLoginHost("login.example.com"))
		d := &recordingDelegate{}
		c.AddDelegate(d)

		update, err := c.SetLoginHost("sandbox.example.com")
		require.NoError(err)
		assert.Equal(HostUpdate{Previous: "login.example.com", New: "sandbox.example.com", Changed: true}, update)
		assert.Equal("sandbox.example.com", c.LoginHost())
		assert.Equal([]string{"host-changed"}, d.Events())
	})
	t.Run("unchanged", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, _, _ := testCoordinator(t, WithLoginHost("login.example.com"))
		update, err := c.SetLoginHost("login.example.com")
		require.NoError(err)
		assert.False(update.Changed)
	})
	t.Run("empty", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, _, _ := testCoordinator(t)
		_, err := c.SetLoginHost("")
		require.Error(err)
		assert.Truef(errors.Is(err, ErrInvalidParameter), "wanted %q but got %q", ErrInvalidParameter, err)
	})
	t.Run("rejected-while-authenticating", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, engine, _ := testCoordinator(t, WithLoginHost("login.example.com"))
		require.True(c.Login(func(*AuthInfo) {}, nil))

		_, err := c.SetLoginHost("sandbox.example.com")
		require.Error(err)
		assert.Truef(errors.Is(err, ErrAuthenticationInProgress), "wanted %q but got %q", ErrAuthenticationInProgress, err)
		assert.Equal("login.example.com", c.LoginHost())

		require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at"}))
		_, err = c.SetLoginHost("sandbox.example.com")
		assert.NoError(err, "the host may change again once the attempt resolved")
	})
}

func TestCoordinator_DelegateNotificationOrder(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t)
	d := &recordingDelegate{}
	c.AddDelegate(d)

	require.True(c.Login(func(*AuthInfo) {}, nil))
	require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at"}))

	assert.Equal([]string{"will-begin", "did-authenticate", "did-finish"}, d.Events())
}

func TestCoordinator_PanickingCallback(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t)

	var resolved []string
	require.True(c.Login(func(*AuthInfo) {
		resolved = append(resolved, "s1")
		panic("callback bug")
	}, nil))
	require.False(c.Login(func(*AuthInfo) { resolved = append(resolved, "s2") }, nil))

	require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at"}))
	assert.Equal([]string{"s1", "s2"}, resolved, "a panicking callback must not prevent the rest of the drain")
}

func TestCoordinator_Signals(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t)

	var got []Signal
	var accounts []*Account
	sub := c.Subscribe(SignalSessionEstablished, func(s Signal, a *Account) {
		got = append(got, s)
		accounts = append(accounts, a)
	})
	c.Subscribe(SignalUserLoggedIn, func(s Signal, _ *Account) { got = append(got, s) })

	require.True(c.Login(func(*AuthInfo) {}, nil))
	require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at"}))

	assert.Equal([]Signal{SignalSessionEstablished, SignalUserLoggedIn}, got)
	require.Len(accounts, 1)
	assert.Equal("u_alice", accounts[0].ID)

	c.Unsubscribe(sub)
	require.True(c.Login(func(*AuthInfo) {}, nil))
	require.NoError(engine.SendSuccess(CredentialBundle{AccessToken: "at"}))
	assert.Equal([]Signal{SignalSessionEstablished, SignalUserLoggedIn, SignalUserLoggedIn}, got)
}

func TestCoordinator_RetryRemediation(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, engine, _ := testCoordinator(t)

	retried := make(chan bool, 1)
	require.NoError(c.Handlers().PushFront(&ErrorHandler{
		Name:    "retry-on-network",
		Matches: func(err error, _ *AuthInfo) bool { return errors.Is(err, ErrNetworkUnavailable) },
		Handle: func(error, *AuthInfo) {
			// remediation schedules a fresh, independent attempt
			go func() { retried <- c.Login(func(*AuthInfo) {}, nil) }()
		},
	}))

	failed := make(chan error, 1)
	require.True(c.Login(func(*AuthInfo) {}, func(_ *AuthInfo, err error) { failed <- err }))
	require.NoError(engine.SendFailure(ErrNetworkUnavailable))

	assert.True(<-retried, "the retry is a fresh attempt, not a queued caller of the failed one")
	err := <-failed
	assert.Truef(errors.Is(err, ErrNetworkUnavailable), "the original caller still sees the failure")
	assert.Equal(2, engine.BeginCount())
}
