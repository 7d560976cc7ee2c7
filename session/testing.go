package session

import (
	"fmt"
	"sync"
)

// TestExchangeEngine is a controllable ExchangeEngine for tests.  It
// records BeginExchange/Abort/Revoke calls and holds the result sink until
// the test delivers an outcome with SendSuccess or SendFailure, which lets
// tests interleave queued logins and cancellation with attempt resolution.
type TestExchangeEngine struct {
	mu        sync.Mutex
	began     int
	aborted   int
	revoked   []*Account
	sink      ExchangeResultSink
	info      *AuthInfo
	account   *Account
	revokeErr error
}

var _ ExchangeEngine = (*TestExchangeEngine)(nil)

// NewTestExchangeEngine creates a TestExchangeEngine.
func NewTestExchangeEngine() *TestExchangeEngine {
	return &TestExchangeEngine{}
}

// BeginExchange implements the ExchangeEngine interface.  It records the
// call and parks the sink for a later SendSuccess/SendFailure.
func (e *TestExchangeEngine) BeginExchange(account *Account, info *AuthInfo, sink ExchangeResultSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.began++
	e.sink = sink
	e.info = info
	e.account = account
}

// Abort implements the ExchangeEngine interface.
func (e *TestExchangeEngine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted++
}

// Revoke implements the ExchangeEngine interface.  See SetRevokeErr.
func (e *TestExchangeEngine) Revoke(account *Account) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revoked = append(e.revoked, account)
	return e.revokeErr
}

// SendSuccess delivers a successful exchange outcome to the parked sink.
func (e *TestExchangeEngine) SendSuccess(bundle CredentialBundle) error {
	sink, info := e.take()
	if sink == nil {
		return fmt.Errorf("no exchange in flight")
	}
	sink.ExchangeSucceeded(info, bundle)
	return nil
}

// SendFailure delivers a failed exchange outcome to the parked sink.
func (e *TestExchangeEngine) SendFailure(err error) error {
	sink, info := e.take()
	if sink == nil {
		return fmt.Errorf("no exchange in flight")
	}
	sink.ExchangeFailed(info, err)
	return nil
}

func (e *TestExchangeEngine) take() (ExchangeResultSink, *AuthInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sink, info := e.sink, e.info
	e.sink = nil
	return sink, info
}

// SetRevokeErr makes subsequent Revoke calls return err.
func (e *TestExchangeEngine) SetRevokeErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revokeErr = err
}

// BeginCount returns how many exchanges were started.
func (e *TestExchangeEngine) BeginCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.began
}

// AbortCount returns how many aborts were requested.
func (e *TestExchangeEngine) AbortCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// Revoked returns the accounts Revoke was called for.
func (e *TestExchangeEngine) Revoked() []*Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Account(nil), e.revoked...)
}

// LastInfo returns the AuthInfo of the most recent BeginExchange.
func (e *TestExchangeEngine) LastInfo() *AuthInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

// LastAccount returns the account of the most recent BeginExchange.
func (e *TestExchangeEngine) LastAccount() *Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account
}

// TestIdentityEngine is an IdentityEngine for tests.  By default it
// resolves synchronously with Attrs (or Err, when set); with Hold set, the
// fetch parks until SendAttributes/SendError is called.
type TestIdentityEngine struct {
	Attrs Attributes
	Err   error
	Hold  bool

	mu      sync.Mutex
	fetched int
	sink    AttributeResultSink
}

var _ IdentityEngine = (*TestIdentityEngine)(nil)

// FetchAttributes implements the IdentityEngine interface.
func (e *TestIdentityEngine) FetchAttributes(_ CredentialBundle, sink AttributeResultSink) {
	e.mu.Lock()
	e.fetched++
	hold, err, attrs := e.Hold, e.Err, e.Attrs
	if hold {
		e.sink = sink
	}
	e.mu.Unlock()
	if hold {
		return
	}
	if err != nil {
		sink.AttributeFetchFailed(err)
		return
	}
	sink.AttributesFetched(attrs)
}

// SendAttributes resolves a held fetch successfully.
func (e *TestIdentityEngine) SendAttributes(attrs Attributes) error {
	sink := e.takeSink()
	if sink == nil {
		return fmt.Errorf("no fetch in flight")
	}
	sink.AttributesFetched(attrs)
	return nil
}

// SendError resolves a held fetch with an error.
func (e *TestIdentityEngine) SendError(err error) error {
	sink := e.takeSink()
	if sink == nil {
		return fmt.Errorf("no fetch in flight")
	}
	sink.AttributeFetchFailed(err)
	return nil
}

func (e *TestIdentityEngine) takeSink() AttributeResultSink {
	e.mu.Lock()
	defer e.mu.Unlock()
	sink := e.sink
	e.sink = nil
	return sink
}

// FetchCount returns how many fetches were requested.
func (e *TestIdentityEngine) FetchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fetched
}

// TestCookieStore is a CookieStore for tests, recording every call.
type TestCookieStore struct {
	mu         sync.Mutex
	Cleared    [][]string
	ClearedAll int
	Installed  []string
}

var _ CookieStore = (*TestCookieStore)(nil)

// ClearCookies implements the CookieStore interface.
func (s *TestCookieStore) ClearCookies(names []string, domains []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cleared = append(s.Cleared, domains)
	return nil
}

// ClearAll implements the CookieStore interface.
func (s *TestCookieStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClearedAll++
	return nil
}

// InstallSessionCookie implements the CookieStore interface.
func (s *TestCookieStore) InstallSessionCookie(domain string, _ CredentialBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Installed = append(s.Installed, domain)
	return nil
}
