package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"golang.org/x/oauth2"

	"github.com/hashicorp/go-authsession/session"
)

// Engine is an OAuth exchange engine.  Interactive exchanges run the OIDC
// authorization code flow: the authorization URL goes out through the
// engine's presenter and the authorization response comes back through the
// handler returned by CallbackHandler.  Exchanges for accounts that already
// hold a refresh token use the token endpoint directly.
type Engine struct {
	config    *Config
	logger    hclog.Logger
	presenter Presenter

	provider *oidc.Provider
	client   *http.Client

	// backgroundCtx is the engine's lifetime context.  It's used as the
	// parent of every exchange context and canceled by Done().
	backgroundCtx    context.Context
	backgroundCancel context.CancelFunc

	mu sync.Mutex

	// inflight holds the cancel func for the exchange currently in
	// flight, if any.
	inflight *exchangeHandle

	// authorization receives the response for the interactive exchange
	// currently waiting on its callback, if any.
	authorization chan authorizationResponse
}

// exchangeHandle identifies one in-flight exchange so a finished exchange
// only clears its own registration.
type exchangeHandle struct {
	cancel context.CancelFunc
}

// authorizationResponse carries the parameters of one authorization
// response from the callback handler to the waiting exchange.
type authorizationResponse struct {
	state string
	code  string
	err   error
}

var _ session.ExchangeEngine = (*Engine)(nil)

// NewEngine creates and initializes an Engine for the provider configured
// by c, performing OIDC discovery against the issuer.  Supported options:
// WithLogger, WithPresenter.
func NewEngine(ctx context.Context, c *Config, opt ...Option) (*Engine, error) {
	const op = "oauth.NewEngine"
	opts := getEngineOpts(opt...)
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	client := c.HTTPClient()

	// The discovery document (and its keyset) must outlive the ctx used
	// during discovery, so the engine carries its own lifetime context.
	engineCtx, engineCancel := context.WithCancel(context.Background())

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), c.Issuer)
	if err != nil {
		engineCancel()
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	return &Engine{
		config:           c,
		logger:           opts.withLogger,
		presenter:        opts.withPresenter,
		provider:         provider,
		client:           client,
		backgroundCtx:    engineCtx,
		backgroundCancel: engineCancel,
	}, nil
}

// Done with the engine's background resources.  Aborts any exchange in
// flight.
func (e *Engine) Done() {
	if e == nil {
		return
	}
	e.Abort()
	e.backgroundCancel()
	if t, ok := e.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// BeginExchange starts an asynchronous exchange for the given account.
// When the account already holds a refresh token and the attempt is a
// refresh the engine goes straight to the token endpoint; otherwise it runs
// the interactive authorization code flow.  Exactly one result is reported
// to the sink.
func (e *Engine) BeginExchange(account *session.Account, info *session.AuthInfo, sink session.ExchangeResultSink) {
	ctx, cancel := context.WithCancel(e.backgroundCtx)
	handle := &exchangeHandle{cancel: cancel}

	e.mu.Lock()
	if e.inflight != nil {
		// a previous exchange was never aborted; retire it now so its
		// result cannot race this one
		e.inflight.cancel()
	}
	e.inflight = handle
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			if e.inflight == handle {
				e.inflight = nil
			}
			e.mu.Unlock()
			cancel()
		}()

		var bundle session.CredentialBundle
		var err error
		if account != nil && account.Bundle.RefreshToken != "" && info.Type == session.AuthTypeRefresh {
			bundle, err = e.refresh(ctx, account)
		} else {
			bundle, err = e.authorize(ctx, info)
		}
		if err != nil {
			sink.ExchangeFailed(info, e.classify(err))
			return
		}
		sink.ExchangeSucceeded(info, bundle)
	}()
}

// Abort cancels the exchange currently in flight, if any.  The aborted
// exchange reports a cancellation failure to its sink.
func (e *Engine) Abort() {
	e.mu.Lock()
	handle := e.inflight
	e.inflight = nil
	e.authorization = nil
	e.mu.Unlock()
	if handle != nil {
		handle.cancel()
	}
}

// Revoke revokes the account's refresh token at the provider's revocation
// endpoint (RFC 7009).  Providers that don't advertise one are skipped
// without error.
func (e *Engine) Revoke(account *session.Account) error {
	const op = "oauth.(Engine).Revoke"
	if account == nil || account.Bundle.RefreshToken == "" {
		return nil
	}
	var disc struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := e.provider.Claims(&disc); err != nil {
		return fmt.Errorf("%s: unable to read discovery document: %w", op, err)
	}
	if disc.RevocationEndpoint == "" {
		e.logger.Debug("provider does not advertise a revocation endpoint, skipping revocation")
		return nil
	}
	form := url.Values{
		"token":           {account.Bundle.RefreshToken},
		"token_type_hint": {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(e.backgroundCtx, http.MethodPost, disc.RevocationEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: unable to create revocation request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(e.config.ClientID, string(e.config.ClientSecret))
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: revocation request failed: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: revocation endpoint returned %d: %w", op, resp.StatusCode, session.ErrAuthFailed)
	}
	return nil
}

// CallbackHandler returns an http.HandlerFunc which handles the provider's
// authorization response.  The host application must route the config's
// RedirectURL to this handler.
func (e *Engine) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "oauth.(Engine).CallbackHandler"
		resp := authorizationResponse{
			state: req.FormValue("state"),
			code:  req.FormValue("code"),
		}
		if errParam := req.FormValue("error"); errParam != "" {
			resp.err = fmt.Errorf("%s: authorization failed: %s %s: %w",
				op, errParam, req.FormValue("error_description"), classifyAuthError(errParam))
		}

		e.mu.Lock()
		ch := e.authorization
		e.authorization = nil
		e.mu.Unlock()

		if ch == nil {
			e.logger.Warn("dropping authorization response", "error", ErrNoAuthorizationInFlight)
			http.Error(w, ErrNoAuthorizationInFlight.Error(), http.StatusConflict)
			return
		}
		ch <- resp

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if resp.err != nil {
			fmt.Fprintln(w, "Authentication failed. You may close this window.")
			return
		}
		fmt.Fprintln(w, "Authentication complete. You may close this window and return to the application.")
	}
}

// authorize runs one interactive authorization code exchange: it presents
// the authorization URL, waits for the callback response, then exchanges
// the code and verifies the returned id_token.
func (e *Engine) authorize(ctx context.Context, info *session.AuthInfo) (session.CredentialBundle, error) {
	const op = "oauth.(Engine).authorize"
	state, err := uuid.GenerateUUID()
	if err != nil {
		return session.CredentialBundle{}, fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	nonce, err := uuid.GenerateUUID()
	if err != nil {
		return session.CredentialBundle{}, fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}

	ch := make(chan authorizationResponse, 1)
	e.mu.Lock()
	e.authorization = ch
	e.mu.Unlock()

	authURL := e.oauth2Config().AuthCodeURL(state, oidc.Nonce(nonce))
	if e.presenter != nil {
		e.presenter(authURL)
	} else {
		e.logger.Info("complete the login in your browser", "url", authURL)
	}

	var resp authorizationResponse
	select {
	case resp = <-ch:
	case <-ctx.Done():
		e.mu.Lock()
		if e.authorization == ch {
			e.authorization = nil
		}
		e.mu.Unlock()
		return session.CredentialBundle{}, fmt.Errorf("%s: exchange aborted: %w", op, ctx.Err())
	}
	if resp.err != nil {
		return session.CredentialBundle{}, resp.err
	}
	if resp.state != state {
		return session.CredentialBundle{}, fmt.Errorf("%s: %w", op, ErrResponseStateInvalid)
	}

	tok, err := e.oauth2Config().Exchange(oidc.ClientContext(ctx, e.client), resp.code)
	if err != nil {
		return session.CredentialBundle{}, fmt.Errorf("%s: unable to exchange authorization code: %w", op, err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return session.CredentialBundle{}, fmt.Errorf("%s: token response has no id_token: %w", op, ErrMissingIDToken)
	}
	idToken, err := e.verifier().Verify(oidc.ClientContext(ctx, e.client), rawIDToken)
	if err != nil {
		return session.CredentialBundle{}, fmt.Errorf("%s: unable to verify id_token: %w", op, err)
	}
	if idToken.Nonce != nonce {
		return session.CredentialBundle{}, fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}
	return session.CredentialBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      rawIDToken,
	}, nil
}

// refresh exchanges the account's refresh token for a fresh credential
// bundle at the token endpoint.
func (e *Engine) refresh(ctx context.Context, account *session.Account) (session.CredentialBundle, error) {
	const op = "oauth.(Engine).refresh"
	ts := e.oauth2Config().TokenSource(oidc.ClientContext(ctx, e.client), &oauth2.Token{
		RefreshToken: account.Bundle.RefreshToken,
	})
	tok, err := ts.Token()
	if err != nil {
		return session.CredentialBundle{}, fmt.Errorf("%s: unable to refresh token: %w", op, err)
	}
	bundle := session.CredentialBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      account.Bundle.IDToken,
	}
	if bundle.RefreshToken == "" {
		// providers that don't rotate refresh tokens omit them from the
		// refresh response
		bundle.RefreshToken = account.Bundle.RefreshToken
	}
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		if _, err := e.verifier().Verify(oidc.ClientContext(ctx, e.client), raw); err != nil {
			return session.CredentialBundle{}, fmt.Errorf("%s: unable to verify refreshed id_token: %w", op, err)
		}
		bundle.IDToken = raw
	}
	return bundle, nil
}

// classify maps a raw exchange error onto the session package's failure
// sentinels so the coordinator's error handler chain can route it.
func (e *Engine) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%v: %w", err, session.ErrCancelled)
	case errors.Is(err, session.ErrCancelled),
		errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, session.ErrVersionMismatch),
		errors.Is(err, session.ErrNetworkUnavailable):
		return err
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch tokenErrorCode(retrieveErr) {
		case "invalid_grant":
			return fmt.Errorf("%v: %w", err, session.ErrInvalidCredentials)
		case "unauthorized_client", "invalid_client":
			return fmt.Errorf("%v: %w", err, session.ErrVersionMismatch)
		}
		return fmt.Errorf("%v: %w", err, session.ErrAuthFailed)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%v: %w", err, session.ErrNetworkUnavailable)
	}
	return fmt.Errorf("%v: %w", err, session.ErrAuthFailed)
}

// classifyAuthError maps an authorization response error code onto the
// session package's failure sentinels.
func classifyAuthError(code string) error {
	switch code {
	case "access_denied":
		return session.ErrCancelled
	case "unauthorized_client", "invalid_client":
		return session.ErrVersionMismatch
	case "temporarily_unavailable", "server_error":
		return session.ErrNetworkUnavailable
	}
	return session.ErrAuthFailed
}

// tokenErrorCode extracts the OAuth error code from a token endpoint error
// response body.
func tokenErrorCode(err *oauth2.RetrieveError) string {
	var body struct {
		Error string `json:"error"`
	}
	if jsonErr := json.Unmarshal(err.Body, &body); jsonErr != nil {
		return ""
	}
	return body.Error
}

func (e *Engine) oauth2Config() *oauth2.Config {
	scopes := []string{oidc.ScopeOpenID}
	for _, s := range e.config.Scopes {
		if s == oidc.ScopeOpenID {
			continue
		}
		scopes = append(scopes, s)
	}
	return &oauth2.Config{
		ClientID:     e.config.ClientID,
		ClientSecret: string(e.config.ClientSecret),
		Endpoint:     e.provider.Endpoint(),
		RedirectURL:  e.config.RedirectURL,
		Scopes:       scopes,
	}
}

func (e *Engine) verifier() *oidc.IDTokenVerifier {
	algs := make([]string, 0, len(e.config.SupportedSigningAlgs))
	for _, a := range e.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	return e.provider.Verifier(&oidc.Config{
		ClientID:             e.config.ClientID,
		SupportedSigningAlgs: algs,
	})
}
