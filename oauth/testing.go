package oauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local OAuth/OIDC provider for tests.  It serves
// discovery, JWKS, token, userinfo and revocation endpoints over a
// httptest server and signs id_tokens with a generated ES256 key.
//
// It's not a conforming provider: it implements just enough of the
// protocol to exercise an Engine and an Identity.
type TestProvider struct {
	t          *testing.T
	httpServer *httptest.Server

	signer jose.Signer
	keySet jose.JSONWebKeySet

	mu sync.Mutex

	clientID     string
	clientSecret string

	expectedCode  string
	expectedNonce string

	accessToken  string
	refreshToken string

	omitIDToken     bool
	omitRefresh     bool
	disableUserInfo bool
	tokenError      string

	userInfoClaims map[string]interface{}

	revoked       []string
	tokenRequests int
}

// StartTestProvider starts a test provider.  The provider is shut down when
// the test (and all its subtests) completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("unable to generate test signing key: %v", err)
	}
	const keyID = "test-key"
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.ES256,
		Key:       &jose.JSONWebKey{Key: priv, KeyID: keyID},
	}, nil)
	if err != nil {
		t.Fatalf("unable to create test signer: %v", err)
	}
	p := &TestProvider{
		t:      t,
		signer: signer,
		keySet: jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{
				{Key: &priv.PublicKey, KeyID: keyID, Algorithm: string(jose.ES256), Use: "sig"},
			},
		},
		clientID:     "test-client-id",
		clientSecret: "test-client-secret",
		expectedCode: "test-code",
		accessToken:  "test-access-token",
		refreshToken: "test-refresh-token",
		userInfoClaims: map[string]interface{}{
			"sub":                "test-subject",
			"email":              "alice@example.com",
			"preferred_username": "alice",
		},
	}
	p.httpServer = httptest.NewServer(p)
	p.t.Cleanup(p.httpServer.Close)
	return p
}

// Addr returns the provider's issuer URL.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// ClientID returns the client id the provider accepts.
func (p *TestProvider) ClientID() string { return p.clientID }

// ClientSecret returns the client secret the provider accepts.
func (p *TestProvider) ClientSecret() ClientSecret { return ClientSecret(p.clientSecret) }

// SetExpectedAuthCode configures the authorization code the token endpoint
// accepts.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedCode = code
}

// SetExpectedNonce configures the nonce claim written into issued
// id_tokens.
func (p *TestProvider) SetExpectedNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedNonce = nonce
}

// SetOmitIDToken configures the token endpoint to omit id_tokens from its
// responses.
func (p *TestProvider) SetOmitIDToken(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// SetOmitRefreshToken configures the token endpoint to omit refresh tokens
// from its responses.
func (p *TestProvider) SetOmitRefreshToken(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefresh = omit
}

// SetDisableUserInfo removes the userinfo endpoint from the discovery
// document and makes requests to it fail.
func (p *TestProvider) SetDisableUserInfo(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = disable
}

// SetTokenError makes the token endpoint fail every request with the given
// OAuth error code.
func (p *TestProvider) SetTokenError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenError = code
}

// SetUserInfoClaims replaces the claims the userinfo endpoint returns.
func (p *TestProvider) SetUserInfoClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfoClaims = claims
}

// Revoked returns the tokens revoked so far.
func (p *TestProvider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

// TokenRequests returns the number of token endpoint requests served.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// SignIDToken signs an id_token with the provider's key for the given
// subject and extra claims.
func (p *TestProvider) SignIDToken(sub string, extra map[string]interface{}) string {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signIDTokenLocked(sub, extra)
}

func (p *TestProvider) signIDTokenLocked(sub string, extra map[string]interface{}) string {
	claims := map[string]interface{}{
		"iss": p.httpServer.URL,
		"sub": sub,
		"aud": []string{p.clientID},
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"iat": time.Now().Unix(),
	}
	if p.expectedNonce != "" {
		claims["nonce"] = p.expectedNonce
	}
	for k, v := range extra {
		claims[k] = v
	}
	raw, err := jwt.Signed(p.signer).Claims(claims).CompactSerialize()
	if err != nil {
		p.t.Fatalf("unable to sign id_token: %v", err)
	}
	return raw
}

// ServeHTTP implements the provider's endpoints.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		p.writeDiscovery(w)
	case "/jwks":
		p.writeJSON(w, http.StatusOK, p.keySet)
	case "/token":
		p.serveToken(w, req)
	case "/userinfo":
		p.serveUserInfo(w, req)
	case "/revoke":
		p.serveRevoke(w, req)
	default:
		http.NotFound(w, req)
	}
}

func (p *TestProvider) writeDiscovery(w http.ResponseWriter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc := map[string]interface{}{
		"issuer":                                p.httpServer.URL,
		"authorization_endpoint":                p.httpServer.URL + "/authorize",
		"token_endpoint":                        p.httpServer.URL + "/token",
		"jwks_uri":                              p.httpServer.URL + "/jwks",
		"revocation_endpoint":                   p.httpServer.URL + "/revoke",
		"id_token_signing_alg_values_supported": []string{string(jose.ES256)},
	}
	if !p.disableUserInfo {
		doc["userinfo_endpoint"] = p.httpServer.URL + "/userinfo"
	}
	p.writeJSON(w, http.StatusOK, doc)
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenRequests++
	if err := req.ParseForm(); err != nil {
		p.writeTokenError(w, "invalid_request")
		return
	}
	if p.tokenError != "" {
		p.writeTokenError(w, p.tokenError)
		return
	}
	switch req.FormValue("grant_type") {
	case "authorization_code":
		if req.FormValue("code") != p.expectedCode {
			p.writeTokenError(w, "invalid_grant")
			return
		}
	case "refresh_token":
		if req.FormValue("refresh_token") != p.refreshToken {
			p.writeTokenError(w, "invalid_grant")
			return
		}
	default:
		p.writeTokenError(w, "unsupported_grant_type")
		return
	}
	resp := map[string]interface{}{
		"access_token": p.accessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if !p.omitRefresh {
		resp["refresh_token"] = p.refreshToken
	}
	if !p.omitIDToken {
		resp["id_token"] = p.signIDTokenLocked("test-subject", nil)
	}
	p.writeJSON(w, http.StatusOK, resp)
}

func (p *TestProvider) writeTokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, `{"error":%q}`, code)
}

func (p *TestProvider) serveUserInfo(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disableUserInfo {
		http.NotFound(w, req)
		return
	}
	auth := req.Header.Get("Authorization")
	if !strings.EqualFold(auth, "Bearer "+p.accessToken) {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}
	p.writeJSON(w, http.StatusOK, p.userInfoClaims)
}

func (p *TestProvider) serveRevoke(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := req.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	p.revoked = append(p.revoked, req.FormValue("token"))
	w.WriteHeader(http.StatusOK)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		p.t.Errorf("unable to encode response: %v", err)
	}
}
