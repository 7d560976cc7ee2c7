package oauth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-cleanhttp"
)

// ClientSecret is an OAuth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client
// secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Alg represents asymmetric signing algorithms supported for id_token
// verification.
type Alg string

const (
	RS256 Alg = "RS256"
	RS384 Alg = "RS384"
	RS512 Alg = "RS512"
	ES256 Alg = "ES256"
	ES384 Alg = "ES384"
	ES512 Alg = "ES512"
	PS256 Alg = "PS256"
	PS384 Alg = "PS384"
	PS512 Alg = "PS512"
	EdDSA Alg = "EdDSA"
)

var supportedAlgorithms = map[Alg]bool{
	RS256: true,
	RS384: true,
	RS512: true,
	ES256: true,
	ES384: true,
	ES512: true,
	PS256: true,
	PS384: true,
	PS512: true,
	EdDSA: true,
}

// Config represents the configuration for an OAuth provider used by an
// exchange Engine.
type Config struct {
	// ClientID is the relying party's registered client identifier.
	ClientID string

	// ClientSecret is the relying party's client secret.  It is redacted
	// when the config is printed or marshaled.
	ClientSecret ClientSecret

	// Issuer is the provider's issuer URL, used for OIDC discovery.
	Issuer string

	// RedirectURL is the URL the provider redirects authorization
	// responses to.  The host application must route that URL to the
	// handler returned by Engine.CallbackHandler.
	RedirectURL string

	// Scopes is the list of OAuth scopes requested during an interactive
	// exchange.  The openid scope is always included.
	Scopes []string

	// SupportedSigningAlgs is the list of signing algorithms accepted
	// when verifying id_tokens.
	SupportedSigningAlgs []Alg

	// RoundTripper optionally overrides the transport used for all
	// provider HTTP requests.  When nil a pooled cleanhttp transport is
	// used.
	RoundTripper http.RoundTripper
}

// NewConfig composes a new config for an exchange engine and validates it.
// Supported options: WithScopes, WithRoundTripper.
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, supported []Alg, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oauth.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		SupportedSigningAlgs: supported,
		RedirectURL:          redirectURL,
		Scopes:               opts.withScopes,
		RoundTripper:         opts.withRoundTripper,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the config which ensures that it meets the requirements of an
// exchange engine.
func (c *Config) Validate() error {
	const op = "oauth.(Config).Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid (%s): %w", op, c.Issuer, err, ErrInvalidIssuer)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: issuer %s schema is not http or https: %w", op, c.Issuer, ErrInvalidIssuer)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if _, err := url.Parse(c.RedirectURL); err != nil {
		return fmt.Errorf("%s: redirect URL %s is invalid (%s): %w", op, c.RedirectURL, err, ErrInvalidParameter)
	}
	if len(c.SupportedSigningAlgs) == 0 {
		return fmt.Errorf("%s: supported signing algorithms are empty: %w", op, ErrInvalidParameter)
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			return fmt.Errorf("%s: unsupported algorithm %s: %w", op, a, ErrUnsupportedAlg)
		}
	}
	return nil
}

// HTTPClient returns an http.Client for the provider.  The returned client
// uses a pooled transport (so it can reuse connections) unless the config's
// RoundTripper overrides it.
func (c *Config) HTTPClient() *http.Client {
	client := cleanhttp.DefaultPooledClient()
	if c.RoundTripper != nil {
		client.Transport = c.RoundTripper
	}
	return client
}
