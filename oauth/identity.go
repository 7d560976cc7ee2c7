package oauth

import (
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/hashicorp/go-authsession/session"
)

// Identity retrieves identity attributes for a credential bundle from the
// provider's UserInfo endpoint, falling back to the bundle's id_token
// claims when UserInfo is unavailable.
type Identity struct {
	engine *Engine
	logger hclog.Logger
}

type identityOptions struct {
	withLogger hclog.Logger
}

func getIdentityOpts(opt ...Option) identityOptions {
	opts := identityOptions{
		withLogger: hclog.NewNullLogger(),
	}
	ApplyOpts(&opts, opt...)
	return opts
}

var _ session.IdentityEngine = (*Identity)(nil)

// NewIdentity creates an identity engine sharing the exchange engine's
// provider and HTTP client.  Supported options: WithLogger.
func NewIdentity(e *Engine, opt ...Option) (*Identity, error) {
	const op = "oauth.NewIdentity"
	if e == nil {
		return nil, fmt.Errorf("%s: exchange engine is nil: %w", op, ErrNilParameter)
	}
	opts := getIdentityOpts(opt...)
	return &Identity{
		engine: e,
		logger: opts.withLogger,
	}, nil
}

// FetchAttributes asynchronously resolves identity attributes for the
// bundle and reports exactly one result to the sink.
func (i *Identity) FetchAttributes(bundle session.CredentialBundle, sink session.AttributeResultSink) {
	go func() {
		attrs, err := i.fetch(bundle)
		if err != nil {
			sink.AttributeFetchFailed(err)
			return
		}
		sink.AttributesFetched(attrs)
	}()
}

func (i *Identity) fetch(bundle session.CredentialBundle) (session.Attributes, error) {
	const op = "oauth.(Identity).fetch"
	if bundle.AccessToken != "" {
		ctx := oidc.ClientContext(i.engine.backgroundCtx, i.engine.client)
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bundle.AccessToken})
		info, err := i.engine.provider.UserInfo(ctx, ts)
		if err == nil {
			return attributesFromUserInfo(info), nil
		}
		if bundle.IDToken == "" {
			return session.Attributes{}, fmt.Errorf("%s: userinfo request failed: %w", op, err)
		}
		i.logger.Debug("userinfo request failed, falling back to id_token claims", "error", err)
	}
	if bundle.IDToken == "" {
		return session.Attributes{}, fmt.Errorf("%s: bundle has no access token or id_token: %w", op, ErrInvalidParameter)
	}
	return attributesFromIDToken(bundle.IDToken)
}

func attributesFromUserInfo(info *oidc.UserInfo) session.Attributes {
	attrs := session.Attributes{
		UserID: info.Subject,
		Email:  info.Email,
	}
	var claims map[string]interface{}
	if err := info.Claims(&claims); err == nil {
		attrs.Claims = claims
		if name, ok := claims["preferred_username"].(string); ok {
			attrs.Username = name
		}
	}
	return attrs
}

func attributesFromIDToken(raw string) (session.Attributes, error) {
	const op = "oauth.attributesFromIDToken"
	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return session.Attributes{}, fmt.Errorf("%s: unable to parse id_token: %w", op, err)
	}
	var claims map[string]interface{}
	// the id_token's signature was verified during the exchange; this is
	// a claims read, not a trust decision
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return session.Attributes{}, fmt.Errorf("%s: unable to read id_token claims: %w", op, err)
	}
	attrs := session.Attributes{Claims: claims}
	if sub, ok := claims["sub"].(string); ok {
		attrs.UserID = sub
	}
	if email, ok := claims["email"].(string); ok {
		attrs.Email = email
	}
	if name, ok := claims["preferred_username"].(string); ok {
		attrs.Username = name
	}
	return attrs, nil
}
