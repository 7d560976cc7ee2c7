package oauth

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// Presenter surfaces an authorization URL to whatever is driving the login
// (a browser open, a delegate, a log line).
type Presenter func(authURL string)

type configOptions struct {
	withScopes       []string
	withRoundTripper http.RoundTripper
}

func configDefaults() configOptions {
	return configOptions{}
}

func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type engineOptions struct {
	withLogger    hclog.Logger
	withPresenter Presenter
}

func engineDefaults() engineOptions {
	return engineOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getEngineOpts(opt ...Option) engineOptions {
	opts := engineDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides optional scopes for a config.  The openid scope is
// always requested and need not be listed.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithRoundTripper provides an optional transport override for all provider
// HTTP requests.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRoundTripper = rt
		}
	}
}

// WithLogger provides an optional hclog.Logger for an engine or identity
// engine.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch o := o.(type) {
		case *engineOptions:
			o.withLogger = l
		case *identityOptions:
			o.withLogger = l
		}
	}
}

// WithPresenter provides the presenter an engine invokes with the
// authorization URL of each interactive exchange.  Typically wired to the
// session coordinator's NotifyLoginURL.
func WithPresenter(p Presenter) Option {
	return func(o interface{}) {
		if o, ok := o.(*engineOptions); ok {
			o.withPresenter = p
		}
	}
}
