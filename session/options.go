package session

import "github.com/hashicorp/go-hclog"

// Option defines a common functional options type.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default
// options and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// coordinatorOptions is the set of available options for New.
type coordinatorOptions struct {
	withLogger    hclog.Logger
	withLoginHost string
	withCookies   CookieStore
}

func coordinatorDefaults() coordinatorOptions {
	return coordinatorOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getCoordinatorOpts(opt ...Option) coordinatorOptions {
	opts := coordinatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// loginOptions is the set of available options for Login.
type loginOptions struct {
	withAccount *Account
}

func getLoginOpts(opt ...Option) loginOptions {
	opts := loginOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// logoutOptions is the set of available options for Logout.
type logoutOptions struct {
	withAccount *Account
}

func getLogoutOpts(opt ...Option) logoutOptions {
	opts := logoutOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional hclog.Logger for the coordinator.  The
// default is a null logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*coordinatorOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithLoginHost provides the initial login host (authorization-server base
// URL) for the coordinator.
func WithLoginHost(host string) Option {
	return func(o interface{}) {
		if o, ok := o.(*coordinatorOptions); ok {
			o.withLoginHost = host
		}
	}
}

// WithCookieStore provides the cookie-management collaborator used to
// reset the session cookie after authentication and clear cookies on
// logout.  Without one, the coordinator skips cookie handling.
func WithCookieStore(cs CookieStore) Option {
	return func(o interface{}) {
		if o, ok := o.(*coordinatorOptions); ok {
			o.withCookies = cs
		}
	}
}

// WithAccount provides a target account for Login (the account to
// authenticate, instead of the current or a new one) or for Logout (the
// account to log out, instead of the current one).
func WithAccount(account *Account) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *loginOptions:
			v.withAccount = account
		case *logoutOptions:
			v.withAccount = account
		}
	}
}
