// Package cookies provides a cookie store for authentication session
// cookies.  It wraps a net/http cookie jar so the host application can hand
// the same jar to its HTTP clients and webviews, while the session
// coordinator clears and reinstalls session cookies around logins and
// logouts.
package cookies

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/net/publicsuffix"

	"github.com/hashicorp/go-authsession/session"
)

// SessionCookieName is the name of the session cookie installed after a
// successful authentication.
const SessionCookieName = "sid"

// Store tracks the cookies it installs per domain, so clearing can expire
// exactly what was set.
type Store struct {
	mu     sync.Mutex
	jar    http.CookieJar
	logger hclog.Logger

	// domains maps a domain to the names of the cookies installed for it.
	domains map[string]map[string]bool
}

type storeOptions struct {
	withLogger hclog.Logger
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeOptions{
		withLogger: hclog.NewNullLogger(),
	}
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// Option configures a Store.
type Option func(*storeOptions)

// WithLogger provides an optional hclog.Logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *storeOptions) {
		o.withLogger = l
	}
}

var _ session.CookieStore = (*Store)(nil)

// New creates an empty cookie store.  Supported options: WithLogger.
func New(opt ...Option) (*Store, error) {
	const op = "cookies.New"
	opts := getStoreOpts(opt...)
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create cookie jar: %w", op, err)
	}
	return &Store{
		jar:     jar,
		logger:  opts.withLogger,
		domains: map[string]map[string]bool{},
	}, nil
}

// Jar returns the underlying cookie jar, for installation into an
// http.Client or webview.
func (s *Store) Jar() http.CookieJar {
	return s.jar
}

// InstallSessionCookie installs the session cookie for the domain from the
// given credential bundle.
func (s *Store) InstallSessionCookie(domain string, bundle session.CredentialBundle) error {
	const op = "cookies.(Store).InstallSessionCookie"
	if domain == "" {
		return fmt.Errorf("%s: domain is empty: %w", op, session.ErrInvalidParameter)
	}
	if bundle.AccessToken == "" {
		return fmt.Errorf("%s: bundle has no access token: %w", op, session.ErrInvalidParameter)
	}
	u, err := domainURL(domain)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jar.SetCookies(u, []*http.Cookie{{
		Name:     SessionCookieName,
		Value:    bundle.AccessToken,
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
	}})
	names := s.domains[domain]
	if names == nil {
		names = map[string]bool{}
		s.domains[domain] = names
	}
	names[SessionCookieName] = true
	return nil
}

// ClearCookies expires the named cookies for the given domains.  Empty
// names means every cookie the store installed for those domains; empty
// domains means every domain the store has installed cookies for.
func (s *Store) ClearCookies(names []string, domains []string) error {
	const op = "cookies.(Store).ClearCookies"
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(domains) == 0 {
		domains = s.trackedDomains()
	}
	for _, domain := range domains {
		tracked := s.domains[domain]
		clear := names
		if len(clear) == 0 {
			clear = make([]string, 0, len(tracked))
			for name := range tracked {
				clear = append(clear, name)
			}
		}
		if err := s.expire(domain, clear); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		for _, name := range clear {
			delete(tracked, name)
		}
		if len(tracked) == 0 {
			delete(s.domains, domain)
		}
	}
	return nil
}

// ClearAll expires every cookie the store has installed.
func (s *Store) ClearAll() error {
	const op = "cookies.(Store).ClearAll"
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, domain := range s.trackedDomains() {
		names := make([]string, 0, len(s.domains[domain]))
		for name := range s.domains[domain] {
			names = append(names, name)
		}
		if err := s.expire(domain, names); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	s.domains = map[string]map[string]bool{}
	return nil
}

// expire overwrites the named cookies for the domain with already-expired
// replacements, which removes them from the jar.
func (s *Store) expire(domain string, names []string) error {
	u, err := domainURL(domain)
	if err != nil {
		return err
	}
	expired := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		expired = append(expired, &http.Cookie{
			Name:    name,
			Value:   "",
			Path:    "/",
			MaxAge:  -1,
			Expires: time.Unix(1, 0),
		})
	}
	if len(expired) > 0 {
		s.jar.SetCookies(u, expired)
		s.logger.Debug("cleared cookies", "domain", domain, "count", len(expired))
	}
	return nil
}

func (s *Store) trackedDomains() []string {
	domains := make([]string, 0, len(s.domains))
	for domain := range s.domains {
		domains = append(domains, domain)
	}
	return domains
}

func domainURL(domain string) (*url.URL, error) {
	u, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid domain %s: %w", domain, session.ErrInvalidParameter)
	}
	return u, nil
}
