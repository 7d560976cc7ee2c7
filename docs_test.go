package authsession_test

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-authsession/cookies"
	"github.com/hashicorp/go-authsession/oauth"
	"github.com/hashicorp/go-authsession/session"
)

func Example() {
	ctx := context.Background()

	// Create a provider config
	pc, err := oauth.NewConfig(
		"http://your-issuer.com/",
		"your_client_id",
		"your_client_secret",
		[]oauth.Alg{oauth.RS256},
		"http://localhost:8000/callback",
		oauth.WithScopes("email", "profile"),
	)
	if err != nil {
		// handle error
	}

	// Create the exchange engine.  Authorization URLs will be surfaced
	// through the presenter.
	engine, err := oauth.NewEngine(ctx, pc, oauth.WithPresenter(func(authURL string) {
		fmt.Println("open url to kick-off authentication: ", authURL)
	}))
	if err != nil {
		// handle error
	}
	defer engine.Done()

	identity, err := oauth.NewIdentity(engine)
	if err != nil {
		// handle error
	}

	jar, err := cookies.New()
	if err != nil {
		// handle error
	}

	// Create the session coordinator
	c, err := session.New(engine, identity,
		session.WithLoginHost("login.example.com"),
		session.WithCookieStore(jar),
	)
	if err != nil {
		// handle error
	}

	// Route the provider's redirect URL to the engine's callback handler
	http.HandleFunc("/callback", engine.CallbackHandler())

	// Kick off a login.  Callers arriving while an attempt is in flight
	// are queued onto the same attempt.
	started := c.Login(
		func(info *session.AuthInfo) {
			fmt.Println("authenticated: ", c.CurrentAccount().ID)
		},
		func(info *session.AuthInfo, err error) {
			fmt.Println("authentication failed: ", err)
		},
	)
	if !started {
		fmt.Println("joined the in-flight authentication attempt")
	}
}
