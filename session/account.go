package session

import "encoding/json"

// RedactedBundle is the redacted string or json for a credential bundle.
const RedactedBundle = "[REDACTED: credential bundle]"

// CredentialBundle is the opaque token material associated with an
// authenticated account. The coordinator never interprets it beyond
// emptiness checks; the engines produce and consume it.
type CredentialBundle struct {
	AccessToken  string
	RefreshToken string

	// IDToken is the raw id_token from the exchange, when the provider
	// issued one.  The identity engine may use it as a claims source.
	IDToken string
}

// Empty reports whether the bundle holds no usable token material.
func (b CredentialBundle) Empty() bool {
	return b.AccessToken == "" && b.RefreshToken == ""
}

// String will redact the bundle's token material.
func (b CredentialBundle) String() string {
	return RedactedBundle
}

// MarshalJSON will redact the bundle's token material.
func (b CredentialBundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedBundle)
}

// Attributes are the identity attributes retrieved for an authenticated
// account after a successful exchange.
type Attributes struct {
	// UserID is the provider's stable identifier for the user (the
	// id_token subject for OIDC providers).
	UserID string

	Username string
	Email    string

	// Claims holds any additional attributes the identity engine
	// retrieved.
	Claims map[string]interface{}
}

// Account is an authenticated (or authenticatable) account: an identifier,
// the opaque credential bundle, and the login host it belongs to.  While an
// account is the coordinator's current account, its bundle is owned by the
// coordinator's session state; callers get defensive copies.
type Account struct {
	ID         string
	LoginHost  string
	Bundle     CredentialBundle
	Attributes Attributes
}

// clone returns a copy of the account that shares no mutable state with the
// original.
func (a *Account) clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Attributes.Claims != nil {
		cp.Attributes.Claims = make(map[string]interface{}, len(a.Attributes.Claims))
		for k, v := range a.Attributes.Claims {
			cp.Attributes.Claims[k] = v
		}
	}
	return &cp
}

// sameAccount reports whether both accounts refer to the same identity.
func sameAccount(a, b *Account) bool {
	switch {
	case a == nil || b == nil:
		return false
	case a == b:
		return true
	default:
		return a.ID != "" && a.ID == b.ID
	}
}
