package session

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"
)

// AuthType describes how an authentication attempt was initiated.
type AuthType int

const (
	AuthTypeUnknown AuthType = iota

	// AuthTypeNewUser is a fresh interactive login: no usable refresh
	// token existed for the target account.
	AuthTypeNewUser

	// AuthTypeRefresh is a session refresh using the target account's
	// existing refresh token.
	AuthTypeRefresh
)

// String implements the fmt.Stringer interface.
func (t AuthType) String() string {
	switch t {
	case AuthTypeNewUser:
		return "new-user"
	case AuthTypeRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// AuthInfo is the metadata for a single authentication attempt.  It is
// created once when the attempt starts and the same value is passed,
// unmodified, to every delegate notification and every callback resolved by
// that attempt.
type AuthInfo struct {
	// AttemptID uniquely identifies the attempt.
	AttemptID string

	Type      AuthType
	LoginHost string
	StartedAt time.Time
}

func newAuthInfo(typ AuthType, loginHost string) (*AuthInfo, error) {
	const op = "session.newAuthInfo"
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate an attempt id: %w", op, err)
	}
	return &AuthInfo{
		AttemptID: id,
		Type:      typ,
		LoginHost: loginHost,
		StartedAt: time.Now(),
	}, nil
}
