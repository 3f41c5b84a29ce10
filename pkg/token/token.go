package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the agent knows about itself from its server-issued
// bearer token.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token carried an expiry that has passed.
func (i *Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && i.ExpiresAt.Before(now)
}

// ParseIdentity extracts the acting user and expiry from a JWT without
// verifying its signature. The agent never holds the server's signing
// secret; verification happens server-side on every request, this is claim
// extraction only.
func ParseIdentity(raw string) (*Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	identity := &Identity{}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		identity.UserID = sub
	}
	if identity.UserID == "" {
		if v, ok := claims["user_id"].(string); ok {
			identity.UserID = v
		}
	}
	if identity.UserID == "" {
		return nil, fmt.Errorf("token carries no user identity")
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}

	return identity, nil
}
