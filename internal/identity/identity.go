// Package identity resolves the user principal every store and remote
// operation is keyed by.
//
// The principal is the subject claim of a backend-issued JWT. The token is
// a credential for the backend, which verifies its signature; locally it is
// only decoded for the principal and expiry, not verified. No usable token
// means no identity: tracking stays local and sync is disabled.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Identity errors.
var (
	ErrNoIdentity   = errors.New("identity: no identity available")
	ErrTokenExpired = errors.New("identity: token expired")
)

// Identity is an authenticated caller.
type Identity struct {
	// Principal keys every durable record and remote call for this user.
	Principal string

	// Token is the raw credential presented to the backend.
	Token string

	// ExpiresAt is the token expiry; zero when the token carries none.
	ExpiresAt time.Time
}

// FromToken decodes an identity from a raw JWT.
func FromToken(token string, now time.Time) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoIdentity
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("identity: parse token: %w", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("identity: token has no subject: %w", ErrNoIdentity)
	}

	id := &Identity{Principal: sub, Token: token}
	switch exp := claims["exp"].(type) {
	case float64:
		id.ExpiresAt = time.Unix(int64(exp), 0)
	case json.Number:
		if v, err := exp.Int64(); err == nil {
			id.ExpiresAt = time.Unix(v, 0)
		}
	}
	if !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt) {
		return nil, fmt.Errorf("identity: token for %s: %w", sub, ErrTokenExpired)
	}
	return id, nil
}

// FromFile loads an identity from a token file. A missing file is
// ErrNoIdentity, not a failure: local-only mode is a supported state.
func FromFile(path string, now time.Time) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read token file: %w", err)
	}
	return FromToken(string(raw), now)
}
