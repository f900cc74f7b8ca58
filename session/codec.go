// Package session implements the signed session cookie codec.
//
// Sessions are stateless: the cookie value is an HS256-signed compact token
// holding the subject address and issue time. Nothing is stored server-side,
// so a session survives restarts and scales across instances for free;
// revocation before natural expiry requires rotating the server secret,
// which invalidates every outstanding session at once.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrBadSignature means the cookie value failed MAC verification or
	// could not be decoded at all.
	ErrBadSignature = errors.New("session: bad signature")
	// ErrExpired means the cookie is authentic but past the session lifetime.
	ErrExpired = errors.New("session: expired")
)

// Codec mints and authenticates session cookie values with a process-wide
// secret. Safe for concurrent use; all fields are read-only after
// construction.
type Codec struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewCodec creates a Codec. The secret is held in memory only and must never
// be logged.
func NewCodec(secret string, lifetime time.Duration) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session: secret must be at least 32 bytes")
	}
	return &Codec{
		secret:   []byte(secret),
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// SetClock overrides the time source, for tests.
func (c *Codec) SetClock(now func() time.Time) { c.now = now }

type claims struct {
	jwt.RegisteredClaims
}

// Mint encodes the given identity into a signed cookie value.
func (c *Codec) Mint(email string) (string, error) {
	now := c.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
		},
	})
	value, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("session: signing failed: %w", err)
	}
	return value, nil
}

// Authenticate verifies a presented cookie value and returns the identity it
// was minted for. The MAC comparison inside the HMAC verify is constant-time.
func (c *Codec) Authenticate(value string) (string, error) {
	tok, err := jwt.ParseWithClaims(value, &claims{}, func(t *jwt.Token) (any, error) {
		// Pin the algorithm; never trust the token header's alg.
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", ErrBadSignature
	}

	cl, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || cl.Subject == "" {
		return "", ErrBadSignature
	}
	return cl.Subject, nil
}
