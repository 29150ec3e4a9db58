// Package sessiontoken verifies the HS256 session tokens the platform's embedded
// app frontend sends as a bearer token.
package sessiontoken

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier checks session tokens signed with the app secret.
type Verifier struct {
	secret []byte
	apiKey string
	skew   time.Duration
	clock  jwt.Clock
}

func NewVerifier(apiSecret, apiKey string) *Verifier {
	return &Verifier{
		secret: []byte(apiSecret),
		apiKey: apiKey,
		skew:   5 * time.Second,
		clock:  jwt.ClockFunc(time.Now),
	}
}

// WithClock replaces time.Now; intended for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.clock = jwt.ClockFunc(now)
	return v
}

// Verify validates signature, exp/nbf, audience and issuer/destination agreement,
// and returns the store domain from the "dest" claim.
func (v *Verifier) Verify(raw string) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("session token secret not configured")
	}
	tok, err := jwt.ParseString(raw,
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithAudience(v.apiKey),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithClock(v.clock),
	)
	if err != nil {
		return "", fmt.Errorf("invalid session token: %w", err)
	}
	destRaw, ok := tok.Get("dest")
	if !ok {
		return "", errors.New("session token missing dest")
	}
	dest, _ := destRaw.(string)
	shop, err := hostOf(dest)
	if err != nil {
		return "", fmt.Errorf("session token dest: %w", err)
	}
	iss, err := hostOf(tok.Issuer())
	if err != nil {
		return "", fmt.Errorf("session token iss: %w", err)
	}
	if iss != shop {
		return "", errors.New("session token iss and dest disagree")
	}
	return shop, nil
}

// FromHeader extracts the bearer token from an Authorization header value.
func FromHeader(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in %q", raw)
	}
	return strings.ToLower(u.Hostname()), nil
}
