package oauthstate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/quipper/poc/stockproxy/pkg/common/signature"
)

// DefaultMaxAge bounds how long a signed state token is accepted.
const DefaultMaxAge = 600_000 * time.Millisecond

const signedNonceBytes = 8

type signedPayload struct {
	SubjectID string `json:"subjectId"`
	IssuedAt  *int64 `json:"issuedAt"`
	Nonce     string `json:"nonce"`
}

// SignedCodec is the self-verifying strategy: p "." hex(HMAC-SHA256(secret, p)) where
// p is the base64url JSON payload.
type SignedCodec struct {
	secret []byte
	maxAge time.Duration
	now    Clock
	rand   io.Reader
}

// SignedOption configures a SignedCodec.
type SignedOption func(*SignedCodec)

// WithMaxAge overrides DefaultMaxAge.
func WithMaxAge(d time.Duration) SignedOption { return func(c *SignedCodec) { c.maxAge = d } }

// WithSignedClock overrides time.Now.
func WithSignedClock(now Clock) SignedOption { return func(c *SignedCodec) { c.now = now } }

// WithSignedRand overrides the randomness source.
func WithSignedRand(r io.Reader) SignedOption { return func(c *SignedCodec) { c.rand = r } }

func NewSignedCodec(secret string, opts ...SignedOption) (*SignedCodec, error) {
	if secret == "" {
		return nil, errors.New("oauthstate: signed codec requires a secret")
	}
	c := &SignedCodec{secret: []byte(secret), maxAge: DefaultMaxAge, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

var _ Codec = (*SignedCodec)(nil)

func (c *SignedCodec) Issue(ctx context.Context, subjectID string) (string, error) {
	nonce, err := randomHex(c.rand, signedNonceBytes)
	if err != nil {
		return "", fmt.Errorf("generate state nonce: %w", err)
	}
	issued := c.now().UnixMilli()
	raw, err := json.Marshal(signedPayload{SubjectID: subjectID, IssuedAt: &issued, Nonce: nonce})
	if err != nil {
		return "", fmt.Errorf("encode state payload: %w", err)
	}
	p := base64.RawURLEncoding.EncodeToString(raw)
	return p + "." + signature.HMACHex(c.secret, []byte(p)), nil
}

// Redeem never returns an error; every malformed token is simply rejected.
func (c *SignedCodec) Redeem(ctx context.Context, token, expectedSubjectID string) (bool, error) {
	if strings.Count(token, ".") != 1 {
		return false, nil
	}
	p, s, _ := strings.Cut(token, ".")
	if !signature.Equal(signature.HMACHex(c.secret, []byte(p)), s) {
		return false, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(p)
	if err != nil {
		return false, nil
	}
	var payload signedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false, nil
	}
	if payload.SubjectID == "" || payload.IssuedAt == nil {
		return false, nil
	}
	if expectedSubjectID != "" && payload.SubjectID != expectedSubjectID {
		return false, nil
	}
	age := c.now().UnixMilli() - *payload.IssuedAt
	if age > c.maxAge.Milliseconds() {
		return false, nil
	}
	return true, nil
}
