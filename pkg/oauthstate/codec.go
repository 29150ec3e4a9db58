// Package oauthstate issues and redeems the anti-forgery "state" value carried
// through the OAuth authorization redirect.
//
// Two strategies implement Codec and one is chosen per deployment:
//
//   - StoreCodec hands out random nonces and remembers them in a state.Repository.
//     By default nonces are neither expired nor consumed, so a captured callback URL
//     can be replayed for the lifetime of the repository. WithTTL and WithConsume
//     close that gap.
//   - SignedCodec needs no storage: the subject, issue time and a nonce are signed
//     with the app secret. It rejects tokens older than MaxAge but keeps no record of
//     seen nonces, so a token can be replayed inside that window.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"time"
)

// Codec issues a state token bound to a subject (the store domain) and later
// checks a token returned by the authorization server.
type Codec interface {
	Issue(ctx context.Context, subjectID string) (string, error)
	// Redeem reports whether token is acceptable for expectedSubjectID. An empty
	// expectedSubjectID skips the subject comparison. err is reserved for storage failures.
	Redeem(ctx context.Context, token, expectedSubjectID string) (bool, error)
}

// Clock returns the current time; tests substitute a fake.
type Clock func() time.Time

func randomHex(r io.Reader, n int) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
