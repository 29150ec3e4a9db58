package oauthstate

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/quipper/poc/stockproxy/pkg/common/logger"
	stateRepo "github.com/quipper/poc/stockproxy/pkg/repositories/state"
)

const storeNonceBytes = 16

// StoreCodec is the store-backed strategy.
type StoreCodec struct {
	repo    stateRepo.Repository
	now     Clock
	rand    io.Reader
	ttl     time.Duration
	consume bool
}

// StoreOption configures a StoreCodec.
type StoreOption func(*StoreCodec)

// WithTTL rejects nonces older than ttl. Zero keeps nonces valid forever.
func WithTTL(ttl time.Duration) StoreOption { return func(c *StoreCodec) { c.ttl = ttl } }

// WithConsume makes nonces single use: redemption removes the nonce atomically,
// and an expired nonce is removed as well.
func WithConsume(consume bool) StoreOption { return func(c *StoreCodec) { c.consume = consume } }

// WithStoreClock overrides time.Now.
func WithStoreClock(now Clock) StoreOption { return func(c *StoreCodec) { c.now = now } }

// WithStoreRand overrides the randomness source.
func WithStoreRand(r io.Reader) StoreOption { return func(c *StoreCodec) { c.rand = r } }

func NewStoreCodec(repo stateRepo.Repository, opts ...StoreOption) *StoreCodec {
	c := &StoreCodec{repo: repo, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ Codec = (*StoreCodec)(nil)

func (c *StoreCodec) Issue(ctx context.Context, subjectID string) (string, error) {
	nonce, err := randomHex(c.rand, storeNonceBytes)
	if err != nil {
		return "", fmt.Errorf("generate state nonce: %w", err)
	}
	rec := stateRepo.Record{Nonce: nonce, SubjectID: subjectID, IssuedAt: c.now()}
	if err := c.repo.Save(ctx, rec); err != nil {
		return "", fmt.Errorf("save state nonce: %w", err)
	}
	return nonce, nil
}

// Redeem is true iff token was issued by this codec's repository. The subject is
// not compared; the nonce alone identifies the flow.
func (c *StoreCodec) Redeem(ctx context.Context, token, expectedSubjectID string) (bool, error) {
	if token == "" {
		return false, nil
	}
	var (
		rec stateRepo.Record
		ok  bool
		err error
	)
	if c.consume {
		rec, ok, err = c.repo.Consume(ctx, token)
		if err != nil {
			return false, fmt.Errorf("consume state nonce: %w", err)
		}
	} else {
		rec, ok, err = c.repo.Lookup(ctx, token)
		if err != nil {
			return false, fmt.Errorf("lookup state nonce: %w", err)
		}
	}
	if !ok {
		return false, nil
	}
	if c.ttl > 0 && c.now().Sub(rec.IssuedAt) > c.ttl {
		logger.Debug("oauthstate: nonce expired issued_at=%s", rec.IssuedAt.Format(time.RFC3339))
		return false, nil
	}
	return true, nil
}

// Sweep drops nonces past the TTL. It is a no-op when no TTL is configured.
func (c *StoreCodec) Sweep(ctx context.Context) (int, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	return c.repo.Sweep(ctx, c.now().Add(-c.ttl))
}
