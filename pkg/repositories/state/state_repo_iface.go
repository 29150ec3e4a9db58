package state

import (
	"context"
	"time"
)

// Record is an issued OAuth state nonce.
type Record struct {
	Nonce     string
	SubjectID string
	IssuedAt  time.Time
}

// Repository persists the nonces handed out by the store-backed state strategy.
type Repository interface {
	// Health is a simple check to verify repository works.
	Health(ctx context.Context) error
	// Disconnect gracefully closes resources. Should be safe to call on shutdown.
	Disconnect()
	// Save records a nonce. Saving an existing nonce overwrites it.
	Save(ctx context.Context, rec Record) error
	// Lookup returns the record for nonce; ok=false if it was never saved or was deleted.
	Lookup(ctx context.Context, nonce string) (rec Record, ok bool, err error)
	// Consume atomically looks up and deletes a nonce. Of several concurrent
	// callers with the same nonce, at most one gets ok=true.
	Consume(ctx context.Context, nonce string) (rec Record, ok bool, err error)
	// Delete removes a nonce. Deleting an unknown nonce is not an error.
	Delete(ctx context.Context, nonce string) error
	// Sweep deletes records issued before cutoff and returns how many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}
