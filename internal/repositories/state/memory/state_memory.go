package memory

import (
	"context"
	"sync"
	"time"

	stateRepo "github.com/quipper/poc/stockproxy/pkg/repositories/state"
)

// Repo keeps issued nonces in process memory. Nothing is evicted unless Sweep is called.
type Repo struct {
	mu      sync.RWMutex
	records map[string]stateRepo.Record
}

// Ensure interface compliance
var _ stateRepo.Repository = (*Repo)(nil)

func NewRepo() *Repo {
	return &Repo{records: make(map[string]stateRepo.Record)}
}

func (r *Repo) Health(ctx context.Context) error { return nil }

func (r *Repo) Disconnect() {}

func (r *Repo) Save(ctx context.Context, rec stateRepo.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Nonce] = rec
	return nil
}

func (r *Repo) Lookup(ctx context.Context, nonce string) (stateRepo.Record, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[nonce]
	return rec, ok, nil
}

func (r *Repo) Consume(ctx context.Context, nonce string) (stateRepo.Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[nonce]
	if ok {
		delete(r.records, nonce)
	}
	return rec, ok, nil
}

func (r *Repo) Delete(ctx context.Context, nonce string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, nonce)
	return nil
}

func (r *Repo) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, rec := range r.records {
		if rec.IssuedAt.Before(cutoff) {
			delete(r.records, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored nonces.
func (r *Repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
