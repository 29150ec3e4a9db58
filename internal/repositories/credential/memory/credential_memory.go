package memory

import (
	"context"
	"errors"
	"sync"

	credRepo "github.com/quipper/poc/stockproxy/pkg/repositories/credential"
)

// Repo keeps the active credential in process memory; it is lost on restart.
type Repo struct {
	mu   sync.RWMutex
	cred *credRepo.Credential
}

// Ensure interface compliance
var _ credRepo.Repository = (*Repo)(nil)

// NewRepo returns a Repo, optionally seeded with a credential supplied by configuration.
func NewRepo(seed *credRepo.Credential) *Repo {
	r := &Repo{}
	if seed != nil && seed.AccessToken != "" {
		c := *seed
		r.cred = &c
	}
	return r
}

func (r *Repo) Active(ctx context.Context) (credRepo.Credential, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cred == nil {
		return credRepo.Credential{}, false, nil
	}
	return *r.cred, true, nil
}

func (r *Repo) Set(ctx context.Context, cred credRepo.Credential) error {
	if cred.AccessToken == "" {
		return errors.New("empty access token")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cred = &cred
	return nil
}
