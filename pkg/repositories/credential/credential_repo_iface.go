package credential

import (
	"context"
	"time"
)

// Credential is the admin API access token obtained for a store.
type Credential struct {
	SubjectID   string
	AccessToken string
	Scope       string
	ObtainedAt  time.Time
}

// Repository holds the single active credential of the process. Set replaces any
// previous credential, whichever store it belonged to.
type Repository interface {
	// Active returns the current credential; ok=false if no install has completed
	// and none was configured.
	Active(ctx context.Context) (cred Credential, ok bool, err error)
	Set(ctx context.Context, cred Credential) error
}
