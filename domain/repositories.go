package domain

import (
	"context"
	"time"
)

// CredentialRepository is the persistence contract for Credential documents.
// Implementations must exclude encrypted token fields from reads unless
// includeSecrets is set, and must enforce optimistic concurrency on Update:
// a write whose in-memory Version no longer matches the stored document
// returns ErrVersionConflict.
type CredentialRepository interface {
	Create(ctx context.Context, cred *Credential) error
	FindByUserID(ctx context.Context, userID string, includeSecrets bool) (*Credential, error)
	FindByEmail(ctx context.Context, email string, includeSecrets bool) (*Credential, error)
	Update(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context, userID string) error

	// DeactivateExpired flips is_active off on every record whose token
	// expiry has passed, returning the number of records modified.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteInactiveBefore hard-deletes inactive records whose last activity
	// is older than cutoff, returning the number of records removed.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
