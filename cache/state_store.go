// Package cache holds the short-lived OAuth state-nonce stores used by the
// connect flow to bind an authorize redirect to its callback.
package cache

import (
	"context"
	"time"
)

// StateStore issues and verifies one-time OAuth state nonces. A nonce is
// bound to the user id that started the connect flow and expires after the
// configured TTL. Verify consumes the nonce: a second verification of the
// same state must fail.
type StateStore interface {
	// Issue stores the state nonce for the given user id.
	Issue(ctx context.Context, state, userID string, ttl time.Duration) error

	// Verify consumes the nonce and returns the user id it was issued for.
	// Unknown or expired nonces return ok == false.
	Verify(ctx context.Context, state string) (userID string, ok bool)
}
