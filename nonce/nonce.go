// Package nonce guards against signature replay. A nonce is recorded for an
// account once an authorization using it succeeds; recording it again is a
// replay.
package nonce

import (
	"context"
	"errors"

	"github.com/xraph/latch/id"
)

// ErrReplay is returned by Record when the nonce was already used.
var ErrReplay = errors.New("nonce: already used")

// Store tracks used nonces per account.
type Store interface {
	// Seen reports whether nonce has been recorded for the account.
	Seen(ctx context.Context, accountID id.AccountID, nonce uint64) (bool, error)

	// Record marks nonce as used. The record only needs to outlive
	// expirationLedger: after it, signatures over the nonce are expired anyway.
	// Returns ErrReplay if the nonce was already recorded.
	Record(ctx context.Context, accountID id.AccountID, nonce uint64, expirationLedger uint32) error
}

// Pruner is implemented by stores that keep records until told to drop
// them. The engine calls Prune at most once per ledger.
type Pruner interface {
	// Prune drops records whose expiration ledger is before current and
	// returns how many were removed.
	Prune(ctx context.Context, current uint32) (int, error)
}
