// Package ledger supplies the current ledger sequence. Rule expiry and
// signature expiration bounds are expressed in ledger sequences, so the
// engine never reads wall-clock time directly.
package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Source reports the current ledger sequence.
type Source interface {
	Current(ctx context.Context) (uint32, error)
}

// Static is a Source pinned to one sequence.
type Static uint32

// Current implements Source.
func (s Static) Current(context.Context) (uint32, error) { return uint32(s), nil }

// Manual is a Source the caller advances explicitly. Safe for concurrent use.
type Manual struct {
	seq atomic.Uint32
}

// NewManual returns a Manual source starting at seq.
func NewManual(seq uint32) *Manual {
	m := &Manual{}
	m.seq.Store(seq)
	return m
}

// Current implements Source.
func (m *Manual) Current(context.Context) (uint32, error) { return m.seq.Load(), nil }

// Set moves the sequence to seq.
func (m *Manual) Set(seq uint32) { m.seq.Store(seq) }

// Advance moves the sequence forward by n and returns the new value.
func (m *Manual) Advance(n uint32) uint32 { return m.seq.Add(n) }

// Clock derives the sequence from wall-clock time: one ledger per Interval
// since Genesis.
type Clock struct {
	Genesis  time.Time
	Interval time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultInterval is the ledger close time used when Clock.Interval is zero.
const DefaultInterval = 5 * time.Second

// Current implements Source.
func (c Clock) Current(context.Context) (uint32, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	elapsed := now().Sub(c.Genesis)
	if elapsed < 0 {
		return 0, fmt.Errorf("ledger: clock is before genesis %s", c.Genesis.Format(time.RFC3339))
	}
	return uint32(elapsed / interval), nil
}
