// Package redis provides a nonce store backed by Redis, for deployments
// where several engine instances serve the same accounts.
package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/latch/id"
	"github.com/xraph/latch/ledger"
	"github.com/xraph/latch/nonce"
)

var _ nonce.Store = (*Store)(nil)

// DefaultTTL is how long a nonce is retained when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Store records nonces with SETNX so concurrent engines agree on first use.
type Store struct {
	rdb    goredis.Cmdable
	prefix string
	ttl    time.Duration

	ledger   ledger.Source
	interval time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Default "latch:nonce".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL sets how long recorded nonces are kept. It should exceed the
// longest signature expiration window in use.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithLedger derives each record's TTL from its expiration ledger: the key
// lives until expirationLedger has passed on src, given ledgers close every
// interval. The WithTTL value remains the minimum.
func WithLedger(src ledger.Source, interval time.Duration) Option {
	return func(s *Store) {
		s.ledger = src
		s.interval = interval
	}
}

// New creates a Redis nonce store.
func New(rdb goredis.Cmdable, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: "latch:nonce", ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(accountID id.AccountID, n uint64) string {
	return fmt.Sprintf("%s:%s:%d", s.prefix, accountID, n)
}

// Seen implements nonce.Store.
func (s *Store) Seen(ctx context.Context, accountID id.AccountID, n uint64) (bool, error) {
	count, err := s.rdb.Exists(ctx, s.key(accountID, n)).Result()
	if err != nil {
		return false, fmt.Errorf("nonce: redis exists: %w", err)
	}
	return count > 0, nil
}

// Record implements nonce.Store.
func (s *Store) Record(ctx context.Context, accountID id.AccountID, n uint64, expirationLedger uint32) error {
	ttl := s.ttl
	if s.ledger != nil {
		current, err := s.ledger.Current(ctx)
		if err != nil {
			return fmt.Errorf("nonce: current ledger: %w", err)
		}
		ttl = retention(current, expirationLedger, s.interval, s.ttl)
	}
	ok, err := s.rdb.SetNX(ctx, s.key(accountID, n), expirationLedger, ttl).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("nonce: redis setnx: %w", err)
	}
	if !ok {
		return nonce.ErrReplay
	}
	return nil
}

// retention is how long a nonce expiring at expirationLedger must be kept
// when current is the latest ledger: through the end of expirationLedger plus
// one ledger of slack, and never less than floor.
func retention(current, expirationLedger uint32, interval, floor time.Duration) time.Duration {
	if interval <= 0 {
		interval = ledger.DefaultInterval
	}
	if expirationLedger < current {
		return floor
	}
	ledgers := int64(expirationLedger-current) + 2
	if ledgers > math.MaxInt64/int64(interval) {
		return time.Duration(math.MaxInt64)
	}
	if d := time.Duration(ledgers) * interval; d > floor {
		return d
	}
	return floor
}
