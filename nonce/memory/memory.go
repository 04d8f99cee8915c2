// Package memory provides an in-process nonce store.
package memory

import (
	"context"
	"sync"

	"github.com/xraph/latch/id"
	"github.com/xraph/latch/nonce"
)

var (
	_ nonce.Store  = (*Store)(nil)
	_ nonce.Pruner = (*Store)(nil)
)

// Store keeps used nonces in memory until Prune drops expired ones.
type Store struct {
	mu   sync.Mutex
	used map[string]map[uint64]uint32 // account -> nonce -> expiration ledger
}

// New creates an empty store.
func New() *Store {
	return &Store{used: make(map[string]map[uint64]uint32)}
}

// Seen implements nonce.Store.
func (s *Store) Seen(_ context.Context, accountID id.AccountID, n uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[accountID.String()][n]
	return ok, nil
}

// Record implements nonce.Store.
func (s *Store) Record(_ context.Context, accountID id.AccountID, n uint64, expirationLedger uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountID.String()
	if _, ok := s.used[key][n]; ok {
		return nonce.ErrReplay
	}
	if s.used[key] == nil {
		s.used[key] = make(map[uint64]uint32)
	}
	s.used[key][n] = expirationLedger
	return nil
}

// Len returns the number of recorded nonces across all accounts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, nonces := range s.used {
		n += len(nonces)
	}
	return n
}

// Prune implements nonce.Pruner.
func (s *Store) Prune(_ context.Context, current uint32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for acct, nonces := range s.used {
		for n, exp := range nonces {
			if exp < current {
				delete(nonces, n)
				removed++
			}
		}
		if len(nonces) == 0 {
			delete(s.used, acct)
		}
	}
	return removed, nil
}
