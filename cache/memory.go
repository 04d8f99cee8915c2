// Package cache provides caching implementations for resolved rule lists.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xraph/latch"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
)

// Compile-time interface check.
var _ latch.Cache = (*Memory)(nil)

// Memory is an in-memory cache with TTL-based expiration.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	maxSize int
}

type entry struct {
	rules     []*rule.Rule
	expiresAt time.Time
}

// MemoryOption configures the memory cache.
type MemoryOption func(*Memory)

// WithTTL sets the cache entry time-to-live.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

// WithMaxSize sets the maximum number of cache entries.
func WithMaxSize(n int) MemoryOption {
	return func(m *Memory) { m.maxSize = n }
}

// NewMemory creates a new in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*entry),
		ttl:     time.Minute,
		maxSize: 10000,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetRules returns the cached rules of one type for an account.
func (m *Memory) GetRules(_ context.Context, accountID id.AccountID, typ rule.Type) ([]*rule.Rule, bool) {
	key := cacheKey(accountID, typ)
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return cloneRules(e.rules), true
}

// SetRules stores the rules of one type for an account.
func (m *Memory) SetRules(_ context.Context, accountID id.AccountID, typ rule.Type, rules []*rule.Rule) {
	key := cacheKey(accountID, typ)
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.maxSize {
		m.evictExpired()
		if len(m.entries) >= m.maxSize {
			m.evictOne()
		}
	}

	m.entries[key] = &entry{
		rules:     cloneRules(rules),
		expiresAt: time.Now().Add(m.ttl),
	}
}

// InvalidateAccount removes every cached rule list of an account.
func (m *Memory) InvalidateAccount(_ context.Context, accountID id.AccountID) {
	prefix := accountID.String() + "|"
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
}

// Len returns the number of entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cacheKey(accountID id.AccountID, typ rule.Type) string {
	return accountID.String() + "|" + typ.String()
}

func cloneRules(rules []*rule.Rule) []*rule.Rule {
	out := make([]*rule.Rule, len(rules))
	for i, r := range rules {
		out[i] = r.Clone()
	}
	return out
}

// evictExpired removes all expired entries. Must hold write lock.
func (m *Memory) evictExpired() {
	now := time.Now()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

// evictOne removes one arbitrary entry. Must hold write lock.
func (m *Memory) evictOne() {
	for k := range m.entries {
		delete(m.entries, k)
		return
	}
}
