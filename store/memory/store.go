// Package memory provides an in-memory implementation of the latch composite
// store. It is intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/latch/account"
	"github.com/xraph/latch/checklog"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
)

// Compile-time interface checks.
var (
	_ account.Store  = (*Store)(nil)
	_ rule.Store     = (*Store)(nil)
	_ checklog.Store = (*Store)(nil)
)

// Store is a thread-safe in-memory store for all latch entities.
type Store struct {
	mu sync.RWMutex

	accounts  map[string]*account.Account
	rules     map[string]map[uint32]*rule.Rule // accountID -> ruleID -> rule
	checkLogs map[string]*checklog.Entry
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		accounts:  make(map[string]*account.Account),
		rules:     make(map[string]map[uint32]*rule.Rule),
		checkLogs: make(map[string]*checklog.Entry),
	}
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Account Store
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID.String()]; ok {
		return fmt.Errorf("account %s: already exists", a.ID)
	}
	s.accounts[a.ID.String()] = copyAccount(a)
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID.String()]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, account.ErrNotFound)
	}
	return copyAccount(a), nil
}

func (s *Store) ListAccounts(_ context.Context, filter *account.ListFilter) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*account.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		result = append(result, copyAccount(a))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	var p pagOpts
	if filter != nil {
		p = pagOpts{limit: filter.Limit, offset: filter.Offset}
	}
	return applyPagination(result, p), nil
}

func (s *Store) DeleteAccount(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, accountID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Rule Store
// ──────────────────────────────────────────────────

func (s *Store) CreateRule(_ context.Context, r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.AccountID.String()
	a, ok := s.accounts[key]
	if !ok {
		return fmt.Errorf("account %s: %w", r.AccountID, account.ErrNotFound)
	}
	r.ID = a.NextRuleID
	a.NextRuleID++
	a.UpdatedAt = time.Now().UTC()

	if s.rules[key] == nil {
		s.rules[key] = make(map[uint32]*rule.Rule)
	}
	s.rules[key][r.ID] = r.Clone()
	return nil
}

func (s *Store) GetRule(_ context.Context, accountID id.AccountID, ruleID uint32) (*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[accountID.String()][ruleID]
	if !ok {
		return nil, fmt.Errorf("rule %s/%d: %w", accountID, ruleID, rule.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *Store) UpdateRule(_ context.Context, r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := s.rules[r.AccountID.String()]
	if _, ok := rules[r.ID]; !ok {
		return fmt.Errorf("rule %s/%d: %w", r.AccountID, r.ID, rule.ErrNotFound)
	}
	rules[r.ID] = r.Clone()
	return nil
}

func (s *Store) DeleteRule(_ context.Context, accountID id.AccountID, ruleID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := s.rules[accountID.String()]
	if _, ok := rules[ruleID]; !ok {
		return fmt.Errorf("rule %s/%d: %w", accountID, ruleID, rule.ErrNotFound)
	}
	delete(rules, ruleID)
	return nil
}

func (s *Store) ListRules(_ context.Context, filter *rule.ListFilter) ([]*rule.Rule, error) {
	if filter == nil {
		return nil, fmt.Errorf("list rules: account filter required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := s.rules[filter.AccountID.String()]
	ids := make([]uint32, 0, len(rules))
	for ruleID, r := range rules {
		if filter.Type != nil && r.Type != *filter.Type {
			continue
		}
		ids = append(ids, ruleID)
	}
	slices.Sort(ids)

	result := make([]*rule.Rule, 0, len(ids))
	for _, ruleID := range ids {
		result = append(result, rules[ruleID].Clone())
	}
	return applyPagination(result, pagOpts{limit: filter.Limit, offset: filter.Offset}), nil
}

func (s *Store) CountRules(ctx context.Context, filter *rule.ListFilter) (int64, error) {
	if filter != nil {
		unpaged := *filter
		unpaged.Limit, unpaged.Offset = 0, 0
		filter = &unpaged
	}
	list, err := s.ListRules(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (s *Store) DeleteRulesByAccount(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, accountID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Check Log Store
// ──────────────────────────────────────────────────

func (s *Store) CreateCheckLog(_ context.Context, e *checklog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkLogs[e.ID.String()] = copyCheckLog(e)
	return nil
}

func (s *Store) GetCheckLog(_ context.Context, logID id.AuditLogID) (*checklog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.checkLogs[logID.String()]
	if !ok {
		return nil, fmt.Errorf("check log %s: %w", logID, checklog.ErrNotFound)
	}
	return copyCheckLog(e), nil
}

func (s *Store) ListCheckLogs(_ context.Context, filter *checklog.QueryFilter) ([]*checklog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*checklog.Entry, 0, len(s.checkLogs))
	for _, e := range s.checkLogs {
		if filter != nil {
			if !filter.AccountID.IsNil() && e.AccountID.String() != filter.AccountID.String() {
				continue
			}
			if filter.Decision != "" && e.Decision != filter.Decision {
				continue
			}
			if filter.After != nil && e.CreatedAt.Before(*filter.After) {
				continue
			}
			if filter.Before != nil && e.CreatedAt.After(*filter.Before) {
				continue
			}
		}
		result = append(result, copyCheckLog(e))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	var p pagOpts
	if filter != nil {
		p = pagOpts{limit: filter.Limit, offset: filter.Offset}
	}
	return applyPagination(result, p), nil
}

func (s *Store) CountCheckLogs(ctx context.Context, filter *checklog.QueryFilter) (int64, error) {
	if filter != nil {
		unpaged := *filter
		unpaged.Limit, unpaged.Offset = 0, 0
		filter = &unpaged
	}
	list, err := s.ListCheckLogs(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (s *Store) PurgeCheckLogs(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for k, e := range s.checkLogs {
		if e.CreatedAt.Before(before) {
			delete(s.checkLogs, k)
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteCheckLogsByAccount(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.checkLogs {
		if e.AccountID.String() == accountID.String() {
			delete(s.checkLogs, k)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func copyAccount(a *account.Account) *account.Account {
	c := *a
	return &c
}

func copyCheckLog(e *checklog.Entry) *checklog.Entry {
	c := *e
	c.Contexts = slices.Clone(e.Contexts)
	c.Signers = slices.Clone(e.Signers)
	c.MatchedRules = slices.Clone(e.MatchedRules)
	return &c
}

type pagOpts struct{ limit, offset int }

func applyPagination[T any](items []*T, p pagOpts) []*T {
	if p.offset > 0 && p.offset < len(items) {
		items = items[p.offset:]
	} else if p.offset > 0 {
		return nil
	}
	if p.limit > 0 && p.limit < len(items) {
		items = items[:p.limit]
	}
	return items
}
