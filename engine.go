package latch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xraph/latch/account"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/ledger"
	"github.com/xraph/latch/nonce"
	noncemem "github.com/xraph/latch/nonce/memory"
	"github.com/xraph/latch/plugin"
	"github.com/xraph/latch/policy"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/signer"
	"github.com/xraph/latch/store"
	"github.com/xraph/latch/verifier"
)

// AdminRuleName is the name of the rule CreateAccount installs.
const AdminRuleName = "admin"

// Engine is the smart-account authorization engine. It evaluates
// authorization requests against each account's context rules and manages
// those rules under the account's own authorization.
type Engine struct {
	store     store.Store
	verifiers *verifier.Registry
	policies  *policy.Registry
	ledger    ledger.Source
	nonces    nonce.Store
	cache     Cache
	plugins   *plugin.Registry
	logger    *slog.Logger
	config    Config
	locks     accountLocks

	// prunedAt is the last ledger the nonce store was pruned at.
	prunedAt atomic.Uint32

	pending []plugin.Plugin
	optErrs []error
}

// NewEngine creates a new latch engine with the given options.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		verifiers: verifier.NewRegistry(),
		policies:  policy.NewRegistry(),
		logger:    slog.Default(),
		config:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := errors.Join(e.optErrs...); err != nil {
		return nil, err
	}
	if e.store == nil {
		return nil, ErrNoStore
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	if e.ledger == nil {
		e.ledger = ledger.Clock{Genesis: time.Unix(0, 0).UTC(), Interval: e.config.LedgerInterval}
	}
	if e.nonces == nil {
		e.nonces = noncemem.New()
	}

	e.plugins = plugin.NewRegistry(e.logger)
	for _, p := range e.pending {
		e.plugins.Register(p)
	}
	e.pending = nil
	return e, nil
}

// Store returns the underlying composite store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

// Verifiers returns the external verifier registry.
func (e *Engine) Verifiers() *verifier.Registry { return e.verifiers }

// Policies returns the policy registry.
func (e *Engine) Policies() *policy.Registry { return e.policies }

// Start checks that the store is reachable.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("latch: store ping: %w", err)
	}
	return nil
}

// Stop notifies plugins of shutdown.
func (e *Engine) Stop(ctx context.Context) error {
	e.plugins.EmitShutdown(ctx)
	return nil
}

// Close stops the engine and closes the store.
func (e *Engine) Close(ctx context.Context) error {
	_ = e.Stop(ctx)
	return e.store.Close()
}

// CurrentLedger returns the ledger sequence used for expiry decisions.
func (e *Engine) CurrentLedger(ctx context.Context) (uint32, error) {
	seq, err := e.ledger.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("latch: current ledger: %w", err)
	}
	return seq, nil
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// CreateAccount creates an account together with its admin rule: a
// call_contract rule targeting the account's own address, satisfied by any
// of admins. Every later rule mutation must be authorized under that rule
// or another rule covering the account address.
func (e *Engine) CreateAccount(ctx context.Context, name string, admins []signer.Signer) (*account.Account, *rule.Rule, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, invalidf("account name is required")
	}
	if len(admins) == 0 {
		return nil, nil, invariantf("admin signer set is empty")
	}
	if err := signer.ValidateSet(admins); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStoreInvariant, err)
	}

	now := time.Now().UTC()
	a := &account.Account{
		ID:        id.NewAccountID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, nil, fmt.Errorf("latch: create account: %w", err)
	}

	admin := &rule.Rule{
		AccountID: a.ID,
		Type:      rule.CallContract(a.Address()),
		Name:      AdminRuleName,
		Signers:   signer.Clone(admins),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRule(ctx, admin); err != nil {
		_ = e.store.DeleteAccount(ctx, a.ID)
		return nil, nil, fmt.Errorf("latch: create admin rule: %w", err)
	}
	a.NextRuleID = admin.ID + 1

	e.plugins.EmitAccountCreated(ctx, a)
	e.plugins.EmitRuleCreated(ctx, admin)
	return a, admin, nil
}

// GetAccount returns an account.
func (e *Engine) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return e.store.GetAccount(ctx, accountID)
}

// ──────────────────────────────────────────────────
// Rule reads
// ──────────────────────────────────────────────────

// GetRule returns one rule. It fails with ErrRuleNotFound if absent.
func (e *Engine) GetRule(ctx context.Context, accountID id.AccountID, ruleID uint32) (*rule.Rule, error) {
	return e.store.GetRule(ctx, accountID, ruleID)
}

// ListRules returns an account's rules in creation order, optionally
// restricted to one rule type.
func (e *Engine) ListRules(ctx context.Context, accountID id.AccountID, typ *rule.Type) ([]*rule.Rule, error) {
	return e.store.ListRules(ctx, &rule.ListFilter{AccountID: accountID, Type: typ})
}

// CountRules returns the number of rules an account holds, optionally
// restricted to one rule type.
func (e *Engine) CountRules(ctx context.Context, accountID id.AccountID, typ *rule.Type) (int64, error) {
	return e.store.CountRules(ctx, &rule.ListFilter{AccountID: accountID, Type: typ})
}

// rulesOfType resolves rules of one type through the cache.
func (e *Engine) rulesOfType(ctx context.Context, accountID id.AccountID, typ rule.Type) ([]*rule.Rule, error) {
	if e.cache != nil {
		if rules, ok := e.cache.GetRules(ctx, accountID, typ); ok {
			return rules, nil
		}
	}
	rules, err := e.store.ListRules(ctx, &rule.ListFilter{AccountID: accountID, Type: &typ})
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.SetRules(ctx, accountID, typ, rules)
	}
	return rules, nil
}

func (e *Engine) invalidate(ctx context.Context, accountID id.AccountID) {
	if e.cache != nil {
		e.cache.InvalidateAccount(ctx, accountID)
	}
}
