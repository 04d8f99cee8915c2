// Package plugin defines the plugin system for latch.
// Plugins are notified of lifecycle events (evaluation performed, rule
// created, rule removed, etc.) and can react: audit logging, metrics,
// tracing.
//
// Each lifecycle hook is a separate interface so plugins opt in only
// to the events they care about. Hook errors are logged, never propagated:
// a failing plugin cannot change an authorization decision.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/latch/account"
	"github.com/xraph/latch/action"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/signer"
)

// Plugin is the base interface all plugins must implement.
type Plugin interface {
	// Name returns a unique human-readable name for the plugin.
	Name() string
}

// Evaluation describes one authorization evaluation. Before hooks see the
// request fields only; after hooks also see the outcome.
type Evaluation struct {
	AccountID id.AccountID
	Payload   []byte
	Contexts  []action.Context
	Signers   []signer.Signer
	Ledger    uint32

	// Outcome, set for AfterEvaluate.
	MatchedRules []uint32
	Err          error
	Duration     time.Duration
}

// Allowed reports whether the evaluation authorized the request.
func (e *Evaluation) Allowed() bool { return e.Err == nil }

// ──────────────────────────────────────────────────
// Evaluation lifecycle hooks
// ──────────────────────────────────────────────────

// BeforeEvaluate is called before an authorization request is evaluated.
type BeforeEvaluate interface {
	OnBeforeEvaluate(ctx context.Context, ev *Evaluation) error
}

// AfterEvaluate is called after an evaluation completes, allowed or denied.
type AfterEvaluate interface {
	OnAfterEvaluate(ctx context.Context, ev *Evaluation) error
}

// ──────────────────────────────────────────────────
// Account and rule lifecycle hooks
// ──────────────────────────────────────────────────

// AccountCreated is called after an account and its admin rule are created.
type AccountCreated interface {
	OnAccountCreated(ctx context.Context, a *account.Account) error
}

// RuleCreated is called after a context rule is added.
type RuleCreated interface {
	OnRuleCreated(ctx context.Context, r *rule.Rule) error
}

// RuleUpdated is called after any targeted rule mutation.
type RuleUpdated interface {
	OnRuleUpdated(ctx context.Context, r *rule.Rule) error
}

// RuleDeleted is called after a context rule is removed.
type RuleDeleted interface {
	OnRuleDeleted(ctx context.Context, accountID id.AccountID, ruleID uint32) error
}

// ──────────────────────────────────────────────────
// Shutdown hook
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
