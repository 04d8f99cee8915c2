package plugin

import (
	"context"
	"log/slog"

	"github.com/xraph/latch/account"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
)

// Named entry types pair a hook with the plugin name for logging.

type beforeEvaluateEntry struct {
	name string
	hook BeforeEvaluate
}
type afterEvaluateEntry struct {
	name string
	hook AfterEvaluate
}
type accountCreatedEntry struct {
	name string
	hook AccountCreated
}
type ruleCreatedEntry struct {
	name string
	hook RuleCreated
}
type ruleUpdatedEntry struct {
	name string
	hook RuleUpdated
}
type ruleDeletedEntry struct {
	name string
	hook RuleDeleted
}
type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered plugins and dispatches lifecycle events.
// It type-caches plugins at registration time so emit calls iterate
// only over plugins implementing the relevant hook.
type Registry struct {
	plugins []Plugin
	logger  *slog.Logger

	beforeEvaluate []beforeEvaluateEntry
	afterEvaluate  []afterEvaluateEntry
	accountCreated []accountCreatedEntry
	ruleCreated    []ruleCreatedEntry
	ruleUpdated    []ruleUpdatedEntry
	ruleDeleted    []ruleDeletedEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates a plugin registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a plugin and type-asserts it into all applicable
// hook caches. Plugins are notified in registration order.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
	name := p.Name()

	if h, ok := p.(BeforeEvaluate); ok {
		r.beforeEvaluate = append(r.beforeEvaluate, beforeEvaluateEntry{name, h})
	}
	if h, ok := p.(AfterEvaluate); ok {
		r.afterEvaluate = append(r.afterEvaluate, afterEvaluateEntry{name, h})
	}
	if h, ok := p.(AccountCreated); ok {
		r.accountCreated = append(r.accountCreated, accountCreatedEntry{name, h})
	}
	if h, ok := p.(RuleCreated); ok {
		r.ruleCreated = append(r.ruleCreated, ruleCreatedEntry{name, h})
	}
	if h, ok := p.(RuleUpdated); ok {
		r.ruleUpdated = append(r.ruleUpdated, ruleUpdatedEntry{name, h})
	}
	if h, ok := p.(RuleDeleted); ok {
		r.ruleDeleted = append(r.ruleDeleted, ruleDeletedEntry{name, h})
	}
	if h, ok := p.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Plugins returns all registered plugins.
func (r *Registry) Plugins() []Plugin { return r.plugins }

// ──────────────────────────────────────────────────
// Evaluation event emitters
// ──────────────────────────────────────────────────

// EmitBeforeEvaluate notifies all plugins that implement BeforeEvaluate.
func (r *Registry) EmitBeforeEvaluate(ctx context.Context, ev *Evaluation) {
	for _, e := range r.beforeEvaluate {
		if err := e.hook.OnBeforeEvaluate(ctx, ev); err != nil {
			r.logHookError("OnBeforeEvaluate", e.name, err)
		}
	}
}

// EmitAfterEvaluate notifies all plugins that implement AfterEvaluate.
func (r *Registry) EmitAfterEvaluate(ctx context.Context, ev *Evaluation) {
	for _, e := range r.afterEvaluate {
		if err := e.hook.OnAfterEvaluate(ctx, ev); err != nil {
			r.logHookError("OnAfterEvaluate", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Account and rule event emitters
// ──────────────────────────────────────────────────

// EmitAccountCreated notifies all plugins that implement AccountCreated.
func (r *Registry) EmitAccountCreated(ctx context.Context, a *account.Account) {
	for _, e := range r.accountCreated {
		if err := e.hook.OnAccountCreated(ctx, a); err != nil {
			r.logHookError("OnAccountCreated", e.name, err)
		}
	}
}

// EmitRuleCreated notifies all plugins that implement RuleCreated.
func (r *Registry) EmitRuleCreated(ctx context.Context, rl *rule.Rule) {
	for _, e := range r.ruleCreated {
		if err := e.hook.OnRuleCreated(ctx, rl); err != nil {
			r.logHookError("OnRuleCreated", e.name, err)
		}
	}
}

// EmitRuleUpdated notifies all plugins that implement RuleUpdated.
func (r *Registry) EmitRuleUpdated(ctx context.Context, rl *rule.Rule) {
	for _, e := range r.ruleUpdated {
		if err := e.hook.OnRuleUpdated(ctx, rl); err != nil {
			r.logHookError("OnRuleUpdated", e.name, err)
		}
	}
}

// EmitRuleDeleted notifies all plugins that implement RuleDeleted.
func (r *Registry) EmitRuleDeleted(ctx context.Context, accountID id.AccountID, ruleID uint32) {
	for _, e := range r.ruleDeleted {
		if err := e.hook.OnRuleDeleted(ctx, accountID, ruleID); err != nil {
			r.logHookError("OnRuleDeleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Shutdown emitter
// ──────────────────────────────────────────────────

// EmitShutdown notifies all plugins that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, pluginName string, err error) {
	r.logger.Warn("plugin hook error",
		slog.String("hook", hook),
		slog.String("plugin", pluginName),
		slog.String("error", err.Error()),
	)
}
