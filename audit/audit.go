// Package audit provides a plugin that records every evaluation outcome in
// a checklog.Store.
package audit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/latch"
	"github.com/xraph/latch/checklog"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/plugin"
)

// Compile-time hook checks.
var (
	_ plugin.Plugin        = (*Plugin)(nil)
	_ plugin.AfterEvaluate = (*Plugin)(nil)
)

// Plugin writes a checklog.Entry after each evaluation.
type Plugin struct {
	store checklog.Store
	now   func() time.Time
}

// Option configures the audit plugin.
type Option func(*Plugin)

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option { return func(p *Plugin) { p.now = now } }

// New creates an audit plugin writing to s.
func New(s checklog.Store, opts ...Option) *Plugin {
	p := &Plugin{store: s, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return "audit" }

// OnAfterEvaluate implements plugin.AfterEvaluate.
func (p *Plugin) OnAfterEvaluate(ctx context.Context, ev *plugin.Evaluation) error {
	entry := &checklog.Entry{
		ID:           id.NewAuditLogID(),
		AccountID:    ev.AccountID,
		Payload:      hex.EncodeToString(ev.Payload),
		Contexts:     make([]string, len(ev.Contexts)),
		Signers:      make([]string, len(ev.Signers)),
		MatchedRules: ev.MatchedRules,
		Decision:     checklog.DecisionAllow,
		Ledger:       ev.Ledger,
		EvalTimeNs:   ev.Duration.Nanoseconds(),
		CreatedAt:    p.now().UTC(),
	}
	for i, c := range ev.Contexts {
		entry.Contexts[i] = c.String()
	}
	for i, s := range ev.Signers {
		entry.Signers[i] = s.String()
	}

	if ev.Err != nil {
		entry.Decision = checklog.DecisionDeny
		entry.Reason = ev.Err.Error()
		entry.Metadata = denialMetadata(ev.Err)
	}

	if err := p.store.CreateCheckLog(ctx, entry); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}

// Purge deletes entries older than maxAge and returns how many were removed.
func (p *Plugin) Purge(ctx context.Context, maxAge time.Duration) (int64, error) {
	return p.store.PurgeCheckLogs(ctx, p.now().Add(-maxAge))
}

func denialMetadata(err error) map[string]any {
	var d *latch.DenialError
	if !errors.As(err, &d) {
		return nil
	}
	md := map[string]any{"error": d.Err.Error()}
	if d.ContextIndex >= 0 {
		md["context_index"] = d.ContextIndex
	}
	if d.RuleID != nil {
		md["rule_id"] = *d.RuleID
	}
	if !d.PolicyID.IsNil() {
		md["policy"] = d.PolicyID.String()
	}
	if d.Signer != nil {
		md["signer"] = d.Signer.String()
	}
	return md
}
