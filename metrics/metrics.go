// Package metrics provides a plugin exporting Prometheus metrics for
// evaluations and rule table changes.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xraph/latch"
	"github.com/xraph/latch/account"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/plugin"
	"github.com/xraph/latch/rule"
)

// Compile-time hook checks.
var (
	_ plugin.AfterEvaluate  = (*Plugin)(nil)
	_ plugin.AccountCreated = (*Plugin)(nil)
	_ plugin.RuleCreated    = (*Plugin)(nil)
	_ plugin.RuleUpdated    = (*Plugin)(nil)
	_ plugin.RuleDeleted    = (*Plugin)(nil)
)

// Plugin records Prometheus metrics.
type Plugin struct {
	evaluations *prometheus.CounterVec
	duration    prometheus.Histogram
	accounts    prometheus.Counter
	ruleChanges *prometheus.CounterVec
}

// New registers the latch metrics with reg. Pass prometheus.DefaultRegisterer
// to expose them on the default handler.
func New(reg prometheus.Registerer) *Plugin {
	f := promauto.With(reg)
	return &Plugin{
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "latch_evaluations_total",
			Help: "Total number of authorization evaluations, by decision and reason.",
		}, []string{"decision", "reason"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "latch_evaluation_duration_seconds",
			Help:    "Time spent evaluating authorization requests.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		accounts: f.NewCounter(prometheus.CounterOpts{
			Name: "latch_accounts_created_total",
			Help: "Total number of accounts created.",
		}),
		ruleChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "latch_rule_changes_total",
			Help: "Total number of context rule changes, by event.",
		}, []string{"event"}), // created, updated, deleted
	}
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return "metrics" }

func (p *Plugin) OnAfterEvaluate(_ context.Context, ev *plugin.Evaluation) error {
	decision := "allow"
	if !ev.Allowed() {
		decision = "deny"
	}
	p.evaluations.WithLabelValues(decision, Reason(ev.Err)).Inc()
	p.duration.Observe(ev.Duration.Seconds())
	return nil
}

func (p *Plugin) OnAccountCreated(context.Context, *account.Account) error {
	p.accounts.Inc()
	return nil
}

func (p *Plugin) OnRuleCreated(context.Context, *rule.Rule) error {
	p.ruleChanges.WithLabelValues("created").Inc()
	return nil
}

func (p *Plugin) OnRuleUpdated(context.Context, *rule.Rule) error {
	p.ruleChanges.WithLabelValues("updated").Inc()
	return nil
}

func (p *Plugin) OnRuleDeleted(context.Context, id.AccountID, uint32) error {
	p.ruleChanges.WithLabelValues("deleted").Inc()
	return nil
}

var reasons = []struct {
	err   error
	label string
}{
	{latch.ErrAuthenticationFailed, "authentication_failed"},
	{latch.ErrNoMatchingRule, "no_matching_rule"},
	{latch.ErrUnvalidatedContext, "unvalidated_context"},
	{latch.ErrPolicyRejected, "policy_rejected"},
	{latch.ErrSignatureExpired, "signature_expired"},
	{latch.ErrNonceReused, "nonce_reused"},
	{latch.ErrInvalidRequest, "invalid_request"},
	{latch.ErrAccountNotFound, "account_not_found"},
}

// Reason maps an evaluation error to a low-cardinality label.
func Reason(err error) string {
	if err == nil {
		return "ok"
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "error"
}
