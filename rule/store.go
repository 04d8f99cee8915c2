package rule

import (
	"context"

	"github.com/xraph/latch/id"
)

// Store defines persistence operations for context rules.
type Store interface {
	// CreateRule persists a new rule. The store allocates r.ID from the
	// owning account's counter atomically with the insert.
	CreateRule(ctx context.Context, r *Rule) error

	// GetRule retrieves a rule by account and ID.
	GetRule(ctx context.Context, accountID id.AccountID, ruleID uint32) (*Rule, error)

	// UpdateRule replaces the mutable fields of a rule.
	UpdateRule(ctx context.Context, r *Rule) error

	// DeleteRule removes a rule.
	DeleteRule(ctx context.Context, accountID id.AccountID, ruleID uint32) error

	// ListRules returns rules matching the filter in creation order.
	ListRules(ctx context.Context, filter *ListFilter) ([]*Rule, error)

	// CountRules returns the number of rules matching the filter.
	CountRules(ctx context.Context, filter *ListFilter) (int64, error)

	// DeleteRulesByAccount removes all rules for an account.
	DeleteRulesByAccount(ctx context.Context, accountID id.AccountID) error
}
