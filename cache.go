package latch

import (
	"context"

	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
)

// Cache holds resolved rule lists per account and rule type. The engine
// invalidates an account's entries on every rule mutation.
type Cache interface {
	// GetRules returns the cached rules of the given type, in creation order.
	GetRules(ctx context.Context, accountID id.AccountID, typ rule.Type) ([]*rule.Rule, bool)

	// SetRules stores the rules of the given type.
	SetRules(ctx context.Context, accountID id.AccountID, typ rule.Type, rules []*rule.Rule)

	// InvalidateAccount removes all cached entries for an account.
	InvalidateAccount(ctx context.Context, accountID id.AccountID)
}
