// Package account defines the smart account entity. An account owns a set of
// context rules and the counter from which their IDs are drawn.
package account

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/latch/id"
)

// ErrNotFound is wrapped by stores when an account does not exist.
var ErrNotFound = errors.New("account: not found")

// Account is a smart account.
type Account struct {
	ID         id.AccountID `json:"id" db:"id"`
	Name       string       `json:"name" db:"name"`
	NextRuleID uint32       `json:"next_rule_id" db:"next_rule_id"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}

// Address is the account's contract address. Rule-table mutations are
// authorized as calls to this address.
func (a *Account) Address() string { return a.ID.String() }

// ListFilter contains filters for listing accounts.
type ListFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store defines persistence operations for accounts.
type Store interface {
	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, a *Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)

	// ListAccounts returns accounts in creation order.
	ListAccounts(ctx context.Context, filter *ListFilter) ([]*Account, error)

	// DeleteAccount removes an account. Its rules are not touched.
	DeleteAccount(ctx context.Context, accountID id.AccountID) error
}
