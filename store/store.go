// Package store defines the aggregate persistence interface. Each entity
// package (account, rule, checklog) defines its own store interface and the
// composite Store embeds them all.
// Backends: Memory, SQLite, Postgres and MongoDB.
package store

import (
	"context"

	"github.com/xraph/latch/account"
	"github.com/xraph/latch/checklog"
	"github.com/xraph/latch/rule"
)

// Store is the aggregate persistence interface.
// A single backend implements every entity store.
type Store interface {
	account.Store
	rule.Store
	checklog.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
