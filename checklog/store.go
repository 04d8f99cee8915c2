package checklog

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/latch/id"
)

// ErrNotFound is wrapped by stores when an entry does not exist.
var ErrNotFound = errors.New("checklog: not found")

// Store defines persistence operations for evaluation audit entries.
type Store interface {
	// CreateCheckLog persists a new entry.
	CreateCheckLog(ctx context.Context, e *Entry) error

	// GetCheckLog retrieves an entry by ID.
	GetCheckLog(ctx context.Context, logID id.AuditLogID) (*Entry, error)

	// ListCheckLogs returns entries matching the filter, newest first.
	ListCheckLogs(ctx context.Context, filter *QueryFilter) ([]*Entry, error)

	// CountCheckLogs returns the number of entries matching the filter.
	CountCheckLogs(ctx context.Context, filter *QueryFilter) (int64, error)

	// PurgeCheckLogs removes entries older than the given time.
	PurgeCheckLogs(ctx context.Context, before time.Time) (int64, error)

	// DeleteCheckLogsByAccount removes all entries for an account.
	DeleteCheckLogsByAccount(ctx context.Context, accountID id.AccountID) error
}
