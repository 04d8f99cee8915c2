// Package checklog defines the evaluation audit Entry entity.
package checklog

import (
	"time"

	"github.com/xraph/latch/id"
)

// Decision values recorded on entries.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Entry is a single authorization evaluation audit record.
type Entry struct {
	ID           id.AuditLogID  `json:"id" db:"id"`
	AccountID    id.AccountID   `json:"account_id" db:"account_id"`
	Payload      string         `json:"payload" db:"payload"`
	Contexts     []string       `json:"contexts" db:"contexts"`
	Signers      []string       `json:"signers,omitempty" db:"signers"`
	MatchedRules []uint32       `json:"matched_rules,omitempty" db:"matched_rules"`
	Decision     string         `json:"decision" db:"decision"`
	Reason       string         `json:"reason,omitempty" db:"reason"`
	Ledger       uint32         `json:"ledger" db:"ledger"`
	EvalTimeNs   int64          `json:"eval_time_ns" db:"eval_time_ns"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// QueryFilter contains filters for querying audit entries.
type QueryFilter struct {
	AccountID id.AccountID `json:"account_id,omitempty"`
	Decision  string       `json:"decision,omitempty"`
	After     *time.Time   `json:"after,omitempty"`
	Before    *time.Time   `json:"before,omitempty"`
	Limit     int          `json:"limit,omitempty"`
	Offset    int          `json:"offset,omitempty"`
}
