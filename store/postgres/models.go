package postgres

import (
	"fmt"
	"math"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/latch/account"
	"github.com/xraph/latch/checklog"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/signer"
)

// ──────────────────────────────────────────────────
// Account model
// ──────────────────────────────────────────────────

type accountModel struct {
	grove.BaseModel `grove:"table:latch_accounts"`
	ID              string    `grove:"id,pk"`
	Name            string    `grove:"name,notnull"`
	NextRuleID      int64     `grove:"next_rule_id,notnull"`
	CreatedAt       time.Time `grove:"created_at,notnull"`
	UpdatedAt       time.Time `grove:"updated_at,notnull"`
}

func accountToModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:         a.ID.String(),
		Name:       a.Name,
		NextRuleID: int64(a.NextRuleID),
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func accountFromModel(m *accountModel) *account.Account {
	aid, _ := id.ParseAccountID(m.ID) //nolint:errcheck // stored IDs are always valid
	return &account.Account{
		ID:         aid,
		Name:       m.Name,
		NextRuleID: uint32(m.NextRuleID),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// allocateRuleID hands out the account's next rule id and advances its
// counter. The counter only moves forward, so ids are never reused.
func (m *accountModel) allocateRuleID(now time.Time) (uint32, error) {
	if m.NextRuleID < 0 || m.NextRuleID > math.MaxUint32 {
		return 0, fmt.Errorf("account %s: rule ids exhausted", m.ID)
	}
	ruleID := uint32(m.NextRuleID)
	m.NextRuleID++
	m.UpdatedAt = now
	return ruleID, nil
}

// ──────────────────────────────────────────────────
// Rule model
// ──────────────────────────────────────────────────

type ruleModel struct {
	grove.BaseModel `grove:"table:latch_rules"`
	AccountID       string          `grove:"account_id,pk"`
	RuleID          int64           `grove:"rule_id,pk"`
	TypeKind        string          `grove:"type_kind,notnull"`
	TypeTarget      string          `grove:"type_target,notnull"`
	Name            string          `grove:"name,notnull"`
	ValidUntil      *int64          `grove:"valid_until"`
	Signers         []signer.Signer `grove:"signers,type:jsonb"`
	Policies        []rule.Binding  `grove:"policies,type:jsonb"`
	CreatedAt       time.Time       `grove:"created_at,notnull"`
	UpdatedAt       time.Time       `grove:"updated_at,notnull"`
}

func ruleToModel(r *rule.Rule) *ruleModel {
	m := &ruleModel{
		AccountID:  r.AccountID.String(),
		RuleID:     int64(r.ID),
		TypeKind:   string(r.Type.Kind),
		TypeTarget: r.Type.Target,
		Name:       r.Name,
		Signers:    r.Signers,
		Policies:   r.Policies,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if m.Policies == nil {
		m.Policies = []rule.Binding{}
	}
	if r.ValidUntil != nil {
		v := int64(*r.ValidUntil)
		m.ValidUntil = &v
	}
	return m
}

func ruleFromModel(m *ruleModel) *rule.Rule {
	aid, _ := id.ParseAccountID(m.AccountID) //nolint:errcheck // stored IDs are always valid
	r := &rule.Rule{
		AccountID: aid,
		ID:        uint32(m.RuleID),
		Type:      rule.Type{Kind: rule.Kind(m.TypeKind), Target: m.TypeTarget},
		Name:      m.Name,
		Signers:   m.Signers,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if len(m.Policies) > 0 {
		r.Policies = m.Policies
	}
	if m.ValidUntil != nil {
		v := uint32(*m.ValidUntil)
		r.ValidUntil = &v
	}
	return r
}

// ──────────────────────────────────────────────────
// Check log model
// ──────────────────────────────────────────────────

type checkLogModel struct {
	grove.BaseModel `grove:"table:latch_check_logs"`
	ID              string         `grove:"id,pk"`
	AccountID       string         `grove:"account_id,notnull"`
	Payload         string         `grove:"payload"`
	Contexts        []string       `grove:"contexts,type:jsonb"`
	Signers         []string       `grove:"signers,type:jsonb"`
	MatchedRules    []uint32       `grove:"matched_rules,type:jsonb"`
	Decision        string         `grove:"decision,notnull"`
	Reason          string         `grove:"reason"`
	Ledger          int64          `grove:"ledger,notnull"`
	EvalTimeNs      int64          `grove:"eval_time_ns,notnull"`
	Metadata        map[string]any `grove:"metadata,type:jsonb"`
	CreatedAt       time.Time      `grove:"created_at,notnull"`
}

func checkLogToModel(e *checklog.Entry) *checkLogModel {
	return &checkLogModel{
		ID:           e.ID.String(),
		AccountID:    e.AccountID.String(),
		Payload:      e.Payload,
		Contexts:     e.Contexts,
		Signers:      e.Signers,
		MatchedRules: e.MatchedRules,
		Decision:     e.Decision,
		Reason:       e.Reason,
		Ledger:       int64(e.Ledger),
		EvalTimeNs:   e.EvalTimeNs,
		Metadata:     e.Metadata,
		CreatedAt:    e.CreatedAt,
	}
}

func checkLogFromModel(m *checkLogModel) *checklog.Entry {
	lid, _ := id.ParseAuditLogID(m.ID)       //nolint:errcheck // stored IDs are always valid
	aid, _ := id.ParseAccountID(m.AccountID) //nolint:errcheck // stored IDs are always valid
	return &checklog.Entry{
		ID:           lid,
		AccountID:    aid,
		Payload:      m.Payload,
		Contexts:     m.Contexts,
		Signers:      m.Signers,
		MatchedRules: m.MatchedRules,
		Decision:     m.Decision,
		Reason:       m.Reason,
		Ledger:       uint32(m.Ledger),
		EvalTimeNs:   m.EvalTimeNs,
		Metadata:     m.Metadata,
		CreatedAt:    m.CreatedAt,
	}
}
