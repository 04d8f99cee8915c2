package sqlite

import (
	"encoding/json"
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
	AccountID       string    `grove:"account_id,pk"`
	RuleID          int64     `grove:"rule_id,pk"`
	TypeKind        string    `grove:"type_kind,notnull"`
	TypeTarget      string    `grove:"type_target,notnull"`
	Name            string    `grove:"name,notnull"`
	ValidUntil      *int64    `grove:"valid_until"`
	Signers         string    `grove:"signers,notnull"`  // JSON text
	Policies        string    `grove:"policies,notnull"` // JSON text
	CreatedAt       time.Time `grove:"created_at,notnull"`
	UpdatedAt       time.Time `grove:"updated_at,notnull"`
}

func ruleToModel(r *rule.Rule) (*ruleModel, error) {
	signers, err := json.Marshal(r.Signers)
	if err != nil {
		return nil, fmt.Errorf("marshal rule signers: %w", err)
	}
	policies := r.Policies
	if policies == nil {
		policies = []rule.Binding{}
	}
	bindings, err := json.Marshal(policies)
	if err != nil {
		return nil, fmt.Errorf("marshal rule policies: %w", err)
	}
	m := &ruleModel{
		AccountID:  r.AccountID.String(),
		RuleID:     int64(r.ID),
		TypeKind:   string(r.Type.Kind),
		TypeTarget: r.Type.Target,
		Name:       r.Name,
		Signers:    string(signers),
		Policies:   string(bindings),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.ValidUntil != nil {
		v := int64(*r.ValidUntil)
		m.ValidUntil = &v
	}
	return m, nil
}

func ruleFromModel(m *ruleModel) (*rule.Rule, error) {
	aid, _ := id.ParseAccountID(m.AccountID) //nolint:errcheck // stored IDs are always valid
	var signers []signer.Signer
	if err := json.Unmarshal([]byte(m.Signers), &signers); err != nil {
		return nil, fmt.Errorf("unmarshal rule signers: %w", err)
	}
	var policies []rule.Binding
	if m.Policies != "" && m.Policies != "[]" {
		if err := json.Unmarshal([]byte(m.Policies), &policies); err != nil {
			return nil, fmt.Errorf("unmarshal rule policies: %w", err)
		}
	}
	r := &rule.Rule{
		AccountID: aid,
		ID:        uint32(m.RuleID),
		Type:      rule.Type{Kind: rule.Kind(m.TypeKind), Target: m.TypeTarget},
		Name:      m.Name,
		Signers:   signers,
		Policies:  policies,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.ValidUntil != nil {
		v := uint32(*m.ValidUntil)
		r.ValidUntil = &v
	}
	return r, nil
}

// ──────────────────────────────────────────────────
// Check log model
// ──────────────────────────────────────────────────

type checkLogModel struct {
	grove.BaseModel `grove:"table:latch_check_logs"`
	ID              string    `grove:"id,pk"`
	AccountID       string    `grove:"account_id,notnull"`
	Payload         string    `grove:"payload"`
	Contexts        string    `grove:"contexts"`      // JSON text
	Signers         string    `grove:"signers"`       // JSON text
	MatchedRules    string    `grove:"matched_rules"` // JSON text
	Decision        string    `grove:"decision,notnull"`
	Reason          string    `grove:"reason"`
	Ledger          int64     `grove:"ledger,notnull"`
	EvalTimeNs      int64     `grove:"eval_time_ns,notnull"`
	Metadata        string    `grove:"metadata"` // JSON text
	CreatedAt       time.Time `grove:"created_at,notnull"`
}

func checkLogToModel(e *checklog.Entry) (*checkLogModel, error) {
	contexts, err := json.Marshal(e.Contexts)
	if err != nil {
		return nil, fmt.Errorf("marshal check log contexts: %w", err)
	}
	signers, err := json.Marshal(e.Signers)
	if err != nil {
		return nil, fmt.Errorf("marshal check log signers: %w", err)
	}
	matched, err := json.Marshal(e.MatchedRules)
	if err != nil {
		return nil, fmt.Errorf("marshal check log matched rules: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal check log metadata: %w", err)
	}
	return &checkLogModel{
		ID:           e.ID.String(),
		AccountID:    e.AccountID.String(),
		Payload:      e.Payload,
		Contexts:     string(contexts),
		Signers:      string(signers),
		MatchedRules: string(matched),
		Decision:     e.Decision,
		Reason:       e.Reason,
		Ledger:       int64(e.Ledger),
		EvalTimeNs:   e.EvalTimeNs,
		Metadata:     string(metadata),
		CreatedAt:    e.CreatedAt,
	}, nil
}

func checkLogFromModel(m *checkLogModel) (*checklog.Entry, error) {
	lid, _ := id.ParseAuditLogID(m.ID)       //nolint:errcheck // stored IDs are always valid
	aid, _ := id.ParseAccountID(m.AccountID) //nolint:errcheck // stored IDs are always valid
	e := &checklog.Entry{
		ID:         lid,
		AccountID:  aid,
		Payload:    m.Payload,
		Decision:   m.Decision,
		Reason:     m.Reason,
		Ledger:     uint32(m.Ledger),
		EvalTimeNs: m.EvalTimeNs,
		CreatedAt:  m.CreatedAt,
	}
	for _, f := range []struct {
		raw  string
		dst  any
		what string
	}{
		{m.Contexts, &e.Contexts, "contexts"},
		{m.Signers, &e.Signers, "signers"},
		{m.MatchedRules, &e.MatchedRules, "matched rules"},
		{m.Metadata, &e.Metadata, "metadata"},
	} {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("unmarshal check log %s: %w", f.what, err)
		}
	}
	return e, nil
}
