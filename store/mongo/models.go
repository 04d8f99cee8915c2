package mongo

import (
	"fmt"
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
	ID              string    `grove:"id,pk"        bson:"_id"`
	Name            string    `grove:"name"         bson:"name"`
	NextRuleID      int64     `grove:"next_rule_id" bson:"next_rule_id"`
	CreatedAt       time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt       time.Time `grove:"updated_at"   bson:"updated_at"`
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

// ──────────────────────────────────────────────────
// Rule model
// ──────────────────────────────────────────────────

type ruleModel struct {
	grove.BaseModel `grove:"table:latch_rules"`
	ID              string         `grove:"id,pk"       bson:"_id"`
	AccountID       string         `grove:"account_id"  bson:"account_id"`
	RuleID          int64          `grove:"rule_id"     bson:"rule_id"`
	TypeKind        string         `grove:"type_kind"   bson:"type_kind"`
	TypeTarget      string         `grove:"type_target" bson:"type_target"`
	Name            string         `grove:"name"        bson:"name"`
	ValidUntil      *int64         `grove:"valid_until" bson:"valid_until,omitempty"`
	Signers         []string       `grove:"signers"     bson:"signers"`
	Policies        []bindingModel `grove:"policies"    bson:"policies"`
	CreatedAt       time.Time      `grove:"created_at"  bson:"created_at"`
	UpdatedAt       time.Time      `grove:"updated_at"  bson:"updated_at"`
}

type bindingModel struct {
	Policy string `bson:"policy"`
	Param  []byte `bson:"param,omitempty"`
}

// ruleDocID is the document key of a rule: rule IDs are only unique per account.
func ruleDocID(accountID id.AccountID, ruleID uint32) string {
	return fmt.Sprintf("%s/%d", accountID, ruleID)
}

func ruleToModel(r *rule.Rule) *ruleModel {
	m := &ruleModel{
		ID:         ruleDocID(r.AccountID, r.ID),
		AccountID:  r.AccountID.String(),
		RuleID:     int64(r.ID),
		TypeKind:   string(r.Type.Kind),
		TypeTarget: r.Type.Target,
		Name:       r.Name,
		Signers:    make([]string, len(r.Signers)),
		Policies:   make([]bindingModel, len(r.Policies)),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	for i, s := range r.Signers {
		m.Signers[i] = s.String()
	}
	for i, b := range r.Policies {
		m.Policies[i] = bindingModel{Policy: b.Policy.String(), Param: b.Param}
	}
	if r.ValidUntil != nil {
		v := int64(*r.ValidUntil)
		m.ValidUntil = &v
	}
	return m
}

func ruleFromModel(m *ruleModel) (*rule.Rule, error) {
	aid, _ := id.ParseAccountID(m.AccountID) //nolint:errcheck // stored IDs are always valid
	r := &rule.Rule{
		AccountID: aid,
		ID:        uint32(m.RuleID),
		Type:      rule.Type{Kind: rule.Kind(m.TypeKind), Target: m.TypeTarget},
		Name:      m.Name,
		Signers:   make([]signer.Signer, len(m.Signers)),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for i, text := range m.Signers {
		s, err := signer.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", m.ID, err)
		}
		r.Signers[i] = s
	}
	for _, b := range m.Policies {
		pid, err := id.ParsePolicyID(b.Policy)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", m.ID, err)
		}
		r.Policies = append(r.Policies, rule.Binding{Policy: pid, Param: b.Param})
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
	ID              string         `grove:"id,pk"         bson:"_id"`
	AccountID       string         `grove:"account_id"    bson:"account_id"`
	Payload         string         `grove:"payload"       bson:"payload"`
	Contexts        []string       `grove:"contexts"      bson:"contexts"`
	Signers         []string       `grove:"signers"       bson:"signers,omitempty"`
	MatchedRules    []int64        `grove:"matched_rules" bson:"matched_rules,omitempty"`
	Decision        string         `grove:"decision"      bson:"decision"`
	Reason          string         `grove:"reason"        bson:"reason"`
	Ledger          int64          `grove:"ledger"        bson:"ledger"`
	EvalTimeNs      int64          `grove:"eval_time_ns"  bson:"eval_time_ns"`
	Metadata        map[string]any `grove:"metadata"      bson:"metadata,omitempty"`
	CreatedAt       time.Time      `grove:"created_at"    bson:"created_at"`
}

func checkLogToModel(e *checklog.Entry) *checkLogModel {
	m := &checkLogModel{
		ID:         e.ID.String(),
		AccountID:  e.AccountID.String(),
		Payload:    e.Payload,
		Contexts:   e.Contexts,
		Signers:    e.Signers,
		Decision:   e.Decision,
		Reason:     e.Reason,
		Ledger:     int64(e.Ledger),
		EvalTimeNs: e.EvalTimeNs,
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt,
	}
	for _, r := range e.MatchedRules {
		m.MatchedRules = append(m.MatchedRules, int64(r))
	}
	return m
}

func checkLogFromModel(m *checkLogModel) *checklog.Entry {
	lid, _ := id.ParseAuditLogID(m.ID)       //nolint:errcheck // stored IDs are always valid
	aid, _ := id.ParseAccountID(m.AccountID) //nolint:errcheck // stored IDs are always valid
	e := &checklog.Entry{
		ID:         lid,
		AccountID:  aid,
		Payload:    m.Payload,
		Contexts:   m.Contexts,
		Signers:    m.Signers,
		Decision:   m.Decision,
		Reason:     m.Reason,
		Ledger:     uint32(m.Ledger),
		EvalTimeNs: m.EvalTimeNs,
		Metadata:   m.Metadata,
		CreatedAt:  m.CreatedAt,
	}
	for _, r := range m.MatchedRules {
		e.MatchedRules = append(e.MatchedRules, uint32(r))
	}
	return e
}
