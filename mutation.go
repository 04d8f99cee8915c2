package latch

import (
	"github.com/xraph/latch/action"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/signer"
)

// Admin operation names. They are the function of the admin context an
// account's signers authorize for each rule mutation.
const (
	OpAddRule              = "add_context_rule"
	OpUpdateRuleName       = "update_context_rule_name"
	OpUpdateRuleValidUntil = "update_context_rule_valid_until"
	OpRemoveRule           = "remove_context_rule"
	OpAddSigner            = "add_signer"
	OpRemoveSigner         = "remove_signer"
	OpAddPolicy            = "add_policy"
	OpRemovePolicy         = "remove_policy"
)

// Mutation is an administrative change to an account's rule table. Its
// operation and arguments become the admin context that must be signed.
type Mutation interface {
	Operation() string
	args() []any
}

// AdminProof authorizes one mutation: signatures over the payload derived
// from the mutation's admin context, nonce and expiration ledger.
type AdminProof struct {
	Nonce            uint64            `json:"nonce"`
	ExpirationLedger uint32            `json:"expiration_ledger"`
	Signatures       signer.Signatures `json:"signatures"`
}

// AdminContext returns the action a mutation is authorized as: a call on
// the account's own address.
func AdminContext(accountID id.AccountID, m Mutation) action.Context {
	return action.Call(accountID.String(), m.Operation(), m.args()...)
}

// AddRuleOp adds a context rule.
type AddRuleOp struct {
	Type       rule.Type
	Name       string
	ValidUntil *uint32
	Signers    []signer.Signer
	Policies   []rule.Binding
}

func (m *AddRuleOp) Operation() string { return OpAddRule }

func (m *AddRuleOp) args() []any {
	return []any{m.Type.String(), m.Name, ledgerArg(m.ValidUntil), signerArgs(m.Signers), bindingArgs(m.Policies)}
}

// UpdateRuleNameOp renames a rule.
type UpdateRuleNameOp struct {
	RuleID uint32
	Name   string
}

func (m *UpdateRuleNameOp) Operation() string { return OpUpdateRuleName }
func (m *UpdateRuleNameOp) args() []any       { return []any{uint64(m.RuleID), m.Name} }

// UpdateRuleValidUntilOp changes or clears a rule's expiry.
type UpdateRuleValidUntilOp struct {
	RuleID     uint32
	ValidUntil *uint32
}

func (m *UpdateRuleValidUntilOp) Operation() string { return OpUpdateRuleValidUntil }
func (m *UpdateRuleValidUntilOp) args() []any {
	return []any{uint64(m.RuleID), ledgerArg(m.ValidUntil)}
}

// RemoveRuleOp deletes a rule.
type RemoveRuleOp struct {
	RuleID uint32
}

func (m *RemoveRuleOp) Operation() string { return OpRemoveRule }
func (m *RemoveRuleOp) args() []any       { return []any{uint64(m.RuleID)} }

// AddSignerOp adds a signer to a rule.
type AddSignerOp struct {
	RuleID uint32
	Signer signer.Signer
}

func (m *AddSignerOp) Operation() string { return OpAddSigner }
func (m *AddSignerOp) args() []any       { return []any{uint64(m.RuleID), m.Signer.String()} }

// RemoveSignerOp removes a signer from a rule.
type RemoveSignerOp struct {
	RuleID uint32
	Signer signer.Signer
}

func (m *RemoveSignerOp) Operation() string { return OpRemoveSigner }
func (m *RemoveSignerOp) args() []any       { return []any{uint64(m.RuleID), m.Signer.String()} }

// AddPolicyOp attaches a policy to a rule.
type AddPolicyOp struct {
	RuleID  uint32
	Binding rule.Binding
}

func (m *AddPolicyOp) Operation() string { return OpAddPolicy }
func (m *AddPolicyOp) args() []any {
	return []any{uint64(m.RuleID), m.Binding.Policy.String(), m.Binding.Param}
}

// RemovePolicyOp detaches a policy from a rule.
type RemovePolicyOp struct {
	RuleID uint32
	Policy id.PolicyID
}

func (m *RemovePolicyOp) Operation() string { return OpRemovePolicy }
func (m *RemovePolicyOp) args() []any       { return []any{uint64(m.RuleID), m.Policy.String()} }

func ledgerArg(v *uint32) any {
	if v == nil {
		return nil
	}
	return uint64(*v)
}

func signerArgs(set []signer.Signer) []any {
	out := make([]any, len(set))
	for i, s := range set {
		out[i] = s.String()
	}
	return out
}

func bindingArgs(bindings []rule.Binding) []any {
	out := make([]any, len(bindings))
	for i, b := range bindings {
		out[i] = []any{b.Policy.String(), b.Param}
	}
	return out
}
