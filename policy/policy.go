// Package policy defines the capability boundary for authorization
// constraints that go beyond signer identity: spending limits, time locks,
// thresholds.
//
// Policies run only for rules whose signer check already passed. Every
// policy attached to a rule must pass for the rule to be satisfied.
package policy

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/xraph/latch/action"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/signer"
)

var (
	// ErrDenied is wrapped by policies that reject a request.
	ErrDenied = errors.New("policy: denied")

	// ErrInvalidParam is wrapped by installers that reject a parameter.
	ErrInvalidParam = errors.New("policy: invalid install parameter")

	// ErrUnknown is returned by Registry.Lookup for unregistered references.
	ErrUnknown = errors.New("policy: unknown reference")
)

// Request is the input to a policy check. It is read-only for policies.
type Request struct {
	AccountID    id.AccountID
	Context      action.Context
	ContextIndex int
	Rule         *rule.Rule
	Ledger       uint32

	// Authenticated is the full authenticated signer set of the evaluation.
	Authenticated []signer.Signer
}

// RuleSigners returns the authenticated signers that are listed on the rule.
func (r *Request) RuleSigners() []signer.Signer {
	var out []signer.Signer
	for _, s := range r.Authenticated {
		if r.Rule.HasSigner(s) {
			out = append(out, s)
		}
	}
	return out
}

// Attributes flattens the request into plain values for expression-based
// policies.
func (r *Request) Attributes() map[string]any {
	signers := make([]any, 0, len(r.Authenticated))
	for _, s := range r.RuleSigners() {
		signers = append(signers, s.String())
	}
	args := make([]any, len(r.Context.Args))
	copy(args, r.Context.Args)

	return map[string]any{
		"account": r.AccountID.String(),
		"ledger":  uint64(r.Ledger),
		"context": map[string]any{
			"kind":      string(r.Context.Kind),
			"contract":  r.Context.Contract,
			"function":  r.Context.Function,
			"args":      args,
			"wasm_hash": hex.EncodeToString(r.Context.WasmHash),
			"index":     int64(r.ContextIndex),
		},
		"rule": map[string]any{
			"id":   uint64(r.Rule.ID),
			"name": r.Rule.Name,
			"type": r.Rule.Type.String(),
		},
		"signers": signers,
	}
}

// Policy checks one authorization constraint.
//
// Check returns nil to approve. Any error denies; implementations should
// wrap ErrDenied for ordinary rejections so callers can tell them apart
// from faults. param is the value the policy was installed with on this rule.
type Policy interface {
	Check(ctx context.Context, req *Request, param []byte) error
}

// Installer is implemented by policies that validate or record their
// parameter when attached to a rule. A failing Install aborts the mutation.
type Installer interface {
	Install(ctx context.Context, accountID id.AccountID, r *rule.Rule, param []byte) error
}

// Validator is implemented by policies whose parameter constrains the shape
// of the rule they are attached to. Validate runs against the changed rule on
// every rule mutation, before it is authorized; a failure aborts it.
type Validator interface {
	Validate(ctx context.Context, accountID id.AccountID, r *rule.Rule, param []byte) error
}

// Uninstaller is implemented by policies that need to release per-rule state
// when detached from a rule or when the rule is removed.
type Uninstaller interface {
	Uninstall(ctx context.Context, accountID id.AccountID, r *rule.Rule) error
}

// Func adapts an ordinary function to the Policy interface.
type Func func(ctx context.Context, req *Request, param []byte) error

// Check calls f.
func (f Func) Check(ctx context.Context, req *Request, param []byte) error {
	return f(ctx, req, param)
}
