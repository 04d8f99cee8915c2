// Package rule defines the ContextRule entity and its store interface.
//
// A context rule binds a class of actions (its Type) to the signers that may
// authorize them and the policies that must additionally approve. Rule IDs
// are allocated per account from a counter that only moves forward, so an ID
// is never reused even after its rule is removed.
package rule

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/latch/action"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/signer"
)

// ErrNotFound is wrapped by stores when a rule does not exist.
var ErrNotFound = errors.New("rule: not found")

// Kind is the category of actions a rule covers.
type Kind string

const (
	// KindDefault covers any action that no more specific rule matches.
	KindDefault Kind = "default"

	// KindCallContract covers invocations of one contract (Type.Target).
	KindCallContract Kind = "call_contract"

	// KindCreateContract covers deployments of one code hash (Type.Target,
	// lowercase hex).
	KindCreateContract Kind = "create_contract"
)

// Type is a rule's scope.
type Type struct {
	Kind   Kind   `json:"kind" cbor:"kind"`
	Target string `json:"target,omitempty" cbor:"target,omitempty"`
}

// Default returns the catch-all rule type.
func Default() Type { return Type{Kind: KindDefault} }

// CallContract returns a rule type covering calls to contract.
func CallContract(contract string) Type {
	return Type{Kind: KindCallContract, Target: contract}
}

// CreateContract returns a rule type covering deployments of wasmHash.
func CreateContract(wasmHash []byte) Type {
	return Type{Kind: KindCreateContract, Target: hex.EncodeToString(wasmHash)}
}

// Validate checks the type is well formed.
func (t Type) Validate() error {
	switch t.Kind {
	case KindDefault:
		if t.Target != "" {
			return fmt.Errorf("rule: default type must not carry a target")
		}
	case KindCallContract:
		if t.Target == "" {
			return fmt.Errorf("rule: call_contract type without contract")
		}
	case KindCreateContract:
		if _, err := hex.DecodeString(t.Target); err != nil || t.Target == "" {
			return fmt.Errorf("rule: create_contract target %q is not a hex wasm hash", t.Target)
		}
		if t.Target != strings.ToLower(t.Target) {
			return fmt.Errorf("rule: create_contract target must be lowercase hex")
		}
	default:
		return fmt.Errorf("rule: unknown type kind %q", t.Kind)
	}
	return nil
}

// String renders the type as "default", "call_contract:<addr>" or
// "create_contract:<hex>".
func (t Type) String() string {
	if t.Kind == KindDefault {
		return string(t.Kind)
	}
	return string(t.Kind) + ":" + t.Target
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	kind, target, _ := strings.Cut(s, ":")
	t := Type{Kind: Kind(kind), Target: target}
	return t, t.Validate()
}

// TypesFor returns the rule types that may cover c, most specific first.
// Default rules are always considered last.
func TypesFor(c action.Context) []Type {
	switch c.Kind {
	case action.KindContract:
		return []Type{CallContract(c.Contract), Default()}
	case action.KindCreateContract:
		return []Type{CreateContract(c.WasmHash), Default()}
	default:
		return []Type{Default()}
	}
}

// Binding attaches a policy to a rule together with the parameter the
// policy was installed with.
type Binding struct {
	Policy id.PolicyID `json:"policy" cbor:"policy"`
	Param  []byte      `json:"param,omitempty" cbor:"param,omitempty"`
}

// Rule is a context rule owned by an account.
type Rule struct {
	AccountID  id.AccountID    `json:"account_id" db:"account_id"`
	ID         uint32          `json:"id" db:"rule_id"`
	Type       Type            `json:"type" db:"-"`
	Name       string          `json:"name" db:"name"`
	ValidUntil *uint32         `json:"valid_until,omitempty" db:"valid_until"`
	Signers    []signer.Signer `json:"signers" db:"signers"`
	Policies   []Binding       `json:"policies,omitempty" db:"policies"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the rule is unusable at the given ledger.
// A rule with ValidUntil == ledger is still usable.
func (r *Rule) Expired(ledger uint32) bool {
	return r.ValidUntil != nil && *r.ValidUntil < ledger
}

// HasSigner reports whether s is one of the rule's signers.
func (r *Rule) HasSigner(s signer.Signer) bool {
	return signer.Contains(r.Signers, s)
}

// PolicyIndex returns the position of policyID among the rule's bindings, or -1.
func (r *Rule) PolicyIndex(policyID id.PolicyID) int {
	for i := range r.Policies {
		if r.Policies[i].Policy.String() == policyID.String() {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of r.
func (r *Rule) Clone() *Rule {
	cp := *r
	if r.ValidUntil != nil {
		v := *r.ValidUntil
		cp.ValidUntil = &v
	}
	cp.Signers = signer.Clone(r.Signers)
	if r.Policies != nil {
		cp.Policies = make([]Binding, len(r.Policies))
		for i, b := range r.Policies {
			cp.Policies[i] = Binding{Policy: b.Policy, Param: bytes.Clone(b.Param)}
		}
	}
	return &cp
}

// ListFilter contains filters for listing rules. AccountID is required.
type ListFilter struct {
	AccountID id.AccountID `json:"account_id"`
	Type      *Type        `json:"type,omitempty"`
	Limit     int          `json:"limit,omitempty"`
	Offset    int          `json:"offset,omitempty"`
}
