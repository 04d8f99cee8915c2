package latch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/latch/account"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/signer"
)

var (
	// ErrNoStore is returned by NewEngine when no store is configured.
	ErrNoStore = errors.New("latch: store is required")

	// ErrAuthenticationFailed is returned when any presented signature fails
	// to verify. A single bad signature rejects the whole request.
	ErrAuthenticationFailed = errors.New("latch: authentication failed")

	// ErrNoMatchingRule is returned when a requested action has no candidate
	// context rule at all.
	ErrNoMatchingRule = errors.New("latch: no matching context rule")

	// ErrUnvalidatedContext is returned when candidate rules exist for an
	// action but none is unexpired and satisfied by an authenticated signer.
	ErrUnvalidatedContext = errors.New("latch: unvalidated context")

	// ErrPolicyRejected is returned when the only otherwise-usable rules for
	// an action were denied by an attached policy.
	ErrPolicyRejected = errors.New("latch: policy rejected")

	// ErrStoreInvariant is returned when a mutation would leave a rule in an
	// invalid state. Nothing is persisted.
	ErrStoreInvariant = errors.New("latch: store invariant violation")

	// ErrRuleNotFound is returned when a rule id does not exist.
	ErrRuleNotFound = rule.ErrNotFound

	// ErrAccountNotFound is returned when an account does not exist.
	ErrAccountNotFound = account.ErrNotFound

	// ErrNonceReused is returned when an authorization envelope is replayed.
	ErrNonceReused = errors.New("latch: nonce already used")

	// ErrSignatureExpired is returned when an envelope's expiration ledger
	// has passed.
	ErrSignatureExpired = errors.New("latch: signature expired")

	// ErrInvalidRequest is returned for malformed or oversized requests.
	ErrInvalidRequest = errors.New("latch: invalid request")
)

// DenialError describes why an authorization was denied. It unwraps to one
// of the sentinel errors above and, when present, to the underlying cause.
type DenialError struct {
	Err error

	// ContextIndex is the position of the failing action, or -1 when the
	// denial is not specific to one action.
	ContextIndex int

	// RuleID is set for policy rejections.
	RuleID *uint32

	// PolicyID is set for policy rejections.
	PolicyID id.PolicyID

	// Signer is set for authentication failures.
	Signer *signer.Signer

	Cause error
}

func (e *DenialError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.ContextIndex >= 0 {
		fmt.Fprintf(&b, ": context %d", e.ContextIndex)
	}
	if e.RuleID != nil {
		fmt.Fprintf(&b, ": rule %d", *e.RuleID)
	}
	if !e.PolicyID.IsNil() {
		fmt.Fprintf(&b, ": policy %s", e.PolicyID)
	}
	if e.Signer != nil {
		fmt.Fprintf(&b, ": signer %s", e.Signer)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the sentinel and the cause.
func (e *DenialError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStoreInvariant, fmt.Sprintf(format, args...))
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
