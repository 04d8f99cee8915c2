package latch

import (
	"errors"
	"strings"
	"testing"

	"github.com/xraph/latch/id"
	"github.com/xraph/latch/policy"
)

func TestDenialErrorUnwrap(t *testing.T) {
	ruleID := uint32(3)
	pol := id.NewPolicyID()
	err := error(&DenialError{
		Err:          ErrPolicyRejected,
		ContextIndex: 1,
		RuleID:       &ruleID,
		PolicyID:     pol,
		Cause:        policy.ErrDenied,
	})

	if !errors.Is(err, ErrPolicyRejected) || !errors.Is(err, policy.ErrDenied) {
		t.Fatal("DenialError must unwrap to both sentinel and cause")
	}
	if errors.Is(err, ErrUnvalidatedContext) {
		t.Fatal("unexpected sentinel match")
	}
	msg := err.Error()
	for _, want := range []string{"policy rejected", "context 1", "rule 3", pol.String()} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}
