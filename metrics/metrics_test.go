package metrics

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/latch"
	"github.com/xraph/latch/action"
	"github.com/xraph/latch/signer"
	"github.com/xraph/latch/store/memory"
)

func TestMetricsPlugin(t *testing.T) {
	ctx := context.Background()
	p := New(prometheus.NewRegistry())
	eng, err := latch.NewEngine(latch.WithStore(memory.New()), latch.WithPlugin(p))
	if err != nil {
		t.Fatal(err)
	}

	pub, priv, _ := ed25519.GenerateKey(nil)
	admin := signer.Native(pub)
	a, _, err := eng.CreateAccount(ctx, "wallet", []signer.Signer{admin})
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(p.accounts); got != 1 {
		t.Fatalf("expected 1 account, got %v", got)
	}
	if got := testutil.ToFloat64(p.ruleChanges.WithLabelValues("created")); got != 1 {
		t.Fatalf("expected admin rule creation counted, got %v", got)
	}

	payload := make([]byte, 32)
	sigs := signer.Signatures{}.Add(admin, ed25519.Sign(priv, payload))
	for _, c := range []action.Context{action.Call(a.Address(), "ping"), action.Call("CX", "f"), action.Call("CY", "f")} {
		_, _ = eng.Evaluate(ctx, &latch.EvaluateRequest{Account: a.ID, Payload: payload, Signatures: sigs, Contexts: []action.Context{c}})
	}

	if got := testutil.ToFloat64(p.evaluations.WithLabelValues("allow", "ok")); got != 1 {
		t.Fatalf("expected 1 allow, got %v", got)
	}
	if got := testutil.ToFloat64(p.evaluations.WithLabelValues("deny", "no_matching_rule")); got != 2 {
		t.Fatalf("expected 2 denials, got %v", got)
	}
}

func TestReason(t *testing.T) {
	cases := map[string]error{
		"ok":                    nil,
		"policy_rejected":       &latch.DenialError{Err: latch.ErrPolicyRejected, ContextIndex: -1},
		"authentication_failed": &latch.DenialError{Err: latch.ErrAuthenticationFailed, ContextIndex: -1},
		"account_not_found":     latch.ErrAccountNotFound,
		"error":                 context.Canceled,
	}
	for want, err := range cases {
		if got := Reason(err); got != want {
			t.Fatalf("Reason(%v) = %s, want %s", err, got, want)
		}
	}
}
