package plugin

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
)

// testPlugin implements Plugin + RuleCreated + AfterEvaluate.
type testPlugin struct {
	ruleCreatedCalled bool
	afterEvalCalled   bool
}

func (t *testPlugin) Name() string { return "test-plugin" }

func (t *testPlugin) OnRuleCreated(_ context.Context, _ *rule.Rule) error {
	t.ruleCreatedCalled = true
	return nil
}

func (t *testPlugin) OnAfterEvaluate(_ context.Context, _ *Evaluation) error {
	t.afterEvalCalled = true
	return errors.New("boom")
}

// minimalPlugin only implements Plugin (no hooks).
type minimalPlugin struct{}

func (m *minimalPlugin) Name() string { return "minimal" }

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(slog.Default())

	tp := &testPlugin{}
	reg.Register(tp)
	reg.Register(&minimalPlugin{})

	if len(reg.Plugins()) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(reg.Plugins()))
	}

	reg.EmitRuleCreated(ctx, &rule.Rule{AccountID: id.NewAccountID(), Name: "admin"})
	if !tp.ruleCreatedCalled {
		t.Fatal("OnRuleCreated was not called")
	}

	// Hook errors are swallowed.
	reg.EmitAfterEvaluate(ctx, &Evaluation{})
	if !tp.afterEvalCalled {
		t.Fatal("OnAfterEvaluate was not called")
	}

	// Should not panic on hooks with no listeners.
	reg.EmitBeforeEvaluate(ctx, &Evaluation{})
	reg.EmitRuleDeleted(ctx, id.NewAccountID(), 3)
	reg.EmitShutdown(ctx)
}

func TestEvaluationAllowed(t *testing.T) {
	if !(&Evaluation{}).Allowed() {
		t.Fatal("nil error should be allowed")
	}
	if (&Evaluation{Err: errors.New("denied")}).Allowed() {
		t.Fatal("error should be denied")
	}
}
