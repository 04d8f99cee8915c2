package cache

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
)

func TestMemoryCacheHitMiss(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(WithTTL(time.Minute))
	acct := id.NewAccountID()
	typ := rule.CallContract("CCOUNTER")

	if _, ok := c.GetRules(ctx, acct, typ); ok {
		t.Fatal("expected cache miss")
	}

	c.SetRules(ctx, acct, typ, []*rule.Rule{{AccountID: acct, ID: 4, Name: "counter", Type: typ}})
	got, ok := c.GetRules(ctx, acct, typ)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 1 || got[0].ID != 4 {
		t.Fatalf("unexpected rules %+v", got)
	}

	// An empty list is a valid cached answer.
	c.SetRules(ctx, acct, rule.Default(), nil)
	if got, ok := c.GetRules(ctx, acct, rule.Default()); !ok || len(got) != 0 {
		t.Fatal("expected cached empty list")
	}
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	acct := id.NewAccountID()

	c.SetRules(ctx, acct, rule.Default(), []*rule.Rule{{Name: "a"}})
	got, _ := c.GetRules(ctx, acct, rule.Default())
	got[0].Name = "mutated"

	again, _ := c.GetRules(ctx, acct, rule.Default())
	if again[0].Name != "a" {
		t.Fatal("cached rule was mutated through a returned pointer")
	}
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(WithTTL(time.Millisecond))
	acct := id.NewAccountID()

	c.SetRules(ctx, acct, rule.Default(), []*rule.Rule{{Name: "a"}})
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.GetRules(ctx, acct, rule.Default()); ok {
		t.Fatal("expected cache miss after TTL expiry")
	}
}

func TestMemoryCacheInvalidateAccount(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	a, b := id.NewAccountID(), id.NewAccountID()

	c.SetRules(ctx, a, rule.Default(), nil)
	c.SetRules(ctx, a, rule.CallContract("C1"), nil)
	c.SetRules(ctx, b, rule.Default(), nil)

	c.InvalidateAccount(ctx, a)
	if _, ok := c.GetRules(ctx, a, rule.Default()); ok {
		t.Fatal("account a default still cached")
	}
	if _, ok := c.GetRules(ctx, a, rule.CallContract("C1")); ok {
		t.Fatal("account a call_contract still cached")
	}
	if _, ok := c.GetRules(ctx, b, rule.Default()); !ok {
		t.Fatal("account b evicted by invalidation of a")
	}
}

func TestMemoryCacheMaxSize(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(WithMaxSize(2))
	acct := id.NewAccountID()

	c.SetRules(ctx, acct, rule.CallContract("C1"), nil)
	c.SetRules(ctx, acct, rule.CallContract("C2"), nil)
	c.SetRules(ctx, acct, rule.CallContract("C3"), nil)
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}
