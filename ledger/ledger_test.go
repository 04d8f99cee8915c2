package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/latch/ledger"
)

func TestManual(t *testing.T) {
	m := ledger.NewManual(10)
	if got, _ := m.Current(context.Background()); got != 10 {
		t.Fatalf("Current() = %d", got)
	}
	if got := m.Advance(5); got != 15 {
		t.Fatalf("Advance() = %d", got)
	}
	m.Set(3)
	if got, _ := m.Current(context.Background()); got != 3 {
		t.Fatalf("Current() after Set = %d", got)
	}
}

func TestClock(t *testing.T) {
	genesis := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := genesis.Add(time.Minute + 2*time.Second)
	c := ledger.Clock{Genesis: genesis, Interval: 5 * time.Second, Now: func() time.Time { return now }}

	got, err := c.Current(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 12 {
		t.Fatalf("Current() = %d, want 12", got)
	}

	now = genesis.Add(-time.Second)
	if _, err := c.Current(context.Background()); err == nil {
		t.Fatal("expected error before genesis")
	}
}

func TestStatic(t *testing.T) {
	if got, _ := ledger.Static(7).Current(context.Background()); got != 7 {
		t.Fatalf("Current() = %d", got)
	}
}
