package payload_test

import (
	"bytes"
	"testing"

	"github.com/xraph/latch/action"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/payload"
)

func envelope(acct id.AccountID) *payload.Envelope {
	return &payload.Envelope{
		NetworkID:        "testnet",
		Account:          acct,
		Nonce:            1,
		ExpirationLedger: 100,
		Contexts:         []action.Context{action.Call("CCOUNTER", "increment", int64(1))},
	}
}

func TestHashStable(t *testing.T) {
	acct := id.NewAccountID()
	a, err := payload.Hash(envelope(acct))
	if err != nil {
		t.Fatal(err)
	}
	b, err := payload.Hash(envelope(acct))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) || len(a) != payload.Size {
		t.Fatalf("hash not stable: %x vs %x", a, b)
	}
}

// Every envelope field must influence the digest.
func TestHashBindsEveryField(t *testing.T) {
	acct := id.NewAccountID()
	base, _ := payload.Hash(envelope(acct))

	mutations := map[string]func(*payload.Envelope){
		"network":    func(e *payload.Envelope) { e.NetworkID = "mainnet" },
		"account":    func(e *payload.Envelope) { e.Account = id.NewAccountID() },
		"nonce":      func(e *payload.Envelope) { e.Nonce = 2 },
		"expiration": func(e *payload.Envelope) { e.ExpirationLedger = 101 },
		"contract":   func(e *payload.Envelope) { e.Contexts[0].Contract = "COTHER" },
		"function":   func(e *payload.Envelope) { e.Contexts[0].Function = "decrement" },
		"args":       func(e *payload.Envelope) { e.Contexts[0].Args = []any{int64(2)} },
		"extra context": func(e *payload.Envelope) {
			e.Contexts = append(e.Contexts, action.Create([]byte{1}, nil))
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			env := envelope(acct)
			mutate(env)
			got, err := payload.Hash(env)
			if err != nil {
				t.Fatal(err)
			}
			if bytes.Equal(got, base) {
				t.Fatalf("mutating %s did not change the payload", name)
			}
		})
	}
}

func TestEncodeRejectsIncomplete(t *testing.T) {
	if _, err := payload.Hash(&payload.Envelope{Contexts: []action.Context{action.Call("C", "f")}}); err == nil {
		t.Fatal("expected error without account")
	}
	if _, err := payload.Hash(&payload.Envelope{Account: id.NewAccountID()}); err == nil {
		t.Fatal("expected error without contexts")
	}
}
