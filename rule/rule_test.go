package rule_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/xraph/latch/action"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/signer"
)

func TestTypeRoundTrip(t *testing.T) {
	for _, typ := range []rule.Type{
		rule.Default(),
		rule.CallContract("CCOUNTER"),
		rule.CreateContract([]byte{0xde, 0xad}),
	} {
		parsed, err := rule.ParseType(typ.String())
		if err != nil {
			t.Fatalf("ParseType(%q): %v", typ, err)
		}
		if parsed != typ {
			t.Fatalf("ParseType(%q) = %+v", typ, parsed)
		}
	}

	for _, bad := range []string{"", "call_contract", "create_contract:XYZ", "create_contract:ABCD", "default:x", "other:x"} {
		if _, err := rule.ParseType(bad); err == nil {
			t.Errorf("ParseType(%q) succeeded", bad)
		}
	}
}

func TestTypesFor(t *testing.T) {
	got := rule.TypesFor(action.Call("CCOUNTER", "increment"))
	if len(got) != 2 || got[0] != rule.CallContract("CCOUNTER") || got[1] != rule.Default() {
		t.Fatalf("call types = %v", got)
	}

	got = rule.TypesFor(action.Create([]byte{0xab}, nil))
	if len(got) != 2 || got[0] != rule.CreateContract([]byte{0xab}) || got[1] != rule.Default() {
		t.Fatalf("create types = %v", got)
	}
}

func TestExpired(t *testing.T) {
	r := &rule.Rule{}
	if r.Expired(1 << 30) {
		t.Fatal("rule without expiry reported expired")
	}

	until := uint32(100)
	r.ValidUntil = &until
	if r.Expired(99) || r.Expired(100) {
		t.Fatal("rule expired at or before its last valid ledger")
	}
	if !r.Expired(101) {
		t.Fatal("rule usable after its last valid ledger")
	}
}

func TestCloneIsDeep(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	until := uint32(5)
	r := &rule.Rule{
		Name:       "r",
		ValidUntil: &until,
		Signers:    []signer.Signer{signer.Native(pub)},
		Policies:   []rule.Binding{{Policy: id.NewPolicyID(), Param: []byte{1}}},
	}

	cp := r.Clone()
	*cp.ValidUntil = 9
	cp.Signers[0].Key[0] ^= 0xff
	cp.Policies[0].Param[0] = 7

	if *r.ValidUntil != 5 || r.Signers[0].Key[0] == cp.Signers[0].Key[0] || r.Policies[0].Param[0] != 1 {
		t.Fatal("Clone shares memory with the original")
	}
	if r.PolicyIndex(r.Policies[0].Policy) != 0 || r.PolicyIndex(id.NewPolicyID()) != -1 {
		t.Fatal("PolicyIndex mismatch")
	}
}
