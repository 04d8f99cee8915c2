package latch

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"reflect"
	"testing"

	"github.com/xraph/latch/account"
	"github.com/xraph/latch/action"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/ledger"
	noncemem "github.com/xraph/latch/nonce/memory"
	"github.com/xraph/latch/rule"
	"github.com/xraph/latch/signer"
	"github.com/xraph/latch/store/memory"
	"github.com/xraph/latch/verifier/prefixed"
)

const startLedger = 1000

type key struct {
	signer signer.Signer
	priv   ed25519.PrivateKey
}

func newKey(t *testing.T) key {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return key{signer: signer.Native(pub), priv: priv}
}

func (k key) sign(payload []byte) signer.Signature {
	return signer.Signature{Signer: k.signer, Data: ed25519.Sign(k.priv, payload)}
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	eng    *Engine
	store  *memory.Store
	ledger *ledger.Manual
	admin  key
	acct   *account.Account
	vrf    id.VerifierID
	nonce  uint64
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  memory.New(),
		ledger: ledger.NewManual(startLedger),
		admin:  newKey(t),
		vrf:    id.NewVerifierID(),
	}
	base := []Option{
		WithStore(h.store),
		WithLedger(h.ledger),
		WithVerifier(h.vrf, prefixed.New()),
	}
	eng, err := NewEngine(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	h.eng = eng

	a, adminRule, err := eng.CreateAccount(h.ctx, "wallet", []signer.Signer{h.admin.signer})
	if err != nil {
		t.Fatal(err)
	}
	if adminRule.Type != rule.CallContract(a.Address()) {
		t.Fatalf("admin rule type %s", adminRule.Type)
	}
	h.acct = a
	return h
}

// proof signs m's admin payload with the given keys, or the admin key.
func (h *harness) proof(m Mutation, keys ...key) *AdminProof {
	h.t.Helper()
	if len(keys) == 0 {
		keys = []key{h.admin}
	}
	h.nonce++
	exp := uint32(startLedger + 1000)
	p, err := h.eng.AdminPayload(h.acct.ID, m, h.nonce, exp)
	if err != nil {
		h.t.Fatal(err)
	}
	proof := &AdminProof{Nonce: h.nonce, ExpirationLedger: exp}
	for _, k := range keys {
		proof.Signatures = append(proof.Signatures, k.sign(p))
	}
	return proof
}

func (h *harness) addRule(op *AddRuleOp) *rule.Rule {
	h.t.Helper()
	r, err := h.eng.AddRule(h.ctx, h.acct.ID, op, h.proof(op))
	if err != nil {
		h.t.Fatal(err)
	}
	return r
}

func (h *harness) evaluate(p []byte, sigs signer.Signatures, contexts ...action.Context) (*Result, error) {
	return h.eng.Evaluate(h.ctx, &EvaluateRequest{
		Account:    h.acct.ID,
		Payload:    p,
		Signatures: sigs,
		Contexts:   contexts,
	})
}

func (h *harness) listRules() []*rule.Rule {
	h.t.Helper()
	rules, err := h.eng.ListRules(h.ctx, h.acct.ID, nil)
	if err != nil {
		h.t.Fatal(err)
	}
	return rules
}

func randomPayload(t *testing.T) []byte {
	t.Helper()
	p := make([]byte, 32)
	if _, err := rand.Read(p); err != nil {
		t.Fatal(err)
	}
	return p
}

func denial(t *testing.T, err error) *DenialError {
	t.Helper()
	var d *DenialError
	if !errors.As(err, &d) {
		t.Fatalf("expected *DenialError, got %T: %v", err, err)
	}
	return d
}

func u32(v uint32) *uint32 { return &v }

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNewEngine_RequiresStore(t *testing.T) {
	if _, err := NewEngine(); !errors.Is(err, ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestNewEngine_DuplicateVerifier(t *testing.T) {
	ref := id.NewVerifierID()
	_, err := NewEngine(
		WithStore(memory.New()),
		WithVerifier(ref, prefixed.New()),
		WithVerifier(ref, prefixed.New()),
	)
	if err == nil {
		t.Fatal("expected duplicate verifier registration to fail")
	}
}

func TestCreateAccountValidation(t *testing.T) {
	eng, err := NewEngine(WithStore(memory.New()))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	k := newKey(t)

	if _, _, err := eng.CreateAccount(ctx, "", []signer.Signer{k.signer}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty name, got %v", err)
	}
	if _, _, err := eng.CreateAccount(ctx, "a", nil); !errors.Is(err, ErrStoreInvariant) {
		t.Fatalf("expected ErrStoreInvariant for no admins, got %v", err)
	}
	if _, _, err := eng.CreateAccount(ctx, "a", []signer.Signer{k.signer, k.signer}); !errors.Is(err, ErrStoreInvariant) {
		t.Fatalf("expected ErrStoreInvariant for duplicate admins, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// End-to-end evaluation
// ──────────────────────────────────────────────────

func externalRuleSetup(t *testing.T, validUntil *uint32) (*harness, signer.Signer, ed25519.PrivateKey, *rule.Rule) {
	t.Helper()
	h := newHarness(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	ext := signer.External(h.vrf, pub)
	r := h.addRule(&AddRuleOp{
		Type:       rule.CallContract("CX"),
		Name:       "x",
		ValidUntil: validUntil,
		Signers:    []signer.Signer{ext},
	})
	return h, ext, priv, r
}

func TestPrefixedSignatureAuthorizes(t *testing.T) {
	h, ext, priv, r := externalRuleSetup(t, nil)
	p := randomPayload(t)
	sig, err := prefixed.New().Sign(priv, p)
	if err != nil {
		t.Fatal(err)
	}

	res, err := h.evaluate(p, signer.Signatures{}.Add(ext, sig), action.Call("CX", "transfer"))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].RuleID != r.ID || res.Matches[0].RuleName != "x" {
		t.Fatalf("unexpected matches %+v", res.Matches)
	}
	if res.Ledger != startLedger {
		t.Fatalf("expected ledger %d, got %d", startLedger, res.Ledger)
	}
}

func TestUncoveredTargetHasNoMatchingRule(t *testing.T) {
	h, ext, priv, _ := externalRuleSetup(t, nil)
	p := randomPayload(t)
	sig, _ := prefixed.New().Sign(priv, p)

	_, err := h.evaluate(p, signer.Signatures{}.Add(ext, sig), action.Call("CY", "transfer"))
	if !errors.Is(err, ErrNoMatchingRule) {
		t.Fatalf("expected ErrNoMatchingRule, got %v", err)
	}
	if d := denial(t, err); d.ContextIndex != 0 {
		t.Fatalf("expected context 0, got %d", d.ContextIndex)
	}
}

func TestExpiredRuleIsUnvalidated(t *testing.T) {
	h, ext, priv, _ := externalRuleSetup(t, u32(startLedger+1))
	h.ledger.Advance(5)

	p := randomPayload(t)
	sig, _ := prefixed.New().Sign(priv, p)
	_, err := h.evaluate(p, signer.Signatures{}.Add(ext, sig), action.Call("CX", "transfer"))
	if !errors.Is(err, ErrUnvalidatedContext) {
		t.Fatalf("expected ErrUnvalidatedContext, got %v", err)
	}
}

func TestRawPayloadSignatureFailsAuthentication(t *testing.T) {
	h, ext, priv, _ := externalRuleSetup(t, nil)
	p := randomPayload(t)
	data, err := prefixed.EncodeSigData(prefixed.SigData{
		DisplayedMessage: p,
		Signature:        ed25519.Sign(priv, p),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.evaluate(p, signer.Signatures{}.Add(ext, data), action.Call("CX", "transfer"))
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	d := denial(t, err)
	if d.Signer == nil || !d.Signer.Equal(ext) {
		t.Fatalf("expected failing signer %s, got %v", ext, d.Signer)
	}
}

// ──────────────────────────────────────────────────
// Evaluation properties
// ──────────────────────────────────────────────────

func TestDefaultDenyEmptyRuleStore(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	eng, err := NewEngine(WithStore(s), WithLedger(ledger.Static(startLedger)))
	if err != nil {
		t.Fatal(err)
	}
	a := &account.Account{ID: id.NewAccountID(), Name: "bare"}
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatal(err)
	}

	p := randomPayload(t)
	var sigs signer.Signatures
	for range 3 {
		sigs = append(sigs, newKey(t).sign(p))
	}
	for _, c := range []action.Context{
		action.Call("CX", "transfer"),
		action.Call(a.Address(), OpAddRule),
		action.Create(p, nil),
	} {
		_, err := eng.Evaluate(ctx, &EvaluateRequest{Account: a.ID, Payload: p, Signatures: sigs, Contexts: []action.Context{c}})
		if !errors.Is(err, ErrNoMatchingRule) {
			t.Fatalf("%s: expected ErrNoMatchingRule, got %v", c, err)
		}
	}
}

func TestExpiryBoundary(t *testing.T) {
	h := newHarness(t)
	k := newKey(t)
	h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", ValidUntil: u32(startLedger + 2), Signers: []signer.Signer{k.signer}})
	p := randomPayload(t)

	h.ledger.Set(startLedger + 2)
	if _, err := h.evaluate(p, signer.Signatures{k.sign(p)}, action.Call("CX", "f")); err != nil {
		t.Fatalf("rule must be usable at its valid_until ledger: %v", err)
	}

	h.ledger.Set(startLedger + 3)
	if _, err := h.evaluate(p, signer.Signatures{k.sign(p)}, action.Call("CX", "f")); !errors.Is(err, ErrUnvalidatedContext) {
		t.Fatalf("expected ErrUnvalidatedContext after expiry, got %v", err)
	}
}

func TestSignerSetOrSemantics(t *testing.T) {
	h := newHarness(t)
	a, b, c := newKey(t), newKey(t), newKey(t)
	h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "ab", Signers: []signer.Signer{a.signer, b.signer}})
	p := randomPayload(t)
	target := action.Call("CX", "f")

	for name, sigs := range map[string]signer.Signatures{
		"only A": {a.sign(p)},
		"only B": {b.sign(p)},
		"both":   {a.sign(p), b.sign(p)},
		"A + C":  {c.sign(p), a.sign(p)},
	} {
		if _, err := h.evaluate(p, sigs, target); err != nil {
			t.Fatalf("%s: expected success, got %v", name, err)
		}
	}

	if _, err := h.evaluate(p, signer.Signatures{c.sign(p)}, target); !errors.Is(err, ErrUnvalidatedContext) {
		t.Fatalf("expected ErrUnvalidatedContext without A or B, got %v", err)
	}
	if _, err := h.evaluate(p, nil, target); !errors.Is(err, ErrUnvalidatedContext) {
		t.Fatalf("expected ErrUnvalidatedContext with no signatures, got %v", err)
	}
}

func TestAllOrNothingAcrossContexts(t *testing.T) {
	h := newHarness(t)
	k := newKey(t)
	h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{k.signer}})
	p := randomPayload(t)

	_, err := h.evaluate(p, signer.Signatures{k.sign(p)}, action.Call("CX", "a"), action.Call("CY", "b"))
	if !errors.Is(err, ErrNoMatchingRule) {
		t.Fatalf("expected ErrNoMatchingRule, got %v", err)
	}
	if d := denial(t, err); d.ContextIndex != 1 {
		t.Fatalf("expected failing context 1, got %d", d.ContextIndex)
	}
}

func TestSpecificRulesBeforeDefault(t *testing.T) {
	h := newHarness(t)
	k := newKey(t)
	def := h.addRule(&AddRuleOp{Type: rule.Default(), Name: "any", Signers: []signer.Signer{k.signer}})
	specific := h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{k.signer}})
	p := randomPayload(t)

	res, err := h.evaluate(p, signer.Signatures{k.sign(p)}, action.Call("CX", "f"), action.Call("CZ", "g"))
	if err != nil {
		t.Fatal(err)
	}
	if got := res.RuleIDs(); got[0] != specific.ID || got[1] != def.ID {
		t.Fatalf("expected [%d %d], got %v", specific.ID, def.ID, got)
	}
}

func TestCreateContractRule(t *testing.T) {
	h := newHarness(t)
	k := newKey(t)
	hash := randomPayload(t)
	r := h.addRule(&AddRuleOp{Type: rule.CreateContract(hash), Name: "deploy", Signers: []signer.Signer{k.signer}})
	p := randomPayload(t)

	res, err := h.evaluate(p, signer.Signatures{k.sign(p)}, action.Create(hash, []byte("salt")))
	if err != nil {
		t.Fatal(err)
	}
	if res.Matches[0].RuleID != r.ID {
		t.Fatalf("expected rule %d, got %d", r.ID, res.Matches[0].RuleID)
	}
	if _, err := h.evaluate(p, signer.Signatures{k.sign(p)}, action.Create(randomPayload(t), nil)); !errors.Is(err, ErrNoMatchingRule) {
		t.Fatalf("expected ErrNoMatchingRule for another wasm hash, got %v", err)
	}
}

func TestAuthenticationFailures(t *testing.T) {
	h := newHarness(t, WithConfig(Config{NetworkID: "test", MaxSignatures: 3, MaxContexts: 2}))
	k := newKey(t)
	h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{k.signer}})
	p := randomPayload(t)
	target := action.Call("CX", "f")

	t.Run("tampered native signature", func(t *testing.T) {
		sig := k.sign(p)
		sig.Data[0] ^= 1
		if _, err := h.evaluate(p, signer.Signatures{sig}, target); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
		}
	})

	t.Run("one bad signature rejects all", func(t *testing.T) {
		bad := newKey(t).sign(randomPayload(t))
		if _, err := h.evaluate(p, signer.Signatures{k.sign(p), bad}, target); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
		}
	})

	t.Run("duplicate signer", func(t *testing.T) {
		if _, err := h.evaluate(p, signer.Signatures{k.sign(p), k.sign(p)}, target); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
		}
	})

	t.Run("unregistered verifier", func(t *testing.T) {
		pub, _, _ := ed25519.GenerateKey(nil)
		ext := signer.External(id.NewVerifierID(), pub)
		if _, err := h.evaluate(p, signer.Signatures{}.Add(ext, []byte{1}), target); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
		}
	})

	t.Run("too many signatures", func(t *testing.T) {
		var sigs signer.Signatures
		for range 4 {
			sigs = append(sigs, newKey(t).sign(p))
		}
		if _, err := h.evaluate(p, sigs, target); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest, got %v", err)
		}
	})

	t.Run("too many contexts", func(t *testing.T) {
		if _, err := h.evaluate(p, signer.Signatures{k.sign(p)}, target, target, target); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest, got %v", err)
		}
	})

	t.Run("no contexts", func(t *testing.T) {
		if _, err := h.evaluate(p, signer.Signatures{k.sign(p)}); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest, got %v", err)
		}
	})
}

func TestParallelVerify(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ParallelVerify = true
	h := newHarness(t, WithConfig(cfg))
	keys := []key{newKey(t), newKey(t), newKey(t), newKey(t)}
	h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{keys[0].signer}})
	p := randomPayload(t)

	var sigs signer.Signatures
	for _, k := range keys {
		sigs = append(sigs, k.sign(p))
	}
	if _, err := h.evaluate(p, sigs, action.Call("CX", "f")); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	sigs[2].Data[10] ^= 0xff
	if _, err := h.evaluate(p, sigs, action.Call("CX", "f")); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestEvaluateUnknownAccount(t *testing.T) {
	h := newHarness(t)
	p := randomPayload(t)
	_, err := h.eng.Evaluate(h.ctx, &EvaluateRequest{
		Account:    id.NewAccountID(),
		Payload:    p,
		Signatures: signer.Signatures{h.admin.sign(p)},
		Contexts:   []action.Context{action.Call("CX", "f")},
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Authorize
// ──────────────────────────────────────────────────

func TestAuthorizeNonceAndExpiry(t *testing.T) {
	h := newHarness(t)
	k, stranger := newKey(t), newKey(t)
	h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{k.signer}})

	req := &AuthorizeRequest{
		Account:          h.acct.ID,
		Nonce:            42,
		ExpirationLedger: startLedger + 10,
		Contexts:         []action.Context{action.Call("CX", "transfer", "GDEST", uint64(100))},
	}
	p, err := h.eng.Payload(req)
	if err != nil {
		t.Fatal(err)
	}

	// A denied attempt does not consume the nonce.
	req.Signatures = signer.Signatures{stranger.sign(p)}
	if _, err := h.eng.Authorize(h.ctx, req); !errors.Is(err, ErrUnvalidatedContext) {
		t.Fatalf("expected ErrUnvalidatedContext, got %v", err)
	}

	req.Signatures = signer.Signatures{k.sign(p)}
	if _, err := h.eng.Authorize(h.ctx, req); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if _, err := h.eng.Authorize(h.ctx, req); !errors.Is(err, ErrNonceReused) {
		t.Fatalf("expected ErrNonceReused, got %v", err)
	}

	// Signature bound to another nonce does not verify.
	req.Nonce = 43
	if _, err := h.eng.Authorize(h.ctx, req); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}

	h.ledger.Set(startLedger + 11)
	p, _ = h.eng.Payload(req)
	req.Signatures = signer.Signatures{k.sign(p)}
	if _, err := h.eng.Authorize(h.ctx, req); !errors.Is(err, ErrSignatureExpired) {
		t.Fatalf("expected ErrSignatureExpired, got %v", err)
	}
}

func TestAuthorizeBoundsExpirationWindow(t *testing.T) {
	h := newHarness(t)
	k := newKey(t)
	h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{k.signer}})
	window := h.eng.Config().MaxExpirationWindow
	if window == 0 {
		t.Fatal("default config leaves the expiration window unbounded")
	}

	req := &AuthorizeRequest{
		Account:          h.acct.ID,
		Nonce:            500,
		ExpirationLedger: startLedger + window + 1,
		Contexts:         []action.Context{action.Call("CX", "f")},
	}
	p, _ := h.eng.Payload(req)
	req.Signatures = signer.Signatures{k.sign(p)}
	if _, err := h.eng.Authorize(h.ctx, req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest past the window, got %v", err)
	}

	req.ExpirationLedger = startLedger + window
	p, _ = h.eng.Payload(req)
	req.Signatures = signer.Signatures{k.sign(p)}
	if _, err := h.eng.Authorize(h.ctx, req); err != nil {
		t.Fatalf("expected success at the window edge, got %v", err)
	}
}

func TestAuthorizePrunesExpiredNonces(t *testing.T) {
	nonces := noncemem.New()
	h := newHarness(t, WithNonceStore(nonces))
	k := newKey(t)
	h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{k.signer}})

	authorize := func(n uint64, exp uint32) {
		t.Helper()
		req := &AuthorizeRequest{Account: h.acct.ID, Nonce: n, ExpirationLedger: exp, Contexts: []action.Context{action.Call("CX", "f")}}
		p, _ := h.eng.Payload(req)
		req.Signatures = signer.Signatures{k.sign(p)}
		if _, err := h.eng.Authorize(h.ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	authorize(100, startLedger+1)
	before := nonces.Len()

	h.ledger.Set(startLedger + 2)
	authorize(101, startLedger+10)

	if seen, _ := nonces.Seen(h.ctx, h.acct.ID, 100); seen {
		t.Fatal("expired nonce still retained")
	}
	if got := nonces.Len(); got != before {
		t.Fatalf("expected %d retained nonces, got %d", before, got)
	}
}

func TestAddRuleNilOperation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.eng.AddRule(h.ctx, h.acct.ID, nil, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestPayloadBindsNetwork(t *testing.T) {
	a := newHarness(t)
	cfg := DefaultConfig()
	cfg.NetworkID = "other"
	b, err := NewEngine(WithStore(memory.New()), WithConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}
	req := &AuthorizeRequest{Account: a.acct.ID, Nonce: 1, ExpirationLedger: 5, Contexts: []action.Context{action.Call("CX", "f")}}
	pa, _ := a.eng.Payload(req)
	pb, _ := b.Payload(req)
	if reflect.DeepEqual(pa, pb) {
		t.Fatal("payload does not depend on the network id")
	}
}

// ──────────────────────────────────────────────────
// Admin gating
// ──────────────────────────────────────────────────

func TestMutationsRequireAdmin(t *testing.T) {
	h := newHarness(t)
	k, stranger := newKey(t), newKey(t)
	op := &AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{k.signer}}

	if _, err := h.eng.AddRule(h.ctx, h.acct.ID, op, nil); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed without proof, got %v", err)
	}
	if _, err := h.eng.AddRule(h.ctx, h.acct.ID, op, h.proof(op, stranger)); !errors.Is(err, ErrUnvalidatedContext) {
		t.Fatalf("expected ErrUnvalidatedContext for non-admin, got %v", err)
	}

	// A proof for one mutation cannot authorize another.
	other := &AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{stranger.signer}}
	if _, err := h.eng.AddRule(h.ctx, h.acct.ID, other, h.proof(op)); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed for mismatched proof, got %v", err)
	}

	proof := h.proof(op)
	if _, err := h.eng.AddRule(h.ctx, h.acct.ID, op, proof); err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.AddRule(h.ctx, h.acct.ID, op, proof); !errors.Is(err, ErrNonceReused) {
		t.Fatalf("expected ErrNonceReused on replayed proof, got %v", err)
	}

	if n := len(h.listRules()); n != 2 {
		t.Fatalf("expected admin + 1 rule, got %d", n)
	}
}

func TestDelegatedAdmin(t *testing.T) {
	h := newHarness(t)
	delegate := newKey(t)
	h.addRule(&AddRuleOp{Type: rule.CallContract(h.acct.Address()), Name: "delegate", Signers: []signer.Signer{delegate.signer}})

	op := &AddRuleOp{Type: rule.Default(), Name: "any", Signers: []signer.Signer{newKey(t).signer}}
	if _, err := h.eng.AddRule(h.ctx, h.acct.ID, op, h.proof(op, delegate)); err != nil {
		t.Fatalf("delegate should administer the account: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Rule registry
// ──────────────────────────────────────────────────

func TestRuleIDsMonotonic(t *testing.T) {
	h := newHarness(t)
	k := newKey(t)
	mk := func(name string) *rule.Rule {
		return h.addRule(&AddRuleOp{Type: rule.Default(), Name: name, Signers: []signer.Signer{k.signer}})
	}
	a, b := mk("a"), mk("b")
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("expected ids 1 and 2 after admin rule 0, got %d %d", a.ID, b.ID)
	}
	if err := h.eng.RemoveRule(h.ctx, h.acct.ID, b.ID, h.proof(&RemoveRuleOp{RuleID: b.ID})); err != nil {
		t.Fatal(err)
	}
	if c := mk("c"); c.ID != 3 {
		t.Fatalf("removed id reused: got %d", c.ID)
	}
	if _, err := h.eng.GetRule(h.ctx, h.acct.ID, b.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}

	typ := rule.Default()
	if n, _ := h.eng.CountRules(h.ctx, h.acct.ID, &typ); n != 2 {
		t.Fatalf("expected 2 default rules, got %d", n)
	}
}

func TestTargetedMutators(t *testing.T) {
	h := newHarness(t)
	a, b := newKey(t), newKey(t)
	r := h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{a.signer}})

	got, err := h.eng.UpdateRuleName(h.ctx, h.acct.ID, r.ID, "renamed", h.proof(&UpdateRuleNameOp{RuleID: r.ID, Name: "renamed"}))
	if err != nil || got.Name != "renamed" {
		t.Fatalf("rename: %v %+v", err, got)
	}

	vu := u32(startLedger + 50)
	got, err = h.eng.UpdateRuleValidUntil(h.ctx, h.acct.ID, r.ID, vu, h.proof(&UpdateRuleValidUntilOp{RuleID: r.ID, ValidUntil: vu}))
	if err != nil || got.ValidUntil == nil || *got.ValidUntil != *vu {
		t.Fatalf("valid until: %v %+v", err, got)
	}
	got, err = h.eng.UpdateRuleValidUntil(h.ctx, h.acct.ID, r.ID, nil, h.proof(&UpdateRuleValidUntilOp{RuleID: r.ID}))
	if err != nil || got.ValidUntil != nil {
		t.Fatalf("clear valid until: %v %+v", err, got)
	}

	got, err = h.eng.AddSigner(h.ctx, h.acct.ID, r.ID, b.signer, h.proof(&AddSignerOp{RuleID: r.ID, Signer: b.signer}))
	if err != nil || len(got.Signers) != 2 {
		t.Fatalf("add signer: %v %+v", err, got)
	}
	got, err = h.eng.RemoveSigner(h.ctx, h.acct.ID, r.ID, a.signer, h.proof(&RemoveSignerOp{RuleID: r.ID, Signer: a.signer}))
	if err != nil || len(got.Signers) != 1 || !got.Signers[0].Equal(b.signer) {
		t.Fatalf("remove signer: %v %+v", err, got)
	}

	stored, err := h.eng.GetRule(h.ctx, h.acct.ID, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Name != "renamed" || len(stored.Signers) != 1 {
		t.Fatalf("mutations not persisted: %+v", stored)
	}
}

func TestRemoveLastSigner(t *testing.T) {
	h := newHarness(t)
	k := newKey(t)
	r := h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{k.signer}})

	_, err := h.eng.RemoveSigner(h.ctx, h.acct.ID, r.ID, k.signer, h.proof(&RemoveSignerOp{RuleID: r.ID, Signer: k.signer}))
	if !errors.Is(err, ErrStoreInvariant) {
		t.Fatalf("expected ErrStoreInvariant, got %v", err)
	}

	got, err := h.eng.GetRule(h.ctx, h.acct.ID, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, r) {
		t.Fatalf("rule changed after refused removal:\n got %+v\nwant %+v", got, r)
	}
}

func TestFailedMutationsLeaveRulesUntouched(t *testing.T) {
	h := newHarness(t)
	a, b := newKey(t), newKey(t)
	r := h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{a.signer}})
	h.addRule(&AddRuleOp{Type: rule.Default(), Name: "d", Signers: []signer.Signer{a.signer, b.signer}})
	before := h.listRules()

	const missing = 99
	failures := map[string]func() error{
		"rename missing": func() error {
			_, err := h.eng.UpdateRuleName(h.ctx, h.acct.ID, missing, "n", h.proof(&UpdateRuleNameOp{RuleID: missing, Name: "n"}))
			return err
		},
		"rename empty": func() error {
			_, err := h.eng.UpdateRuleName(h.ctx, h.acct.ID, r.ID, " ", h.proof(&UpdateRuleNameOp{RuleID: r.ID, Name: " "}))
			return err
		},
		"remove missing": func() error {
			return h.eng.RemoveRule(h.ctx, h.acct.ID, missing, h.proof(&RemoveRuleOp{RuleID: missing}))
		},
		"add duplicate signer": func() error {
			_, err := h.eng.AddSigner(h.ctx, h.acct.ID, r.ID, a.signer, h.proof(&AddSignerOp{RuleID: r.ID, Signer: a.signer}))
			return err
		},
		"remove absent signer": func() error {
			_, err := h.eng.RemoveSigner(h.ctx, h.acct.ID, r.ID, b.signer, h.proof(&RemoveSignerOp{RuleID: r.ID, Signer: b.signer}))
			return err
		},
		"remove last signer": func() error {
			_, err := h.eng.RemoveSigner(h.ctx, h.acct.ID, r.ID, a.signer, h.proof(&RemoveSignerOp{RuleID: r.ID, Signer: a.signer}))
			return err
		},
		"expiry in the past": func() error {
			vu := u32(startLedger - 1)
			_, err := h.eng.UpdateRuleValidUntil(h.ctx, h.acct.ID, r.ID, vu, h.proof(&UpdateRuleValidUntilOp{RuleID: r.ID, ValidUntil: vu}))
			return err
		},
		"remove unattached policy": func() error {
			pol := id.NewPolicyID()
			_, err := h.eng.RemovePolicy(h.ctx, h.acct.ID, r.ID, pol, h.proof(&RemovePolicyOp{RuleID: r.ID, Policy: pol}))
			return err
		},
		"add rule without signers": func() error {
			op := &AddRuleOp{Type: rule.Default(), Name: "empty"}
			_, err := h.eng.AddRule(h.ctx, h.acct.ID, op, h.proof(op))
			return err
		},
		"add rule with duplicate signers": func() error {
			op := &AddRuleOp{Type: rule.Default(), Name: "dup", Signers: []signer.Signer{b.signer, b.signer}}
			_, err := h.eng.AddRule(h.ctx, h.acct.ID, op, h.proof(op))
			return err
		},
	}

	for name, fn := range failures {
		err := fn()
		if err == nil {
			t.Fatalf("%s: expected failure", name)
		}
		if !errors.Is(err, ErrStoreInvariant) && !errors.Is(err, ErrRuleNotFound) {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if after := h.listRules(); !reflect.DeepEqual(before, after) {
			t.Fatalf("%s: rule table changed", name)
		}
	}
}

// ──────────────────────────────────────────────────
// Concurrency
// ──────────────────────────────────────────────────

func TestAccountLocksReleased(t *testing.T) {
	h := newHarness(t)
	k := newKey(t)
	h.addRule(&AddRuleOp{Type: rule.CallContract("CX"), Name: "x", Signers: []signer.Signer{k.signer}})
	p := randomPayload(t)

	done := make(chan error, 16)
	for range 16 {
		go func() {
			_, err := h.evaluate(p, signer.Signatures{k.sign(p)}, action.Call("CX", "f"))
			done <- err
		}()
	}
	for range 16 {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
	if n := h.eng.locks.size(); n != 0 {
		t.Fatalf("expected lock table to drain, %d entries left", n)
	}
}
