package signer_test

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/xraph/latch/id"
	"github.com/xraph/latch/signer"
)

func newKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	return pub
}

func TestEqual(t *testing.T) {
	key := newKey(t)
	vrfA := id.NewVerifierID()
	vrfB := id.NewVerifierID()

	tests := []struct {
		name string
		a, b signer.Signer
		want bool
	}{
		{"same native", signer.Native(key), signer.Native(key), true},
		{"different native keys", signer.Native(key), signer.Native(newKey(t)), false},
		{"same external", signer.External(vrfA, key), signer.External(vrfA, key), true},
		{"external different verifier", signer.External(vrfA, key), signer.External(vrfB, key), false},
		{"native vs external same key", signer.Native(key), signer.External(vrfA, key), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Fatalf("Equal() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Equal(tt.a); got != tt.want {
				t.Fatalf("Equal() not symmetric")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	key := newKey(t)

	if err := signer.Native(key).Validate(); err != nil {
		t.Fatalf("valid native: %v", err)
	}
	if err := signer.Native(key[:16]).Validate(); !errors.Is(err, signer.ErrInvalid) {
		t.Fatalf("short native key: got %v", err)
	}
	if err := signer.External(id.Nil, key).Validate(); !errors.Is(err, signer.ErrInvalid) {
		t.Fatalf("external without verifier: got %v", err)
	}
	if err := signer.External(id.NewPolicyID(), key).Validate(); !errors.Is(err, signer.ErrInvalid) {
		t.Fatalf("external with policy reference: got %v", err)
	}
	if err := signer.External(id.NewVerifierID(), nil).Validate(); !errors.Is(err, signer.ErrInvalid) {
		t.Fatalf("external without key: got %v", err)
	}

	stray := signer.Native(key)
	stray.Verifier = id.NewVerifierID()
	if err := stray.Validate(); !errors.Is(err, signer.ErrInvalid) {
		t.Fatalf("native with verifier: got %v", err)
	}
	if err := signer.ValidateSet([]signer.Signer{stray}); !errors.Is(err, signer.ErrInvalid) {
		t.Fatalf("set with native verifier: got %v", err)
	}
}

func TestTextForm(t *testing.T) {
	key := newKey(t)
	for _, s := range []signer.Signer{
		signer.Native(key),
		signer.External(id.NewVerifierID(), []byte("opaque-key-data")),
	} {
		text := s.String()
		parsed, err := signer.Parse(text)
		if err != nil {
			t.Fatalf("Parse(%q): %v", text, err)
		}
		if !parsed.Equal(s) {
			t.Fatalf("Parse(%q) = %s", text, parsed)
		}
	}

	for _, bad := range []string{"", "native", "native:abc", "external:vrf_x:zabc", "other:zabc"} {
		if _, err := signer.Parse(bad); err == nil {
			t.Errorf("Parse(%q) succeeded", bad)
		}
	}
}

func TestValidateSet(t *testing.T) {
	a := signer.Native(newKey(t))
	b := signer.Native(newKey(t))

	if err := signer.ValidateSet([]signer.Signer{a, b}); err != nil {
		t.Fatalf("distinct set: %v", err)
	}
	if err := signer.ValidateSet([]signer.Signer{a, b, a}); !errors.Is(err, signer.ErrInvalid) {
		t.Fatalf("duplicate set: got %v", err)
	}
}

func TestCheckUnique(t *testing.T) {
	a := signer.Native(newKey(t))
	var sigs signer.Signatures
	sigs = sigs.Add(a, []byte{1}).Add(signer.Native(newKey(t)), []byte{2})
	if err := sigs.CheckUnique(); err != nil {
		t.Fatal(err)
	}
	sigs = sigs.Add(a, []byte{3})
	if err := sigs.CheckUnique(); err == nil {
		t.Fatal("expected duplicate to be rejected")
	}
	if got := len(sigs.Signers()); got != 3 {
		t.Fatalf("Signers() len = %d", got)
	}
}
