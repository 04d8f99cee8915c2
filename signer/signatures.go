package signer

import (
	"bytes"
	"fmt"
)

// Signature pairs a claimed identity with its signature data.
// For native signers Data is a 64-byte Ed25519 signature over the payload;
// for external signers it is passed to the verifier untouched.
type Signature struct {
	Signer Signer `json:"signer" cbor:"signer"`
	Data   []byte `json:"data" cbor:"data"`
}

// Signatures is the bundle presented with an authorization request.
type Signatures []Signature

// Signers returns the claimed identities in presentation order.
func (sigs Signatures) Signers() []Signer {
	out := make([]Signer, len(sigs))
	for i := range sigs {
		out[i] = sigs[i].Signer
	}
	return out
}

// CheckUnique rejects bundles that name the same identity twice.
func (sigs Signatures) CheckUnique() error {
	for i := range sigs {
		for j := 0; j < i; j++ {
			if sigs[i].Signer.Equal(sigs[j].Signer) {
				return fmt.Errorf("%w: signer %s presented twice", ErrInvalid, sigs[i].Signer)
			}
		}
	}
	return nil
}

// Add appends a signature. It is a convenience for building bundles in
// tests and clients.
func (sigs Signatures) Add(s Signer, data []byte) Signatures {
	return append(sigs, Signature{Signer: s, Data: bytes.Clone(data)})
}
