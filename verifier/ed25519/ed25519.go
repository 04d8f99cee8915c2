// Package ed25519 provides a verifier for bare Ed25519 signatures over the
// authorization payload.
package ed25519

import (
	"crypto/ed25519"
	"fmt"

	"github.com/xraph/latch/verifier"
)

var _ verifier.Verifier = Verifier{}

// Verifier checks a 64-byte Ed25519 signature over the payload itself.
// keyData is the 32-byte public key.
type Verifier struct{}

// New returns an Ed25519 verifier.
func New() Verifier { return Verifier{} }

// Verify implements verifier.Verifier.
func (Verifier) Verify(payload, keyData, sigData []byte) (bool, error) {
	if len(keyData) != ed25519.PublicKeySize {
		return false, fmt.Errorf("%w: ed25519 key must be %d bytes, got %d", verifier.ErrMalformed, ed25519.PublicKeySize, len(keyData))
	}
	if len(sigData) != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: ed25519 signature must be %d bytes, got %d", verifier.ErrMalformed, ed25519.SignatureSize, len(sigData))
	}
	return ed25519.Verify(keyData, payload, sigData), nil
}
