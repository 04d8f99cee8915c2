// Package prefixed implements the prefixed-digest Ed25519 verifier.
//
// Hardware wallets and similar signing devices refuse to sign opaque 32-byte
// digests. Instead the device signs a human-readable message made of a fixed
// ASCII prefix followed by the lowercase hex of the payload. The signature
// data carries that displayed message alongside the signature so the
// verifier can check that the message embeds exactly this payload.
package prefixed

import (
	"bytes"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/xraph/latch/internal/codec"
	"github.com/xraph/latch/verifier"
)

// DefaultPrefix is the disclosure string shown on the signing device.
const DefaultPrefix = "Smart Account Auth:\n"

// PayloadSize is the only payload length this verifier accepts.
const PayloadSize = 32

var (
	// ErrWrongLength is returned when the displayed message is not exactly
	// prefix plus 64 hex digits.
	ErrWrongLength = errors.New("prefixed: displayed message has wrong length")

	// ErrPrefixMismatch is returned when the message does not start with the
	// configured prefix.
	ErrPrefixMismatch = errors.New("prefixed: displayed message prefix mismatch")

	// ErrDigestMismatch is returned when the hex after the prefix is not the
	// payload.
	ErrDigestMismatch = errors.New("prefixed: displayed message hex does not match payload")
)

var _ verifier.Verifier = (*Verifier)(nil)

// SigData is the decoded form of the sig_data blob.
type SigData struct {
	DisplayedMessage []byte `cbor:"displayed_message"`
	Signature        []byte `cbor:"signature"`
}

// Verifier checks prefixed-digest signatures.
type Verifier struct {
	prefix []byte
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(v *Verifier) { v.prefix = []byte(prefix) }
}

// New creates a prefixed-digest verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{prefix: []byte(DefaultPrefix)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Prefix returns the configured disclosure prefix.
func (v *Verifier) Prefix() string { return string(v.prefix) }

// MessageSize is the exact length of a valid displayed message.
func (v *Verifier) MessageSize() int { return len(v.prefix) + 2*PayloadSize }

// Message builds the displayed message a device must sign for payload.
func (v *Verifier) Message(payload []byte) []byte {
	msg := make([]byte, len(v.prefix), v.MessageSize())
	copy(msg, v.prefix)
	return hex.AppendEncode(msg, payload)
}

// Verify implements verifier.Verifier.
//
// Checks run in a fixed order: key and signature shape, message length,
// prefix, embedded digest, then the Ed25519 signature over the whole
// displayed message. Any failure rejects.
func (v *Verifier) Verify(payload, keyData, sigData []byte) (bool, error) {
	if len(payload) != PayloadSize {
		return false, fmt.Errorf("%w: payload must be %d bytes, got %d", verifier.ErrMalformed, PayloadSize, len(payload))
	}
	if len(keyData) != ed25519.PublicKeySize {
		return false, fmt.Errorf("%w: ed25519 key must be %d bytes, got %d", verifier.ErrMalformed, ed25519.PublicKeySize, len(keyData))
	}

	var sd SigData
	if err := codec.Unmarshal(sigData, &sd); err != nil {
		return false, fmt.Errorf("%w: decode sig data: %v", verifier.ErrMalformed, err)
	}
	if canon, err := codec.Marshal(sd); err != nil || !bytes.Equal(canon, sigData) {
		return false, fmt.Errorf("%w: sig data is not canonically encoded", verifier.ErrMalformed)
	}
	if len(sd.Signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: signature must be %d bytes, got %d", verifier.ErrMalformed, ed25519.SignatureSize, len(sd.Signature))
	}

	msg := sd.DisplayedMessage
	if len(msg) != v.MessageSize() {
		return false, ErrWrongLength
	}

	n := len(v.prefix)
	if subtle.ConstantTimeCompare(msg[:n], v.prefix) != 1 {
		return false, ErrPrefixMismatch
	}

	want := make([]byte, 2*PayloadSize)
	hex.Encode(want, payload)
	if subtle.ConstantTimeCompare(msg[n:], want) != 1 {
		return false, ErrDigestMismatch
	}

	return ed25519.Verify(keyData, msg, sd.Signature), nil
}

// Sign produces sig_data for payload with priv. It is the client half of
// the scheme, used by wallets, tooling and tests.
func (v *Verifier) Sign(priv ed25519.PrivateKey, payload []byte) ([]byte, error) {
	msg := v.Message(payload)
	return EncodeSigData(SigData{DisplayedMessage: msg, Signature: ed25519.Sign(priv, msg)})
}

// EncodeSigData encodes sd into the sig_data wire form.
func EncodeSigData(sd SigData) ([]byte, error) {
	return codec.Marshal(sd)
}
