// Package signer defines the identities that may satisfy a context rule.
//
// A Signer is either Native, a raw Ed25519 key checked by the account
// itself, or External, a key whose signatures are checked by a registered
// verifier capability. Two signers are equal only if their kind and every
// field match.
package signer

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/xraph/latch/id"
)

// Kind tags the Signer variant.
type Kind string

const (
	// KindNative is verified by the account's built-in Ed25519 check.
	KindNative Kind = "native"

	// KindExternal is verified by the verifier named in Signer.Verifier.
	KindExternal Kind = "external"
)

// ErrInvalid is returned for malformed signer identities.
var ErrInvalid = errors.New("signer: invalid identity")

// Signer is an identity permitted to authorize actions.
type Signer struct {
	Kind     Kind          `json:"kind" cbor:"kind"`
	Verifier id.VerifierID `json:"verifier,omitempty" cbor:"verifier,omitempty"`
	Key      []byte        `json:"key" cbor:"key"`
}

// Native returns a native Ed25519 signer.
func Native(key ed25519.PublicKey) Signer {
	return Signer{Kind: KindNative, Key: bytes.Clone(key)}
}

// External returns a signer verified by the referenced verifier.
// The key is opaque to the account and passed to the verifier as key_data.
func External(verifier id.VerifierID, key []byte) Signer {
	return Signer{Kind: KindExternal, Verifier: verifier, Key: bytes.Clone(key)}
}

// Equal reports whether s and o are the same identity.
func (s Signer) Equal(o Signer) bool {
	if s.Kind != o.Kind || !bytes.Equal(s.Key, o.Key) {
		return false
	}
	if s.Kind == KindExternal {
		return s.Verifier.String() == o.Verifier.String()
	}
	return true
}

// Validate checks the identity is well formed.
func (s Signer) Validate() error {
	switch s.Kind {
	case KindNative:
		if len(s.Key) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: native key must be %d bytes, got %d", ErrInvalid, ed25519.PublicKeySize, len(s.Key))
		}
		if !s.Verifier.IsNil() {
			return fmt.Errorf("%w: native signer must not reference verifier %q", ErrInvalid, s.Verifier)
		}
	case KindExternal:
		if s.Verifier.IsNil() {
			return fmt.Errorf("%w: external signer without verifier", ErrInvalid)
		}
		if s.Verifier.Prefix() != id.PrefixVerifier {
			return fmt.Errorf("%w: verifier reference %q has wrong prefix", ErrInvalid, s.Verifier)
		}
		if len(s.Key) == 0 {
			return fmt.Errorf("%w: external signer without key data", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, s.Kind)
	}
	return nil
}

// String renders the identity as "native:z<base58 key>" or
// "external:<verifier>:z<base58 key>".
func (s Signer) String() string {
	key := "z" + base58.Encode(s.Key)
	if s.Kind == KindExternal {
		return string(KindExternal) + ":" + s.Verifier.String() + ":" + key
	}
	return string(s.Kind) + ":" + key
}

// Parse is the inverse of String.
func Parse(text string) (Signer, error) {
	parts := strings.Split(text, ":")

	var (
		s      Signer
		encKey string
	)
	switch {
	case len(parts) == 2 && parts[0] == string(KindNative):
		s.Kind = KindNative
		encKey = parts[1]
	case len(parts) == 3 && parts[0] == string(KindExternal):
		ref, err := id.ParseVerifierID(parts[1])
		if err != nil {
			return Signer{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		s.Kind = KindExternal
		s.Verifier = ref
		encKey = parts[2]
	default:
		return Signer{}, fmt.Errorf("%w: cannot parse %q", ErrInvalid, text)
	}

	if !strings.HasPrefix(encKey, "z") {
		return Signer{}, fmt.Errorf("%w: key %q is not base58btc multibase", ErrInvalid, encKey)
	}
	key, err := base58.Decode(encKey[1:])
	if err != nil {
		return Signer{}, fmt.Errorf("%w: decode key: %v", ErrInvalid, err)
	}
	s.Key = key

	return s, s.Validate()
}

// MarshalText implements encoding.TextMarshaler.
func (s Signer) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signer) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Contains reports whether set holds an identity equal to s.
func Contains(set []Signer, s Signer) bool {
	return Index(set, s) >= 0
}

// Index returns the position of s in set, or -1.
func Index(set []Signer, s Signer) int {
	for i := range set {
		if set[i].Equal(s) {
			return i
		}
	}
	return -1
}

// ValidateSet checks every identity in set and rejects duplicates.
func ValidateSet(set []Signer) error {
	for i, s := range set {
		if err := s.Validate(); err != nil {
			return err
		}
		if Index(set[:i], s) >= 0 {
			return fmt.Errorf("%w: duplicate signer %s", ErrInvalid, s)
		}
	}
	return nil
}

// Clone returns a deep copy of set.
func Clone(set []Signer) []Signer {
	if set == nil {
		return nil
	}
	out := make([]Signer, len(set))
	for i, s := range set {
		out[i] = Signer{Kind: s.Kind, Verifier: s.Verifier, Key: bytes.Clone(s.Key)}
	}
	return out
}
