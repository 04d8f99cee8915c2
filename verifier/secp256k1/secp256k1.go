// Package secp256k1 provides an elliptic-curve recovery verifier in the
// style of Ethereum personal keys: the payload is hashed with Keccak-256,
// the public key is recovered from a 65-byte [R || S || V] signature and
// compared against the signer's key data.
package secp256k1

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"github.com/xraph/latch/verifier"
)

// SignatureSize is the length of a recoverable signature.
const SignatureSize = 65

var _ verifier.Verifier = Verifier{}

// Verifier checks recoverable secp256k1 signatures.
//
// keyData may be a 20-byte address, a 33-byte compressed public key or a
// 65-byte uncompressed public key. All three compare by derived address.
type Verifier struct{}

// New returns a secp256k1 recovery verifier.
func New() Verifier { return Verifier{} }

// Verify implements verifier.Verifier.
func (Verifier) Verify(payload, keyData, sigData []byte) (bool, error) {
	want, err := addressOf(keyData)
	if err != nil {
		return false, err
	}
	if len(sigData) != SignatureSize {
		return false, fmt.Errorf("%w: signature must be %d bytes, got %d", verifier.ErrMalformed, SignatureSize, len(sigData))
	}

	recovered, err := crypto.Ecrecover(Digest(payload), sigData)
	if err != nil {
		return false, nil //nolint:nilerr // unrecoverable signature is a plain rejection
	}
	pub, err := crypto.UnmarshalPubkey(recovered)
	if err != nil {
		return false, nil //nolint:nilerr // same as above
	}

	got := crypto.PubkeyToAddress(*pub)
	return bytes.Equal(got.Bytes(), want.Bytes()), nil
}

// Digest is the Keccak-256 hash that signers sign.
func Digest(payload []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)
	return h.Sum(nil)
}

// Sign produces sig_data for payload with key.
func Sign(key *ecdsa.PrivateKey, payload []byte) ([]byte, error) {
	return crypto.Sign(Digest(payload), key)
}

func addressOf(keyData []byte) (common.Address, error) {
	switch len(keyData) {
	case common.AddressLength:
		return common.BytesToAddress(keyData), nil
	case 33:
		pub, err := crypto.DecompressPubkey(keyData)
		if err != nil {
			return common.Address{}, fmt.Errorf("%w: %v", verifier.ErrMalformed, err)
		}
		return crypto.PubkeyToAddress(*pub), nil
	case 65:
		pub, err := crypto.UnmarshalPubkey(keyData)
		if err != nil {
			return common.Address{}, fmt.Errorf("%w: %v", verifier.ErrMalformed, err)
		}
		return crypto.PubkeyToAddress(*pub), nil
	default:
		return common.Address{}, fmt.Errorf("%w: unsupported key length %d", verifier.ErrMalformed, len(keyData))
	}
}
