// Package payload derives the bytes that signers sign.
//
// The payload is the SHA-256 digest of a deterministic CBOR encoding of an
// Envelope. The envelope binds the network, the account, a nonce, an
// expiration ledger and every requested action, so a signature cannot be
// replayed after its bound, reused under another nonce or moved to another
// target.
package payload

import (
	"crypto/sha256"
	"fmt"

	"github.com/xraph/latch/action"
	"github.com/xraph/latch/id"
	"github.com/xraph/latch/internal/codec"
)

// Domain separates latch payloads from other CBOR-hashed data.
const Domain = "latch/auth/v1"

// Size is the payload length in bytes.
const Size = sha256.Size

// Envelope is the preimage of a payload.
type Envelope struct {
	NetworkID        string           `cbor:"network"`
	Account          id.AccountID     `cbor:"account"`
	Nonce            uint64           `cbor:"nonce"`
	ExpirationLedger uint32           `cbor:"expiration_ledger"`
	Contexts         []action.Context `cbor:"contexts"`
}

type preimage struct {
	Domain string `cbor:"domain"`
	Envelope
}

// Encode returns the canonical preimage bytes of env.
func Encode(env *Envelope) ([]byte, error) {
	if env.Account.IsNil() {
		return nil, fmt.Errorf("payload: envelope without account")
	}
	if len(env.Contexts) == 0 {
		return nil, fmt.Errorf("payload: envelope without contexts")
	}
	data, err := codec.Marshal(preimage{Domain: Domain, Envelope: *env})
	if err != nil {
		return nil, fmt.Errorf("payload: encode envelope: %w", err)
	}
	return data, nil
}

// Hash returns the payload for env.
func Hash(env *Envelope) ([]byte, error) {
	data, err := Encode(env)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}
