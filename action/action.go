// Package action describes the operations a smart account is asked to
// authorize. Each authorization request carries one or more Contexts and
// every one of them must be covered by a context rule.
package action

import (
	"encoding/hex"
	"fmt"
)

// Kind discriminates the shape of a Context.
type Kind string

const (
	// KindContract is an invocation of a function on a deployed contract.
	KindContract Kind = "contract"

	// KindCreateContract is the deployment of a new contract from code.
	KindCreateContract Kind = "create_contract"
)

// Context is a single action requested under one authorization.
type Context struct {
	Kind Kind `json:"kind" cbor:"kind"`

	// Contract call.
	Contract string `json:"contract,omitempty" cbor:"contract,omitempty"`
	Function string `json:"function,omitempty" cbor:"function,omitempty"`
	Args     []any  `json:"args,omitempty" cbor:"args,omitempty"`

	// Contract creation.
	WasmHash []byte `json:"wasm_hash,omitempty" cbor:"wasm_hash,omitempty"`
	Salt     []byte `json:"salt,omitempty" cbor:"salt,omitempty"`
}

// Call builds a contract invocation context.
func Call(contract, function string, args ...any) Context {
	return Context{Kind: KindContract, Contract: contract, Function: function, Args: args}
}

// Create builds a contract creation context.
func Create(wasmHash, salt []byte) Context {
	return Context{Kind: KindCreateContract, WasmHash: wasmHash, Salt: salt}
}

// WasmHashHex returns the lowercase hex form of the code hash, which is how
// create_contract rules name their target.
func (c Context) WasmHashHex() string {
	return hex.EncodeToString(c.WasmHash)
}

// Validate checks the context is well formed for its kind.
func (c Context) Validate() error {
	switch c.Kind {
	case KindContract:
		if c.Contract == "" {
			return fmt.Errorf("action: contract call without contract address")
		}
		if c.Function == "" {
			return fmt.Errorf("action: contract call without function name")
		}
	case KindCreateContract:
		if len(c.WasmHash) == 0 {
			return fmt.Errorf("action: contract creation without wasm hash")
		}
	default:
		return fmt.Errorf("action: unknown context kind %q", c.Kind)
	}
	return nil
}

// String renders the context for logs and audit entries.
func (c Context) String() string {
	switch c.Kind {
	case KindContract:
		return c.Contract + "." + c.Function
	case KindCreateContract:
		return "create:" + c.WasmHashHex()
	default:
		return string(c.Kind)
	}
}
