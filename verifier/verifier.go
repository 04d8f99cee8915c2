// Package verifier defines the capability boundary between the authorization
// engine and concrete signature schemes.
//
// A Verifier is a pure predicate. It must return true only when sigData is a
// complete, valid proof of possession over exactly payload under exactly
// keyData. Every other outcome, including malformed input, is a rejection.
package verifier

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xraph/latch/id"
)

var (
	// ErrUnknown is returned by Registry.Lookup for unregistered references.
	ErrUnknown = errors.New("verifier: unknown reference")

	// ErrMalformed is wrapped by verifiers when keyData or sigData cannot be
	// decoded for their scheme.
	ErrMalformed = errors.New("verifier: malformed input")
)

// Verifier checks a signature for one signature scheme.
//
// Implementations return (false, nil) for a well-formed but invalid
// signature and (false, err) when the inputs cannot be interpreted. The
// engine treats both as an authentication failure. Implementations must not
// keep state between calls.
type Verifier interface {
	Verify(payload, keyData, sigData []byte) (bool, error)
}

// Func adapts an ordinary function to the Verifier interface.
type Func func(payload, keyData, sigData []byte) (bool, error)

// Verify calls f.
func (f Func) Verify(payload, keyData, sigData []byte) (bool, error) {
	return f(payload, keyData, sigData)
}

// Registry maps verifier references to implementations. It is safe for
// concurrent use; lookups happen on every evaluation.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
	order     []id.VerifierID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[string]Verifier)}
}

// Register binds ref to v. Registering the same reference twice is an error.
func (r *Registry) Register(ref id.VerifierID, v Verifier) error {
	if ref.IsNil() || ref.Prefix() != id.PrefixVerifier {
		return fmt.Errorf("verifier: invalid reference %q", ref)
	}
	if v == nil {
		return fmt.Errorf("verifier: nil implementation for %s", ref)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := ref.String()
	if _, ok := r.verifiers[key]; ok {
		return fmt.Errorf("verifier: %s already registered", ref)
	}
	r.verifiers[key] = v
	r.order = append(r.order, ref)
	return nil
}

// Lookup returns the verifier bound to ref.
func (r *Registry) Lookup(ref id.VerifierID) (Verifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.verifiers[ref.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, ref)
	}
	return v, nil
}

// References returns registered references in registration order.
func (r *Registry) References() []id.VerifierID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]id.VerifierID, len(r.order))
	copy(out, r.order)
	return out
}
