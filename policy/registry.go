package policy

import (
	"fmt"
	"sync"

	"github.com/xraph/latch/id"
)

// Registry maps policy references to implementations.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
	order    []id.PolicyID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Policy)}
}

// Register binds ref to p. Registering the same reference twice is an error.
func (r *Registry) Register(ref id.PolicyID, p Policy) error {
	if ref.IsNil() || ref.Prefix() != id.PrefixPolicy {
		return fmt.Errorf("policy: invalid reference %q", ref)
	}
	if p == nil {
		return fmt.Errorf("policy: nil implementation for %s", ref)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := ref.String()
	if _, ok := r.policies[key]; ok {
		return fmt.Errorf("policy: %s already registered", ref)
	}
	r.policies[key] = p
	r.order = append(r.order, ref)
	return nil
}

// Lookup returns the policy bound to ref.
func (r *Registry) Lookup(ref id.PolicyID) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[ref.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, ref)
	}
	return p, nil
}

// References returns registered references in registration order.
func (r *Registry) References() []id.PolicyID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]id.PolicyID, len(r.order))
	copy(out, r.order)
	return out
}
