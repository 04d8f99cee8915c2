package latch

import (
	"fmt"
	"log/slog"

	"github.com/xraph/latch/id"
	"github.com/xraph/latch/ledger"
	"github.com/xraph/latch/nonce"
	"github.com/xraph/latch/plugin"
	"github.com/xraph/latch/policy"
	"github.com/xraph/latch/store"
	"github.com/xraph/latch/verifier"
)

// Option is a functional option for the Engine.
type Option func(*Engine)

// WithStore sets the composite store.
func WithStore(s store.Store) Option { return func(e *Engine) { e.store = s } }

// WithConfig sets the engine configuration.
func WithConfig(c Config) Option { return func(e *Engine) { e.config = c } }

// WithVerifier registers an external verifier under ref.
func WithVerifier(ref id.VerifierID, v verifier.Verifier) Option {
	return func(e *Engine) {
		if err := e.verifiers.Register(ref, v); err != nil {
			e.optErrs = append(e.optErrs, fmt.Errorf("latch: %w", err))
		}
	}
}

// WithPolicy registers a policy under ref.
func WithPolicy(ref id.PolicyID, p policy.Policy) Option {
	return func(e *Engine) {
		if err := e.policies.Register(ref, p); err != nil {
			e.optErrs = append(e.optErrs, fmt.Errorf("latch: %w", err))
		}
	}
}

// WithLedger sets the current-ledger source used for expiry checks.
func WithLedger(src ledger.Source) Option { return func(e *Engine) { e.ledger = src } }

// WithNonceStore sets the replay guard. Defaults to an in-memory store.
func WithNonceStore(s nonce.Store) Option { return func(e *Engine) { e.nonces = s } }

// WithCache sets the resolved rule cache.
func WithCache(c Cache) Option { return func(e *Engine) { e.cache = c } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithPlugin registers a plugin with the engine.
func WithPlugin(x plugin.Plugin) Option {
	return func(e *Engine) { e.pending = append(e.pending, x) }
}
