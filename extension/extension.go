// Package extension provides a Forge extension entry point for latch.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/latch"
	"github.com/xraph/latch/plugin"
	"github.com/xraph/latch/store"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "latch"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Smart-account authorization core (context rules, pluggable verifiers and policies)"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the latch engine as a Forge extension.
type Extension struct {
	config    Config
	eng       *latch.Engine
	logger    *slog.Logger
	latchOpts []latch.Option
	plugins   []plugin.Plugin
}

// New creates a latch Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{config: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the extension name.
func (e *Extension) Name() string { return ExtensionName }

// Description returns the extension description.
func (e *Extension) Description() string { return ExtensionDescription }

// Version returns the extension version.
func (e *Extension) Version() string { return ExtensionVersion }

// Dependencies returns the list of extension names this extension depends on.
func (e *Extension) Dependencies() []string { return []string{} }

// Engine returns the underlying latch engine.
func (e *Extension) Engine() *latch.Engine { return e.eng }

// Register implements [forge.Extension]. It builds the engine and registers
// it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	var injected store.Store
	if s, err := forge.Inject[store.Store](fapp.Container()); err == nil {
		injected = s
	}
	if err := e.build(injected); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*latch.Engine, error) {
		return e.eng, nil
	}); err != nil {
		return fmt.Errorf("latch: register engine in container: %w", err)
	}
	return nil
}

// build constructs the engine. A store resolved from the container is used
// unless an explicit WithStore option overrides it.
func (e *Extension) build(injected store.Store) error {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := make([]latch.Option, 0, len(e.latchOpts)+len(e.plugins)+3)
	opts = append(opts, latch.WithLogger(logger), latch.WithConfig(e.config.Engine))
	if injected != nil {
		opts = append(opts, latch.WithStore(injected))
	}
	opts = append(opts, e.latchOpts...)
	for _, x := range e.plugins {
		opts = append(opts, latch.WithPlugin(x))
	}

	eng, err := latch.NewEngine(opts...)
	if err != nil {
		return fmt.Errorf("latch: create engine: %w", err)
	}
	e.eng = eng
	return nil
}

// Start runs migrations if enabled and starts the engine.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("latch: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if s := e.eng.Store(); s != nil {
			if err := s.Migrate(ctx); err != nil {
				return fmt.Errorf("latch: migration failed: %w", err)
			}
		}
	}

	return e.eng.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		return nil
	}
	return e.eng.Stop(ctx)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("latch: extension not initialized")
	}
	s := e.eng.Store()
	if s == nil {
		return errors.New("latch: no store configured")
	}
	return s.Ping(ctx)
}
