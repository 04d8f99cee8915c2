package extension

import "github.com/xraph/latch"

// Config holds the latch extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.latch" or "latch" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Engine is passed to the engine unchanged.
	Engine latch.Config `json:"engine" mapstructure:"engine" yaml:"engine"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Engine: latch.DefaultConfig()}
}
