package latch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the latch engine.
type Config struct {
	// NetworkID is bound into every authorization payload so signatures
	// cannot be replayed across networks.
	NetworkID string `json:"network_id" yaml:"network_id"`

	// ParallelVerify authenticates presented signatures concurrently.
	// The first failure still rejects the request.
	ParallelVerify bool `json:"parallel_verify,omitempty" yaml:"parallel_verify,omitempty"`

	// MaxSignatures bounds the signature bundle. Zero means unbounded.
	// Defaults to 20.
	MaxSignatures int `json:"max_signatures,omitempty" yaml:"max_signatures,omitempty"`

	// MaxContexts bounds the number of actions per request. Zero means
	// unbounded. Defaults to 16.
	MaxContexts int `json:"max_contexts,omitempty" yaml:"max_contexts,omitempty"`

	// LedgerInterval is the ledger close time used by the default
	// clock-derived ledger source. Ignored when WithLedger is given.
	LedgerInterval time.Duration `json:"ledger_interval,omitempty" yaml:"ledger_interval,omitempty"`

	// MaxExpirationWindow bounds how many ledgers past the current one an
	// authorization envelope may expire. Nonce stores must retain records
	// for at least this long. Zero means unbounded. Defaults to 17280, one
	// day of 5s ledgers.
	MaxExpirationWindow uint32 `json:"max_expiration_window,omitempty" yaml:"max_expiration_window,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NetworkID:           "latch-local",
		MaxSignatures:       20,
		MaxContexts:         16,
		LedgerInterval:      5 * time.Second,
		MaxExpirationWindow: 17280,
	}
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if c.NetworkID == "" {
		return fmt.Errorf("latch config: network_id is required")
	}
	if c.MaxSignatures < 0 || c.MaxContexts < 0 {
		return fmt.Errorf("latch config: limits must not be negative")
	}
	if c.LedgerInterval < 0 {
		return fmt.Errorf("latch config: ledger_interval must not be negative")
	}
	return nil
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("latch config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("latch config: %w", err)
	}
	return ParseConfig(data)
}
