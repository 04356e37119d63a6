// Package turnstile controls the optional lane barrier: a relay that
// releases the arm for a few seconds after an allowed entry. Terminals
// without a barrier run the Noop implementation.
package turnstile

import (
	"fmt"

	"github.com/hjkoskel/govattu"
)

// Gate is the interface for barrier control implementations.
type Gate interface {
	// Open releases the arm.
	Open() error

	// Close re-latches the arm.
	Close() error

	// Release frees any hardware resources.
	Release() error
}

// Config holds configuration for the barrier.
type Config struct {
	Type     string `yaml:"type"`      // "gpio_high", "gpio_low", "none"
	Pin      *int   `yaml:"pin"`       // GPIO pin driving the relay
	HoldSecs int    `yaml:"hold_secs"` // seconds the arm stays released; default 5
}

// Hold returns the configured hold time in seconds.
func (c Config) Hold() int {
	if c.HoldSecs <= 0 {
		return 5
	}
	return c.HoldSecs
}

// New creates a Gate based on the provided configuration.
func New(cfg Config) (Gate, error) {
	if cfg.Pin == nil || cfg.Type == "" || cfg.Type == "none" {
		return &Noop{}, nil
	}

	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("turnstile: open gpio: %w", err)
	}

	switch cfg.Type {
	case "gpio_high", "openhigh":
		return NewGPIO(hw, uint8(*cfg.Pin), true)
	case "gpio_low", "openlow":
		return NewGPIO(hw, uint8(*cfg.Pin), false)
	default:
		hw.Close()
		return nil, fmt.Errorf("turnstile: unknown type %q", cfg.Type)
	}
}
