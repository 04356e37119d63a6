// Package indicator drives auxiliary status lights next to the reader.
// The primary user feedback is the reader's own tone; these are for staff
// watching the lane from a distance.
package indicator

// Indicator is the interface for status light implementations (LEDs,
// neopixels).
type Indicator interface {
	// Idle sets the indicator to the ready state.
	Idle()

	// Granted flashes the entry-allowed state.
	Granted()

	// Denied flashes the entry-denied state.
	Denied()

	// ConnectionLost signals that the backend is unreachable.
	ConnectionLost()

	// Shutdown sets the powering-down state.
	Shutdown()

	// Release releases any hardware resources.
	Release() error
}

// Config holds configuration for indicator implementations.
type Config struct {
	// GPIO LED pins (nil = not configured)
	GreenPin  *uint8 `yaml:"green_pin"`
	YellowPin *uint8 `yaml:"yellow_pin"`
	RedPin    *uint8 `yaml:"red_pin"`

	// Neopixel pipe path (empty = not configured)
	NeopixelPipe string `yaml:"neopixel_pipe"`
}

// New creates an Indicator based on the provided configuration. Returns a
// Multi when more than one backend is configured and a Noop when none is.
func New(cfg Config) (Indicator, error) {
	var indicators []Indicator

	if cfg.GreenPin != nil || cfg.YellowPin != nil || cfg.RedPin != nil {
		gpio, err := NewGPIO(cfg.GreenPin, cfg.YellowPin, cfg.RedPin)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, gpio)
	}

	if cfg.NeopixelPipe != "" {
		neo, err := NewNeopixel(cfg.NeopixelPipe)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, neo)
	}

	if len(indicators) == 0 {
		return &Noop{}, nil
	}
	if len(indicators) == 1 {
		return indicators[0], nil
	}
	return &Multi{indicators: indicators}, nil
}
