package turnstile

import (
	"github.com/hjkoskel/govattu"
)

// GPIO implements Gate using a single relay pin.
type GPIO struct {
	hw       govattu.Vattu
	pin      uint8
	openHigh bool // true = set pin high to release the arm
}

// NewGPIO creates a relay-driven barrier on the given pin.
func NewGPIO(hw govattu.Vattu, pin uint8, openHigh bool) (*GPIO, error) {
	hw.PinMode(pin, govattu.ALToutput)

	g := &GPIO{
		hw:       hw,
		pin:      pin,
		openHigh: openHigh,
	}

	// Start latched.
	g.Close()
	return g, nil
}

// Open implements Gate.Open.
func (g *GPIO) Open() error {
	if g.openHigh {
		g.hw.PinSet(g.pin)
	} else {
		g.hw.PinClear(g.pin)
	}
	return nil
}

// Close implements Gate.Close.
func (g *GPIO) Close() error {
	if g.openHigh {
		g.hw.PinClear(g.pin)
	} else {
		g.hw.PinSet(g.pin)
	}
	return nil
}

// Release implements Gate.Release.
func (g *GPIO) Release() error {
	return g.hw.Close()
}
