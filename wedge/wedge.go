// Package wedge supports keyboard-wedge and serial line scanners as
// secondary identity sources. A wedge scanner types or prints the identity
// it read; there is no page access, no locking and no reader feedback on
// this path.
package wedge

import (
	"context"
	"fmt"
)

// Source is a blocking identity reader.
type Source interface {
	// Read blocks until an identity is scanned or the context is
	// cancelled. Empty scans are filtered out by implementations.
	Read(ctx context.Context) (string, error)

	// Close releases the device.
	Close() error
}

// Config selects and configures a wedge source.
type Config struct {
	Type   string `yaml:"type"`   // "", "keyboard", "serial"
	Device string `yaml:"device"` // e.g. "/dev/input/event0", "/dev/ttyUSB0"
	Baud   int    `yaml:"baud"`   // serial only; default 115200
}

// New creates a source, or (nil, nil) when no wedge is configured.
func New(cfg Config) (Source, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "keyboard":
		return NewKeyboard(cfg.Device)
	case "serial":
		return NewSerial(cfg.Device, cfg.Baud)
	default:
		return nil, fmt.Errorf("wedge: unknown type %q", cfg.Type)
	}
}
