package wedge

import (
	"context"
	"fmt"
	"log"

	"github.com/kenshaw/evdev"
)

// Keyboard reads identities from a USB keyboard-wedge scanner that types
// the identity characters followed by Enter.
type Keyboard struct {
	device *evdev.Evdev
}

// NewKeyboard opens the evdev input device.
func NewKeyboard(device string) (*Keyboard, error) {
	dev, err := evdev.OpenFile(device)
	if err != nil {
		return nil, fmt.Errorf("wedge: open evdev %s: %w", device, err)
	}
	log.Printf("wedge: opened keyboard device %s (vendor 0x%04x product 0x%04x)",
		dev.Name(), dev.ID().Vendor, dev.ID().Product)
	return &Keyboard{device: dev}, nil
}

// Read accumulates key presses until Enter and returns the buffer.
func (k *Keyboard) Read(ctx context.Context) (string, error) {
	ch := k.device.Poll(ctx)
	var strbuf string

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case event := <-ch:
			if event == nil {
				return "", fmt.Errorf("wedge: keyboard device closed")
			}

			switch event.Type.(type) {
			case evdev.KeyType:
				if event.Value != 1 {
					continue
				}
				if event.Type == evdev.KeyEnter {
					if strbuf == "" {
						continue
					}
					return strbuf, nil
				}
				// Key names for character keys are the character itself;
				// anything longer (shift, escape, ...) is skipped.
				s := evdev.KeyType(event.Code).String()
				if len(s) == 1 {
					strbuf += s
				}
			}
		}
	}
}

// Close releases the input device.
func (k *Keyboard) Close() error {
	if k.device == nil {
		return nil
	}
	return k.device.Close()
}
