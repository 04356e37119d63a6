package wedge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// Serial reads identities from a serial scanner that prints one identity
// per line.
type Serial struct {
	port *serial.Port
}

// NewSerial opens the serial device. Baud defaults to 115200.
func NewSerial(device string, baud int) (*Serial, error) {
	if baud == 0 {
		baud = 115200
	}
	c := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: time.Second,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("wedge: open serial %s: %w", device, err)
	}
	return &Serial{port: port}, nil
}

// Read accumulates bytes until CR or LF and returns the trimmed line.
// The port's read timeout keeps the loop responsive to cancellation.
func (s *Serial) Read(ctx context.Context) (string, error) {
	var line strings.Builder
	buf := make([]byte, 64)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			// Timeout; keep waiting.
			continue
		}
		for _, b := range buf[:n] {
			switch {
			case b == '\r' || b == '\n':
				if line.Len() > 0 {
					return line.String(), nil
				}
			case b >= 0x20 && b <= 0x7E:
				line.WriteByte(b)
			}
		}
	}
}

// Close releases the port.
func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
