// Package tag implements the NTAG-side of the terminal: the APDU transport
// contract, the page-encoded identity codec, and the irreversible lock
// sequence. It knows nothing about sessions, storage or feedback policy.
package tag

import (
	"errors"
	"fmt"
	"strings"
)

// PageSize is the addressable write unit on NTAG-family tags.
const PageSize = 4

// StatusWord is the 2-byte completion code returned with every response.
type StatusWord uint16

// StatusOK is the single success value. Everything else is a
// command-specific failure.
const StatusOK StatusWord = 0x9000

// OK reports whether the status word denotes success.
func (sw StatusWord) OK() bool { return sw == StatusOK }

func (sw StatusWord) String() string {
	return fmt.Sprintf("%02X %02X", byte(sw>>8), byte(sw))
}

// Transport sends one command frame to a connected tag/reader pair.
//
// A non-nil error means the transport itself is gone (tag removed, reader
// unplugged, connection dropped) and the whole interaction must be aborted.
// A well-formed response with a non-success status word is NOT an error at
// this level; callers decide whether to retry or report it.
type Transport interface {
	Transmit(cmd []byte) (payload []byte, sw StatusWord, err error)
	Close() error
}

// ErrLost marks a broken or removed tag connection. Errors returned by
// Device operations wrap it when the underlying transport failed, as
// opposed to a command that completed with a failure status.
var ErrLost = errors.New("tag: transport lost")

// StatusError reports a command that completed with a non-success status
// word. It is a protocol-level failure, not a transport loss.
type StatusError struct {
	Op string
	SW StatusWord
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tag: %s: status %s", e.Op, e.SW)
}

// Command frames for ACR122U-class readers. Values are bit-exact; do not
// reorder.
var (
	cmdGetUID      = []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}
	cmdDisableBeep = []byte{0xFF, 0x00, 0x52, 0x00, 0x00}
	cmdSuccessTone = []byte{0xFF, 0x00, 0x40, 0x01, 0x04, 0x01, 0x01, 0x02, 0x02}
)

func readCmd(page byte, n byte) []byte {
	return []byte{0xFF, 0xB0, 0x00, page, n}
}

func writeCmd(page byte, data [PageSize]byte) []byte {
	return []byte{0xFF, 0xD6, 0x00, page, PageSize, data[0], data[1], data[2], data[3]}
}

// Device layers page-oriented operations on a raw Transport. One Device per
// tag session; never shared across presence events.
type Device struct {
	t Transport
}

// NewDevice wraps an open transport session.
func NewDevice(t Transport) *Device { return &Device{t: t} }

// Close closes the underlying transport. Safe to call on every exit path.
func (d *Device) Close() error { return d.t.Close() }

func (d *Device) transmit(op string, cmd []byte) ([]byte, StatusWord, error) {
	data, sw, err := d.t.Transmit(cmd)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrLost, op, err)
	}
	return data, sw, nil
}

// run transmits and converts a non-success status into a StatusError.
func (d *Device) run(op string, cmd []byte) ([]byte, error) {
	data, sw, err := d.transmit(op, cmd)
	if err != nil {
		return nil, err
	}
	if !sw.OK() {
		return nil, &StatusError{Op: op, SW: sw}
	}
	return data, nil
}

// UID reads the tag UID and formats it as space-separated hex
// (e.g. "04 A1 5E 3A 2C 64 80").
func (d *Device) UID() (string, error) {
	data, err := d.run("get uid", cmdGetUID)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", &StatusError{Op: "get uid", SW: StatusOK}
	}
	return hexString(data), nil
}

// ReadPages reads count pages starting at page start. The response is
// count*4 bytes; short responses are a protocol failure.
func (d *Device) ReadPages(start byte, count int) ([]byte, error) {
	op := fmt.Sprintf("read page %02X", start)
	data, err := d.run(op, readCmd(start, byte(count*PageSize)))
	if err != nil {
		return nil, err
	}
	if len(data) < count*PageSize {
		return nil, &StatusError{Op: op + ": short response", SW: StatusOK}
	}
	return data[:count*PageSize], nil
}

// ReadPage reads a single 4-byte page.
func (d *Device) ReadPage(page byte) ([PageSize]byte, error) {
	var p [PageSize]byte
	data, err := d.ReadPages(page, 1)
	if err != nil {
		return p, err
	}
	copy(p[:], data)
	return p, nil
}

// WritePage writes one 4-byte page.
func (d *Device) WritePage(page byte, data [PageSize]byte) error {
	op := fmt.Sprintf("write page %02X", page)
	_, err := d.run(op, writeCmd(page, data))
	return err
}

// ClearPages zeroes every page in [lo, hi]. Stops at the first failure.
func (d *Device) ClearPages(lo, hi byte) error {
	for page := lo; page <= hi; page++ {
		if err := d.WritePage(page, [PageSize]byte{}); err != nil {
			return err
		}
		if page == 0xFF {
			break
		}
	}
	return nil
}

// DisableAutoBeep turns off the reader's automatic tone on tag detection,
// so feedback stays under program control. Failures are ignored: an older
// reader without the command should not abort the interaction.
func (d *Device) DisableAutoBeep() {
	d.transmit("disable auto beep", cmdDisableBeep)
}

// SuccessTone emits the explicit beep + LED blink. Only called after the
// full pipeline succeeds.
func (d *Device) SuccessTone() error {
	_, _, err := d.transmit("success tone", cmdSuccessTone)
	return err
}

func hexString(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}
