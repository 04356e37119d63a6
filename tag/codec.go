package tag

import (
	"errors"
	"fmt"
	"strings"
)

// Identity layout on the tag: three consecutive pages holding issue year,
// org code and serial, 4 ASCII characters each.
const (
	IdentityPage  = 0x04
	IdentityPages = 3
	fieldLen      = PageSize
)

// ErrUnreadable is returned when the identity pages hold no printable
// content at all.
var ErrUnreadable = errors.New("tag: unreadable identity")

// DecodeIdentity assembles the printable identity string from 12 raw bytes
// read at IdentityPage. Bytes outside 0x20..0x7E are stripped; trailing
// nulls on partially written tags disappear this way. Returns ErrUnreadable
// if nothing printable remains.
func DecodeIdentity(pages []byte) (string, error) {
	if len(pages) < IdentityPages*PageSize {
		return "", fmt.Errorf("tag: identity needs %d bytes, got %d", IdentityPages*PageSize, len(pages))
	}
	var sb strings.Builder
	for _, b := range pages[:IdentityPages*PageSize] {
		if b >= 0x20 && b <= 0x7E {
			sb.WriteByte(b)
		}
	}
	id := strings.TrimSpace(sb.String())
	if id == "" {
		return "", ErrUnreadable
	}
	return id, nil
}

// EncodeIdentity packs the three identity fields into the 12-byte page
// image. Every field must be exactly 4 characters; numeric serials should
// go through FormatSerial first.
func EncodeIdentity(year, code, serial string) ([IdentityPages * PageSize]byte, error) {
	var out [IdentityPages * PageSize]byte
	for i, f := range []struct {
		name, val string
	}{{"year", year}, {"code", code}, {"serial", serial}} {
		if len(f.val) != fieldLen {
			return out, fmt.Errorf("tag: %s must be exactly %d characters, got %q", f.name, fieldLen, f.val)
		}
		copy(out[i*fieldLen:], f.val)
	}
	return out, nil
}

// FormatSerial zero-pads a numeric serial to the 4-digit field width.
func FormatSerial(n int) string {
	return fmt.Sprintf("%04d", n)
}
