package tag

import "fmt"

// Layout carries the NTAG-variant-specific page addresses the lock sequence
// touches. The static lock page is common to the whole family; the dynamic
// lock and configuration pages move with the memory size, so they are
// configuration, not code.
type Layout struct {
	Name            string
	StaticLockPage  byte // bytes 2-3 are the static lock pair
	DynamicLockPage byte // bytes 0-2 set to FF FF FF when locked
	DynamicLockTail byte // byte 3 as written; the silicon fixes what reads back
	ConfigPage      byte // ACCESS page; CFGLCK is bit 6 of byte 0
}

// Known NTAG layouts. Dynamic lock / config addresses per the NXP
// datasheets: NTAG213 28h/2Ah, NTAG215 82h/84h, NTAG216 E2h/E4h.
var (
	NTAG213 = Layout{Name: "NTAG213", StaticLockPage: 0x02, DynamicLockPage: 0x28, ConfigPage: 0x2A}
	NTAG215 = Layout{Name: "NTAG215", StaticLockPage: 0x02, DynamicLockPage: 0x82, ConfigPage: 0x84}
	NTAG216 = Layout{Name: "NTAG216", StaticLockPage: 0x02, DynamicLockPage: 0xE2, ConfigPage: 0xE4}
)

// LayoutByName resolves a configured tag type. Empty string means probe at
// tap time.
func LayoutByName(name string) (Layout, error) {
	switch name {
	case "ntag213", "NTAG213":
		return NTAG213, nil
	case "ntag215", "NTAG215":
		return NTAG215, nil
	case "ntag216", "NTAG216":
		return NTAG216, nil
	default:
		return Layout{}, fmt.Errorf("tag: unknown tag type %q", name)
	}
}

// Capability container size values (page 3, byte 2).
const (
	ccPage    = 0x03
	ccNTAG213 = 0x12
	ccNTAG215 = 0x3E
	ccNTAG216 = 0x6F
)

// Probe reads the capability container and selects the matching layout, so
// the lock sequence never writes size-specific addresses blind.
func Probe(d *Device) (Layout, error) {
	cc, err := d.ReadPage(ccPage)
	if err != nil {
		return Layout{}, fmt.Errorf("probe capability container: %w", err)
	}
	switch cc[2] {
	case ccNTAG213:
		return NTAG213, nil
	case ccNTAG215:
		return NTAG215, nil
	case ccNTAG216:
		return NTAG216, nil
	default:
		return Layout{}, fmt.Errorf("tag: unrecognized capability container size %02X", cc[2])
	}
}
