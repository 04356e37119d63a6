package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"messgate/tag"
)

// EventKind distinguishes watcher notifications.
type EventKind int

const (
	CardPresent EventKind = iota
	CardGone
)

// Event is one device watcher notification. Connect is only set for
// CardPresent and opens a fresh transport session to the seated tag.
type Event struct {
	Kind    EventKind
	Reader  string
	Connect func() (tag.Transport, error)
}

// Watcher produces presence events from the platform's card monitor. The
// channel closes when the watcher shuts down.
type Watcher interface {
	Events() <-chan Event
	Close() error
}

// Mode selects the per-tag pipeline.
type Mode int

const (
	// ModeMess reads the identity and gates a mess entry.
	ModeMess Mode = iota
	// ModeEnroll locks the card and records the identity/UID pair.
	ModeEnroll
	// ModeClear zeroes the user data pages of every tapped card. A bench
	// mode for recycling misprinted cards; never combined with locking.
	ModeClear
)

// clearEnd is the last user data page zeroed in clear mode.
const clearEnd = 0x17

// Config holds monitor settings.
type Config struct {
	Mode     string        `yaml:"mode"`     // "mess" (default), "enroll" or "clear"
	Debounce time.Duration `yaml:"debounce"` // default 3s
	TagType  string        `yaml:"tag_type"` // "", "ntag213", "ntag215", "ntag216"
}

// DefaultDebounce is the window within which repeated insertion events for
// the same UID are ignored.
const DefaultDebounce = 3 * time.Second

// retention multiple for evicting stale debounce entries.
const debounceRetention = 4

// Monitor is the long-lived presence loop. One per process; it owns the
// debounce and in-progress maps.
type Monitor struct {
	watcher  Watcher
	bridge   *Bridge
	mode     Mode
	debounce time.Duration

	// layout is fixed when a tag type is configured; nil means probe the
	// capability container per tap (enroll mode only).
	layout *tag.Layout

	mu       sync.Mutex
	lastSeen map[string]time.Time // UID -> last accepted tap
	seated   map[string]string    // reader -> UID currently in progress

	now func() time.Time
}

// New builds a monitor from config. Returns an error for an unknown mode or
// tag type.
func New(cfg Config, w Watcher, b *Bridge) (*Monitor, error) {
	m := &Monitor{
		watcher:  w,
		bridge:   b,
		debounce: cfg.Debounce,
		lastSeen: make(map[string]time.Time),
		seated:   make(map[string]string),
		now:      time.Now,
	}
	if m.debounce <= 0 {
		m.debounce = DefaultDebounce
	}

	switch cfg.Mode {
	case "", "mess":
		m.mode = ModeMess
	case "enroll":
		m.mode = ModeEnroll
	case "clear":
		m.mode = ModeClear
	default:
		return nil, errors.New("monitor: unknown mode " + cfg.Mode)
	}

	if cfg.TagType != "" {
		layout, err := tag.LayoutByName(cfg.TagType)
		if err != nil {
			return nil, err
		}
		m.layout = &layout
	}
	return m, nil
}

// Run consumes watcher events until the context is cancelled or the event
// channel closes. Transport I/O for each tap runs inline on this goroutine.
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.watcher.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case CardGone:
				m.clearSeated(ev.Reader)
			case CardPresent:
				m.handleCard(ctx, ev)
			}
		}
	}
}

// admit applies the debounce and seated checks and, when the tap is
// accepted, records it. Both maps share one mutex: taps on multiple readers
// land here concurrently in watcher implementations that fan out.
func (m *Monitor) admit(reader, uid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seated[reader] == uid {
		// Same card still on the reader; the watcher fired a spurious
		// presence event.
		return false
	}

	now := m.now()
	if last, ok := m.lastSeen[uid]; ok && now.Sub(last) < m.debounce {
		return false
	}
	m.lastSeen[uid] = now
	m.seated[reader] = uid

	// Bounded retention: drop entries old enough that they can no longer
	// influence a debounce decision.
	for k, t := range m.lastSeen {
		if now.Sub(t) > debounceRetention*m.debounce {
			delete(m.lastSeen, k)
		}
	}
	return true
}

func (m *Monitor) clearSeated(reader string) {
	m.mu.Lock()
	delete(m.seated, reader)
	m.mu.Unlock()
}

// handleCard runs the whole per-tag pipeline for one presence event. The
// transport session is closed on every exit path; a panic is caught at this
// boundary so the next tap starts clean.
func (m *Monitor) handleCard(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("monitor: panic processing card on %s: %v", ev.Reader, r)
			m.clearSeated(ev.Reader)
		}
	}()

	t, err := ev.Connect()
	if err != nil {
		log.Printf("monitor: connect %s: %v", ev.Reader, err)
		return
	}
	d := tag.NewDevice(t)
	defer d.Close()

	uid, err := d.UID()
	if err != nil {
		log.Printf("monitor: read uid on %s: %v", ev.Reader, err)
		return
	}

	if !m.admit(ev.Reader, uid) {
		return
	}

	if err := m.process(ctx, ev.Reader, uid, d); err != nil {
		if errors.Is(err, tag.ErrLost) {
			// Card left mid-interaction; let the same UID retry on its
			// next insertion without waiting for a CardGone event.
			m.clearSeated(ev.Reader)
		}
		log.Printf("monitor: %s uid %s: %v", ev.Reader, uid, err)
	}
}

func (m *Monitor) process(ctx context.Context, reader, uid string, d *tag.Device) error {
	// Defensive repeat of the startup setting: feedback only ever comes
	// from an explicit SuccessTone after the decision is known.
	d.DisableAutoBeep()

	if m.mode == ModeClear {
		if err := d.ClearPages(tag.IdentityPage, clearEnd); err != nil {
			return err
		}
		log.Printf("monitor: cleared pages %02X-%02X on uid %s", tag.IdentityPage, clearEnd, uid)
		return d.SuccessTone()
	}

	raw, err := d.ReadPages(tag.IdentityPage, tag.IdentityPages)
	if err != nil {
		return err
	}

	tp := Tap{UID: uid, Reader: reader, Time: m.now(), Enroll: m.mode == ModeEnroll}
	tp.Identity, err = tag.DecodeIdentity(raw)
	if err != nil {
		if !errors.Is(err, tag.ErrUnreadable) {
			return err
		}
		// Still surfaced to the consumer so the UI can show an
		// "unreadable card" outcome; never earns a tone.
		tp.Unreadable = true
	}

	if m.mode == ModeEnroll && !tp.Unreadable {
		rep, err := m.lock(d)
		if err != nil {
			return err
		}
		tp.Lock = rep
	}

	res, err := m.bridge.Deliver(ctx, tp)
	if err != nil {
		return err
	}
	if res.Success() {
		if err := d.SuccessTone(); err != nil {
			return err
		}
	}
	return nil
}

// lock resolves the tag layout (configured or probed) and runs the lock
// sequence. Unreadable and already-locked cards are both fine; a failed
// verification aborts the tap.
func (m *Monitor) lock(d *tag.Device) (tag.Report, error) {
	layout := tag.Layout{}
	if m.layout != nil {
		layout = *m.layout
	} else {
		var err error
		layout, err = tag.Probe(d)
		if err != nil {
			return tag.Report{}, err
		}
	}

	rep, err := tag.NewSequencer(layout).Run(d)
	if err != nil {
		return rep, err
	}
	if rep.ConfigErr != nil {
		// Advisory only; data pages are already protected.
		log.Printf("monitor: config lock: %v", rep.ConfigErr)
	}
	return rep, nil
}
