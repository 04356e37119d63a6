package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messgate/tag"
)

// fakeCard is an in-memory tag answering the reader command set.
type fakeCard struct {
	mu    sync.Mutex
	uid   []byte
	pages map[byte][tag.PageSize]byte
	tones int
}

func newFakeCard(uid string, identity string) *fakeCard {
	c := &fakeCard{
		uid:   []byte(uid),
		pages: make(map[byte][tag.PageSize]byte),
	}
	for i := 0; i < len(identity); i += tag.PageSize {
		var p [tag.PageSize]byte
		copy(p[:], identity[i:])
		c.pages[byte(tag.IdentityPage+i/tag.PageSize)] = p
	}
	return c
}

func (c *fakeCard) Transmit(cmd []byte) ([]byte, tag.StatusWord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch cmd[1] {
	case 0xCA:
		return c.uid, tag.StatusOK, nil
	case 0xB0:
		page, n := cmd[3], int(cmd[4])
		out := make([]byte, 0, n)
		for p := page; len(out) < n; p++ {
			chunk := c.pages[p]
			out = append(out, chunk[:]...)
		}
		return out[:n], tag.StatusOK, nil
	case 0xD6:
		var p [tag.PageSize]byte
		copy(p[:], cmd[5:])
		c.pages[cmd[3]] = p
		return nil, tag.StatusOK, nil
	case 0x00:
		if cmd[2] == 0x40 {
			c.tones++
		}
		return nil, tag.StatusOK, nil
	}
	return nil, 0x6A81, nil
}

func (c *fakeCard) Close() error { return nil }

func (c *fakeCard) toneCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tones
}

func (c *fakeCard) page(p byte) [tag.PageSize]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages[p]
}

// fakeWatcher replays a scripted event sequence.
type fakeWatcher struct {
	ch chan Event
}

func newFakeWatcher() *fakeWatcher { return &fakeWatcher{ch: make(chan Event, 16)} }

func (w *fakeWatcher) Events() <-chan Event { return w.ch }
func (w *fakeWatcher) Close() error { close(w.ch); return nil }

func (w *fakeWatcher) present(reader string, c *fakeCard) {
	w.ch <- Event{Kind: CardPresent, Reader: reader, Connect: func() (tag.Transport, error) {
		return c, nil
	}}
}

func (w *fakeWatcher) gone(reader string) {
	w.ch <- Event{Kind: CardGone, Reader: reader}
}

// collector is a bridge consumer that records every tap it sees.
type collector struct {
	mu     sync.Mutex
	taps   []Tap
	decide func(Tap) Result
}

func newCollector(decide func(Tap) Result) *collector {
	if decide == nil {
		decide = func(Tap) Result { return Result{Decision: Allowed} }
	}
	return &collector{decide: decide}
}

func (c *collector) serve(_ context.Context, tap Tap) Result {
	c.mu.Lock()
	c.taps = append(c.taps, tap)
	c.mu.Unlock()
	return c.decide(tap)
}

func (c *collector) seen() []Tap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tap(nil), c.taps...)
}

// runScenario drives a monitor over a scripted watcher until the script is
// done and the run loop has drained it.
func runScenario(t *testing.T, cfg Config, col *collector, script func(*fakeWatcher)) {
	t.Helper()

	w := newFakeWatcher()
	b := NewBridge(time.Second)
	m, err := New(cfg, w, b)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx, col.serve)

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	script(w)
	w.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not drain the event script")
	}
}

func TestMonitorMessTap(t *testing.T) {
	card := newFakeCard("uid-1", "2022KUCP1033")
	col := newCollector(func(tap Tap) Result {
		return Result{Decision: Allowed, Session: "LUNCH"}
	})

	runScenario(t, Config{}, col, func(w *fakeWatcher) {
		w.present("reader-0", card)
	})

	taps := col.seen()
	require.Len(t, taps, 1)
	assert.Equal(t, "2022KUCP1033", taps[0].Identity)
	assert.Equal(t, "75 69 64 2D 31", taps[0].UID)
	assert.False(t, taps[0].Enroll)
	assert.False(t, taps[0].Unreadable)

	assert.Equal(t, 1, card.toneCount())
}

func TestMonitorDeniedTapGetsNoTone(t *testing.T) {
	card := newFakeCard("uid-1", "2022KUCP1033")
	col := newCollector(func(Tap) Result { return Result{Decision: Denied} })

	runScenario(t, Config{}, col, func(w *fakeWatcher) {
		w.present("reader-0", card)
	})

	require.Len(t, col.seen(), 1)
	assert.Equal(t, 0, card.toneCount())
}

func TestMonitorSpuriousReinsert(t *testing.T) {
	card := newFakeCard("uid-1", "2022KUCP1033")
	col := newCollector(nil)

	runScenario(t, Config{}, col, func(w *fakeWatcher) {
		w.present("reader-0", card)
		w.present("reader-0", card) // bounce: no CardGone in between
	})

	assert.Len(t, col.seen(), 1, "a seated card must produce one interaction")
}

func TestMonitorRapidRetapDebounced(t *testing.T) {
	card := newFakeCard("uid-1", "2022KUCP1033")
	col := newCollector(nil)

	runScenario(t, Config{Debounce: time.Minute}, col, func(w *fakeWatcher) {
		w.present("reader-0", card)
		w.gone("reader-0")
		w.present("reader-0", card) // lifted and re-tapped inside the window
	})

	assert.Len(t, col.seen(), 1)
}

func TestMonitorRetapAfterWindow(t *testing.T) {
	w := newFakeWatcher()
	b := NewBridge(time.Second)
	m, err := New(Config{Debounce: 3 * time.Second}, w, b)
	require.NoError(t, err)

	// Injected clock so the window can elapse without sleeping.
	clock := time.Date(2026, 3, 12, 13, 0, 0, 0, time.Local)
	m.now = func() time.Time { return clock }

	assert.True(t, m.admit("reader-0", "uid-1"))
	m.clearSeated("reader-0")

	clock = clock.Add(time.Second)
	assert.False(t, m.admit("reader-0", "uid-1"), "inside the window")

	clock = clock.Add(3 * time.Second)
	assert.True(t, m.admit("reader-0", "uid-1"), "after the window")
}

func TestMonitorDistinctCardsNotDebounced(t *testing.T) {
	a := newFakeCard("uid-a", "2022KUCP1033")
	b := newFakeCard("uid-b", "2022KUCP1034")
	col := newCollector(nil)

	runScenario(t, Config{Debounce: time.Minute}, col, func(w *fakeWatcher) {
		w.present("reader-0", a)
		w.gone("reader-0")
		w.present("reader-0", b)
	})

	taps := col.seen()
	require.Len(t, taps, 2)
	assert.NotEqual(t, taps[0].UID, taps[1].UID)
}

func TestMonitorUnreadableCard(t *testing.T) {
	card := newFakeCard("uid-1", "") // factory blank pages
	col := newCollector(func(Tap) Result { return Result{Decision: Failed} })

	runScenario(t, Config{}, col, func(w *fakeWatcher) {
		w.present("reader-0", card)
	})

	taps := col.seen()
	require.Len(t, taps, 1)
	assert.True(t, taps[0].Unreadable)
	assert.Empty(t, taps[0].Identity)
	assert.Equal(t, 0, card.toneCount())
}

func TestMonitorEnrollLocksCard(t *testing.T) {
	card := newFakeCard("uid-1", "2022KUCP1033")
	card.pages[0x02] = [tag.PageSize]byte{0x48, 0x00, 0x00, 0x00}
	card.pages[0x28] = [tag.PageSize]byte{0x00, 0x00, 0x00, 0xBD}
	col := newCollector(nil)

	runScenario(t, Config{Mode: "enroll", TagType: "ntag213"}, col, func(w *fakeWatcher) {
		w.present("reader-0", card)
	})

	taps := col.seen()
	require.Len(t, taps, 1)
	assert.True(t, taps[0].Enroll)
	assert.Equal(t, tag.StageLocked, taps[0].Lock.Static)
	assert.Equal(t, tag.StageLocked, taps[0].Lock.Dynamic)

	got := card.page(0x02)
	assert.Equal(t, []byte{0xFF, 0xFF}, got[2:4])
	got = card.page(0x28)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, got[:3])
}

func TestMonitorClearMode(t *testing.T) {
	card := newFakeCard("uid-1", "2022KUCP1033")
	col := newCollector(nil)

	runScenario(t, Config{Mode: "clear"}, col, func(w *fakeWatcher) {
		w.present("reader-0", card)
	})

	// Clear mode never consults the consumer.
	assert.Empty(t, col.seen())
	assert.Equal(t, [tag.PageSize]byte{}, card.page(tag.IdentityPage))
	assert.Equal(t, [tag.PageSize]byte{}, card.page(clearEnd))
	assert.Equal(t, 1, card.toneCount())
}

func TestNewRejectsUnknownConfig(t *testing.T) {
	w := newFakeWatcher()
	b := NewBridge(time.Second)

	_, err := New(Config{Mode: "vend"}, w, b)
	assert.Error(t, err)

	_, err = New(Config{TagType: "mifare1k"}, w, b)
	assert.Error(t, err)
}
