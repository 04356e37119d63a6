// Package pcsc feeds monitor with presence events from the platform PC/SC
// stack and provides the APDU transport for connected tags. It is the only
// package that touches the smart card subsystem.
package pcsc

import (
	"fmt"
	"log"
	"time"

	"github.com/ebfe/scard"

	"messgate/monitor"
	"messgate/tag"
)

// pnpReader is the PC/SC magic reader name that signals reader arrival and
// removal.
const pnpReader = `\\?PnP?\Notification`

// pollTimeout bounds each GetStatusChange wait so Close can take effect
// even on stacks where Cancel is unreliable.
const pollTimeout = 2 * time.Second

// transport adapts one scard connection to tag.Transport.
type transport struct {
	card *scard.Card
}

// Transmit sends a frame and splits the trailer into the status word. Any
// scard error means the session is gone.
func (t *transport) Transmit(cmd []byte) ([]byte, tag.StatusWord, error) {
	resp, err := t.card.Transmit(cmd)
	if err != nil {
		return nil, 0, err
	}
	if len(resp) < 2 {
		return nil, 0, fmt.Errorf("pcsc: short response (%d bytes)", len(resp))
	}
	sw := tag.StatusWord(uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1]))
	return resp[:len(resp)-2], sw, nil
}

func (t *transport) Close() error {
	return t.card.Disconnect(scard.LeaveCard)
}

// Watcher runs GetStatusChange in its own goroutine and translates state
// transitions into monitor events.
type Watcher struct {
	ctx    *scard.Context
	events chan monitor.Event
	stop   chan struct{}
	done   chan struct{}
}

// NewWatcher establishes a PC/SC context, disables the auto-beep on every
// attached reader once, and starts watching. No readers attached is not an
// error; they can arrive later.
func NewWatcher() (*Watcher, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}

	w := &Watcher{
		ctx:    ctx,
		events: make(chan monitor.Event, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		log.Printf("pcsc: list readers: %v", err)
	}
	for _, r := range readers {
		w.configureReader(r)
	}
	log.Printf("pcsc: watching %d reader(s)", len(readers))

	go w.loop(readers)
	return w, nil
}

// Events implements monitor.Watcher.
func (w *Watcher) Events() <-chan monitor.Event { return w.events }

// Close stops the watcher and releases the PC/SC context once the watch
// loop has drained.
func (w *Watcher) Close() error {
	close(w.stop)
	w.ctx.Cancel()
	<-w.done
	return w.ctx.Release()
}

// configureReader disables the reader's automatic tone once at startup.
// Best effort: the command needs a seated card on some firmwares, so a
// failure here just means the first tap may beep.
func (w *Watcher) configureReader(reader string) {
	card, err := w.ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return
	}
	t := &transport{card: card}
	tag.NewDevice(t).DisableAutoBeep()
	t.Close()
}

func (w *Watcher) connectFunc(reader string) func() (tag.Transport, error) {
	return func() (tag.Transport, error) {
		card, err := w.ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
		if err != nil {
			return nil, fmt.Errorf("pcsc: connect %s: %w", reader, err)
		}
		return &transport{card: card}, nil
	}
}

func newStates(readers []string) []scard.ReaderState {
	states := make([]scard.ReaderState, 0, len(readers)+1)
	for _, r := range readers {
		states = append(states, scard.ReaderState{Reader: r, CurrentState: scard.StateUnaware})
	}
	states = append(states, scard.ReaderState{Reader: pnpReader, CurrentState: scard.StateUnaware})
	return states
}

func (w *Watcher) loop(readers []string) {
	defer close(w.done)
	defer close(w.events)
	states := newStates(readers)

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		err := w.ctx.GetStatusChange(states, pollTimeout)
		if err == scard.ErrTimeout {
			continue
		}
		if err != nil {
			select {
			case <-w.stop:
				return
			default:
			}
			log.Printf("pcsc: status change: %v", err)
			time.Sleep(time.Second)
			continue
		}

		relist := false
		for i := range states {
			st := &states[i]
			if st.EventState&scard.StateChanged == 0 {
				continue
			}
			if st.Reader == pnpReader {
				relist = true
			} else {
				w.transition(st)
			}
			st.CurrentState = st.EventState
		}

		if relist {
			fresh, err := w.ctx.ListReaders()
			if err != nil {
				log.Printf("pcsc: list readers: %v", err)
				continue
			}
			for _, r := range fresh {
				if !contains(readers, r) {
					log.Printf("pcsc: reader attached: %s", r)
					w.configureReader(r)
				}
			}
			readers = fresh
			states = newStates(readers)
		}
	}
}

// transition emits a monitor event for a present/empty edge on one reader.
func (w *Watcher) transition(st *scard.ReaderState) {
	wasPresent := st.CurrentState&scard.StatePresent != 0
	isPresent := st.EventState&scard.StatePresent != 0

	var ev monitor.Event
	switch {
	case isPresent && !wasPresent:
		ev = monitor.Event{Kind: monitor.CardPresent, Reader: st.Reader, Connect: w.connectFunc(st.Reader)}
	case !isPresent && wasPresent:
		ev = monitor.Event{Kind: monitor.CardGone, Reader: st.Reader}
	default:
		return
	}

	select {
	case w.events <- ev:
	case <-w.stop:
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
