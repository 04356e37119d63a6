// Package monitor owns the presence-event loop: it consumes device watcher
// events, applies per-tag debounce, runs the per-tag pipeline against the
// transport, and hands the result across the bridge to the business
// consumer. All reader I/O happens on the watcher side; all persistence
// happens on the consumer side.
package monitor

import (
	"time"

	"messgate/tag"
)

// Tap is what the hardware side hands to the consumer: a decoded identity
// plus where and when it was seen. It is built once per successfully read
// tag interaction and discarded after the decision comes back.
type Tap struct {
	Identity string
	UID      string
	Reader   string
	Time     time.Time

	// Unreadable marks a tag whose identity pages held no printable data.
	// Identity is empty; the consumer reports it rather than deciding.
	Unreadable bool

	// Enroll marks the attendance-card path: the tag was locked before
	// delivery and the consumer records the identity/UID pair instead of
	// gating a mess entry.
	Enroll bool
	Lock   tag.Report
}

// Decision classifies the consumer's answer.
type Decision int

const (
	Allowed Decision = iota
	Denied
	NoSession
	Failed
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "success"
	case Denied:
		return "denied"
	case NoSession:
		return "no-session"
	default:
		return "error"
	}
}

// Result is the consumer's decision for one tap. Only Allowed earns the
// reader's success tone.
type Result struct {
	Decision Decision
	Session  string
	Name     string
	Message  string
}

// Success reports whether hardware success feedback should be emitted.
func (r Result) Success() bool { return r.Decision == Allowed }
