// Package session classifies taps into meal sessions and applies the
// once-per-session duplicate rule. It is pure decision logic: the "already
// consumed" predicate is supplied by the caller.
package session

import (
	"fmt"
	"time"
)

// ClockTime is a wall-clock time of day, configured as "HH:MM".
type ClockTime struct {
	Hour, Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	var ct ClockTime
	if _, err := fmt.Sscanf(s, "%d:%d", &ct.Hour, &ct.Minute); err != nil {
		return ct, fmt.Errorf("session: bad clock time %q", s)
	}
	if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 {
		return ct, fmt.Errorf("session: clock time %q out of range", s)
	}
	return ct, nil
}

// UnmarshalYAML lets windows be written as start: "07:30" in the config.
func (ct *ClockTime) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*ct = parsed
	return nil
}

func (ct ClockTime) String() string { return fmt.Sprintf("%02d:%02d", ct.Hour, ct.Minute) }

// minutes since midnight, for interval comparison.
func (ct ClockTime) minutes() int { return ct.Hour*60 + ct.Minute }

// Window is one named session interval. Both bounds are inclusive.
type Window struct {
	Name  string    `yaml:"name"`
	Start ClockTime `yaml:"start"`
	End   ClockTime `yaml:"end"`
}

func (w Window) contains(now time.Time) bool {
	m := now.Hour()*60 + now.Minute()
	return m >= w.Start.minutes() && m <= w.End.minutes()
}

// DefaultWindows are the mess timings with the 30-minute grace already
// folded into the end times.
func DefaultWindows() []Window {
	return []Window{
		{Name: "BREAKFAST", Start: ClockTime{7, 30}, End: ClockTime{10, 0}},
		{Name: "LUNCH", Start: ClockTime{12, 0}, End: ClockTime{15, 0}},
		{Name: "SNACKS", Start: ClockTime{17, 0}, End: ClockTime{18, 30}},
		{Name: "DINNER", Start: ClockTime{19, 30}, End: ClockTime{22, 0}},
	}
}

// Schedule is the configured set of windows plus the relaxed-mode fallback.
type Schedule struct {
	Windows []Window
	// Relaxed substitutes FallbackLabel when no window matches, so the
	// terminal can be exercised outside meal hours.
	Relaxed       bool
	FallbackLabel string
}

// NewSchedule builds a schedule; nil windows means DefaultWindows.
func NewSchedule(windows []Window, relaxed bool) Schedule {
	if windows == nil {
		windows = DefaultWindows()
	}
	return Schedule{Windows: windows, Relaxed: relaxed, FallbackLabel: "TEST"}
}

// Current returns the active session name, or ("", false) when no window
// matches and relaxed mode is off.
func (s Schedule) Current(now time.Time) (string, bool) {
	for _, w := range s.Windows {
		if w.contains(now) {
			return w.Name, true
		}
	}
	if s.Relaxed {
		return s.FallbackLabel, true
	}
	return "", false
}

// Verdict is the gate decision.
type Verdict int

const (
	Allow Verdict = iota
	Deny
	NoSession
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "no-session"
	}
}

// Decision carries the verdict plus the session it applies to and, for
// denials, the reason.
type Decision struct {
	Verdict Verdict
	Session string
	Reason  string
}

// ConsumedFunc reports whether the identity already consumed the named
// session today. Supplied by the persistence layer.
type ConsumedFunc func(identity, session string) (bool, error)

// Gate applies the session window and duplicate-entry rules.
type Gate struct {
	Schedule Schedule
	// GuestID is exempt from the duplicate check; shared guest cards may
	// enter any number of times while a session is active.
	GuestID string
}

// DefaultGuestID is the identity written on the shared guest cards.
const DefaultGuestID = "IIITKOTAUSER"

// NewGate builds a gate with the default guest identity.
func NewGate(sched Schedule) *Gate {
	return &Gate{Schedule: sched, GuestID: DefaultGuestID}
}

// Decide classifies a tap. hasConsumed is only consulted for non-guest
// identities inside an active session; an error from it counts as a denial
// so a flaky store can never hand out double meals.
func (g *Gate) Decide(identity string, now time.Time, hasConsumed ConsumedFunc) (Decision, error) {
	sess, ok := g.Schedule.Current(now)
	if !ok {
		return Decision{Verdict: NoSession, Reason: "no active session"}, nil
	}

	if identity == g.GuestID {
		return Decision{Verdict: Allow, Session: sess}, nil
	}

	eaten, err := hasConsumed(identity, sess)
	if err != nil {
		return Decision{Verdict: Deny, Session: sess, Reason: "lookup failed"}, err
	}
	if eaten {
		return Decision{Verdict: Deny, Session: sess, Reason: "already taken " + sess}, nil
	}
	return Decision{Verdict: Allow, Session: sess}, nil
}
