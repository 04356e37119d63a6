package tag

import (
	"fmt"
	"time"
)

// Lock stages, in the order they are applied. Each is irreversible on the
// silicon: there is no unlock.
type Stage int

const (
	StageStatic Stage = iota
	StageDynamic
	StageConfig
)

func (s Stage) String() string {
	switch s {
	case StageStatic:
		return "static"
	case StageDynamic:
		return "dynamic"
	case StageConfig:
		return "config"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// VerifyError reports a lock stage whose write did not read back locked
// within the allotted attempts. Earlier stages remain in effect; locking is
// never rolled back.
type VerifyError struct {
	Stage Stage
	Got   [PageSize]byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("tag: %s lock verification failed, read back %X", e.Stage, e.Got)
}

// StageResult records what the sequencer did for one stage.
type StageResult int

const (
	StageNotRun StageResult = iota
	StageAlreadyLocked
	StageLocked
	StageFailed
)

func (r StageResult) String() string {
	switch r {
	case StageAlreadyLocked:
		return "already locked"
	case StageLocked:
		return "locked"
	case StageFailed:
		return "failed"
	default:
		return "not run"
	}
}

// Report summarizes one sequencer run. ConfigErr carries the config stage
// failure, if any; the config stage is advisory and does not fail the run,
// since the static and dynamic stages are the data-integrity guarantee.
type Report struct {
	Static    StageResult
	Dynamic   StageResult
	Config    StageResult
	ConfigErr error
}

// Sequencer drives the three-stage lock protocol with write-then-verify
// semantics. Zero value is not usable; call NewSequencer.
type Sequencer struct {
	Layout   Layout
	Attempts int           // write attempts for the static/dynamic stages
	Settle   time.Duration // delay between a write and its verify read
}

// NewSequencer returns a sequencer with the reference attempt count and
// settle delay.
func NewSequencer(layout Layout) *Sequencer {
	return &Sequencer{Layout: layout, Attempts: 2, Settle: 100 * time.Millisecond}
}

// Run applies the lock sequence to an open device. A stage that already
// reads as locked is skipped without issuing a write; re-writing committed
// lock bytes can be rejected by the tag. Static or dynamic verification
// failure aborts the sequence with a *VerifyError; transport loss or a
// failing command status aborts with that error.
func (s *Sequencer) Run(d *Device) (Report, error) {
	var rep Report

	res, err := s.lockStage(d, StageStatic)
	rep.Static = res
	if err != nil {
		return rep, err
	}

	res, err = s.lockStage(d, StageDynamic)
	rep.Dynamic = res
	if err != nil {
		return rep, err
	}

	rep.Config, rep.ConfigErr = s.lockConfig(d)
	return rep, nil
}

// stagePlan describes one hard lock stage: which page, what the locked
// pattern looks like, and how to build the write image from the current
// page contents.
func (s *Sequencer) stagePlan(stage Stage) (page byte, locked func([PageSize]byte) bool, target func([PageSize]byte) [PageSize]byte) {
	switch stage {
	case StageStatic:
		// Bytes 0-1 are serial/internal and must be preserved; only the
		// lock pair goes to FF FF.
		return s.Layout.StaticLockPage,
			func(p [PageSize]byte) bool { return p[2] == 0xFF && p[3] == 0xFF },
			func(p [PageSize]byte) [PageSize]byte { return [PageSize]byte{p[0], p[1], 0xFF, 0xFF} }
	default: // StageDynamic
		return s.Layout.DynamicLockPage,
			func(p [PageSize]byte) bool { return p[0] == 0xFF && p[1] == 0xFF && p[2] == 0xFF },
			func(p [PageSize]byte) [PageSize]byte {
				return [PageSize]byte{0xFF, 0xFF, 0xFF, s.Layout.DynamicLockTail}
			}
	}
}

func (s *Sequencer) lockStage(d *Device, stage Stage) (StageResult, error) {
	page, locked, target := s.stagePlan(stage)

	cur, err := d.ReadPage(page)
	if err != nil {
		return StageFailed, fmt.Errorf("%s lock: %w", stage, err)
	}
	if locked(cur) {
		return StageAlreadyLocked, nil
	}

	for attempt := 0; attempt < s.Attempts; attempt++ {
		if err := d.WritePage(page, target(cur)); err != nil {
			return StageFailed, fmt.Errorf("%s lock: %w", stage, err)
		}
		time.Sleep(s.Settle)

		cur, err = d.ReadPage(page)
		if err != nil {
			return StageFailed, fmt.Errorf("%s lock verify: %w", stage, err)
		}
		if locked(cur) {
			return StageLocked, nil
		}
	}
	return StageFailed, &VerifyError{Stage: stage, Got: cur}
}

const cfgLockBit = 0x40 // CFGLCK, bit 6 of the ACCESS byte

func (s *Sequencer) lockConfig(d *Device) (StageResult, error) {
	page := s.Layout.ConfigPage

	cur, err := d.ReadPage(page)
	if err != nil {
		return StageFailed, fmt.Errorf("config lock: %w", err)
	}
	if cur[0]&cfgLockBit != 0 {
		return StageAlreadyLocked, nil
	}

	// Preserve every other configuration bit.
	next := cur
	next[0] |= cfgLockBit
	if err := d.WritePage(page, next); err != nil {
		return StageFailed, fmt.Errorf("config lock: %w", err)
	}
	time.Sleep(s.Settle)

	cur, err = d.ReadPage(page)
	if err != nil {
		return StageFailed, fmt.Errorf("config lock verify: %w", err)
	}
	if cur[0]&cfgLockBit == 0 {
		return StageFailed, &VerifyError{Stage: StageConfig, Got: cur}
	}
	return StageLocked, nil
}
