package core

import "time"

// secondsEpsilon absorbs float rounding when comparing slot times.
const secondsEpsilon = 1e-6

// Timeline counts slots and fires timers in simulated time.
type Timeline struct {
	ASN          uint64
	SlotDuration time.Duration

	timers []*Timer
}

// Timer is a callback scheduled on the Timeline.
type Timer struct {
	At       float64
	Interval float64
	Periodic bool
	Fn       func(seconds float64)

	cancelled bool
}

// Cancel stops the timer from firing again.
func (t *Timer) Cancel() { t.cancelled = true }

// NewTimeline returns a timeline at ASN 0.
func NewTimeline(slot time.Duration) *Timeline {
	return &Timeline{SlotDuration: slot}
}

// Seconds is the simulated time at the current ASN.
func (tl *Timeline) Seconds() float64 {
	return float64(tl.ASN) * tl.SlotDuration.Seconds()
}

// NextSeconds is the simulated time at the next ASN.
func (tl *Timeline) NextSeconds() float64 {
	return float64(tl.ASN+1) * tl.SlotDuration.Seconds()
}

// AddTimer schedules fn intervalSec from now.
func (tl *Timeline) AddTimer(intervalSec float64, periodic bool, fn func(seconds float64)) *Timer {
	t := &Timer{At: tl.Seconds() + intervalSec, Interval: intervalSec, Periodic: periodic, Fn: fn}
	tl.timers = append(tl.timers, t)
	return t
}

// Step advances one slot and fires due timers in the order they were added.
// Timers added by a callback join the timeline after the ones already there.
func (tl *Timeline) Step() {
	tl.ASN++
	now := tl.Seconds()
	due := tl.timers
	tl.timers = nil
	kept := make([]*Timer, 0, len(due))
	for _, t := range due {
		if t.cancelled {
			continue
		}
		if t.At <= now+secondsEpsilon {
			t.Fn(now)
			if !t.Periodic || t.Interval <= 0 || t.cancelled {
				continue
			}
			for t.At <= now+secondsEpsilon {
				t.At += t.Interval
			}
		}
		kept = append(kept, t)
	}
	tl.timers = append(kept, tl.timers...)
}

// Reset rewinds to ASN 0 and drops all timers.
func (tl *Timeline) Reset() {
	tl.ASN = 0
	tl.timers = nil
}
