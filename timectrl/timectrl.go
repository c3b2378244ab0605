// Package timectrl paces a simulation against wall-clock time and accepts
// start, stop, speed and reset commands while it runs.
package timectrl

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownSpeed = errors.New("unknown speed")
	ErrNoSimulation = errors.New("no simulation built")
)

// State is the controller's externally visible run state.
type State int

const (
	// Stopped waits for a start command.
	Stopped State = iota
	// Running executes slots under the current speed.
	Running
	// Interrupted has been asked to stop; the loop has not yet yielded.
	Interrupted
	// ResetRequested rebuilds the simulation at the next loop boundary.
	ResetRequested
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Interrupted:
		return "interrupted"
	case ResetRequested:
		return "reset_requested"
	default:
		return "stopped"
	}
}

// Speed selects how slots are paced.
type Speed int

const (
	// Unlimited runs as fast as possible, yielding about once per second.
	Unlimited Speed = iota
	// Percent10 runs at a tenth of real time.
	Percent10
	// Percent100 runs at real time.
	Percent100
	// Percent1000 runs at ten times real time.
	Percent1000
	// StepSingle executes one slot, then stops.
	StepSingle
	// StepNextActive executes slots until one has a transmission, then stops.
	StepNextActive
)

var speedNames = map[Speed]string{
	Unlimited:      "unlimited",
	Percent10:      "10%",
	Percent100:     "100%",
	Percent1000:    "1000%",
	StepSingle:     "step",
	StepNextActive: "next-active",
}

func (s Speed) String() string {
	if name, ok := speedNames[s]; ok {
		return name
	}
	return fmt.Sprintf("speed(%d)", int(s))
}

// ParseSpeed accepts the String form of a speed, case-insensitively, plus
// the bare percentages "10", "100" and "1000".
func ParseSpeed(raw string) (Speed, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "10", "percent10":
		return Percent10, nil
	case "100", "percent100":
		return Percent100, nil
	case "1000", "percent1000":
		return Percent1000, nil
	case "single", "stepsingle":
		return StepSingle, nil
	case "next", "stepnextactive":
		return StepNextActive, nil
	}
	for s, n := range speedNames {
		if n == name {
			return s, nil
		}
	}
	return Unlimited, fmt.Errorf("%w: %q", ErrUnknownSpeed, raw)
}

// paced reports whether the speed sleeps to follow real time.
func (s Speed) paced() bool {
	return s == Percent10 || s == Percent100 || s == Percent1000
}

// coefficient is the wall-clock seconds spent per simulated second.
func (s Speed) coefficient() float64 {
	switch s {
	case Percent10:
		return 10
	case Percent1000:
		return 0.1
	default:
		return 1
	}
}

const (
	// PollInterval is how often a stopped controller checks for commands
	// and configuration changes.
	PollInterval = 50 * time.Millisecond
	// IdleInterval is the pause after a loop pass that executed no slot.
	IdleInterval = 100 * time.Millisecond
	// YieldInterval bounds an Unlimited pass before commands are checked.
	YieldInterval = time.Second
	// MaxPacingSleep caps a single pacing sleep.
	MaxPacingSleep = 10 * time.Second
	// SleepSlice is the granularity at which sleeps observe interrupts.
	SleepSlice = 100 * time.Millisecond
	// minPacingDelay is the deficit below which no sleep happens.
	minPacingDelay = time.Millisecond
)

// PacingDelay is how long to sleep so that simElapsed simulated seconds
// take coefficient times as long in real time. Zero means keep going.
func PacingDelay(speed Speed, simElapsed float64, realElapsed time.Duration) time.Duration {
	if !speed.paced() {
		return 0
	}
	deficit := speed.coefficient()*simElapsed - realElapsed.Seconds()
	d := time.Duration(deficit * float64(time.Second))
	if d < minPacingDelay {
		return 0
	}
	return min(d, MaxPacingSleep)
}
