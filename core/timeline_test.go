package core

import (
	"testing"
	"time"
)

func TestTimelineSeconds(t *testing.T) {
	tl := NewTimeline(10 * time.Millisecond)
	tl.Step()
	tl.Step()
	if tl.ASN != 2 {
		t.Fatalf("ASN = %d, want 2", tl.ASN)
	}
	if got := tl.Seconds(); got < 0.0199 || got > 0.0201 {
		t.Fatalf("Seconds() = %v, want 0.02", got)
	}
	if got := tl.NextSeconds(); got < 0.0299 || got > 0.0301 {
		t.Fatalf("NextSeconds() = %v, want 0.03", got)
	}
}

func TestTimelineTimers(t *testing.T) {
	tl := NewTimeline(100 * time.Millisecond)
	var periodic, once []float64
	tl.AddTimer(0.3, true, func(s float64) { periodic = append(periodic, s) })
	single := tl.AddTimer(0.2, false, func(s float64) { once = append(once, s) })

	for i := 0; i < 10; i++ {
		tl.Step()
	}
	if len(periodic) != 3 {
		t.Fatalf("periodic fired %d times, want 3", len(periodic))
	}
	if len(once) != 1 {
		t.Fatalf("one-shot fired %d times, want 1", len(once))
	}
	single.Cancel()

	cancelled := tl.AddTimer(0.1, true, func(float64) { t.Fatalf("cancelled timer fired") })
	cancelled.Cancel()
	tl.Step()

	tl.Reset()
	if tl.ASN != 0 || len(tl.timers) != 0 {
		t.Fatalf("Reset left ASN=%d timers=%d", tl.ASN, len(tl.timers))
	}
}

func TestTimelineTimerAddedFromCallback(t *testing.T) {
	tl := NewTimeline(100 * time.Millisecond)
	var rearmed, chained int
	tl.AddTimer(0.1, false, func(float64) {
		tl.AddTimer(0.2, false, func(float64) { chained++ })
	})
	tl.AddTimer(0.1, true, func(float64) { rearmed++ })

	for i := 0; i < 5; i++ {
		tl.Step()
	}
	if chained != 1 {
		t.Fatalf("timer added from a callback fired %d times, want 1", chained)
	}
	if rearmed != 5 {
		t.Fatalf("periodic timer fired %d times, want 5", rearmed)
	}
	if len(tl.timers) != 1 {
		t.Fatalf("%d timers left, want only the periodic one", len(tl.timers))
	}
}
