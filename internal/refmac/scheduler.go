// Package refmac provides the reference node capabilities used to drive the
// slot engine end to end: a minimal shared-cell scheduler, two routers and
// a slotted MAC with queueing, backoff, acknowledgments and retries.
package refmac

import (
	"github.com/signalsfoundry/tsch-simulator/core"
)

// MinimalScheduler is a single shared cell at timeslot 0 of every slotframe,
// channel offset 0, used for both transmission and reception.
type MinimalScheduler struct {
	SlotframeLength int
}

// NewMinimalScheduler returns a scheduler with the given slotframe length.
func NewMinimalScheduler(slotframeLength int) *MinimalScheduler {
	if slotframeLength < 1 {
		slotframeLength = 1
	}
	return &MinimalScheduler{SlotframeLength: slotframeLength}
}

func (s *MinimalScheduler) Name() string { return "6tischMin" }

func (s *MinimalScheduler) Initialize(*core.Network) error { return nil }

func (s *MinimalScheduler) Cell(_ *core.Node, asn uint64) (core.Cell, bool) {
	if asn%uint64(s.SlotframeLength) != 0 {
		return core.Cell{}, false
	}
	return core.Cell{ChannelOffset: 0, Tx: true, Rx: true, Shared: true}, true
}
