package core

import (
	"time"

	"github.com/signalsfoundry/tsch-simulator/stats"
)

// SlotObserver is notified once per executed slot.
type SlotObserver interface {
	ObserveSlot(asn uint64, active bool, transmissions int, elapsed time.Duration)
}

// StepResult is the outcome of one slot.
type StepResult struct {
	ASN           uint64         `json:"asn"`
	WasActiveSlot bool           `json:"was_active_slot"`
	Status        []SlotStatus   `json:"cells"`
	Transmissions []Transmission `json:"transmissions"`
}

// Step executes slot asn. Every phase completes for all nodes before the
// next one begins:
//
//  1. mobility
//  2. schedule, in creation order; Channel is resolved from ChannelOffset
//  3. commit-transmit, transmitters in scheduling order
//  4. commit-receive, SubSlots samples per receiver
//  5. commit-ack, transmitters in scheduling order
//
// A slot is active when at least one node transmitted.
func (net *Network) Step(asn uint64) StepResult {
	start := time.Now()

	if net.Mobility != nil {
		net.Mobility.UpdatePositions(net, asn)
	}

	status := make([]SlotStatus, len(net.order))
	var transmitters []*Node
	for _, n := range net.order {
		if n.MAC == nil {
			continue
		}
		d := n.MAC.Schedule(asn, status)
		status[n.Index].Decision = d
		if d == DecisionTx {
			transmitters = append(transmitters, n)
		}
		if co := status[n.Index].ChannelOffset; co != nil {
			ch := n.Channel(asn, *co)
			status[n.Index].Channel = &ch
		}
	}

	rx := NewReceivers(len(net.order))
	var transmissions []Transmission
	for _, n := range transmitters {
		n.MAC.CommitTx(asn, rx, status, &transmissions)
	}

	for _, n := range rx.Nodes() {
		if n.MAC == nil {
			continue
		}
		for sub := 0; sub < net.SubSlots; sub++ {
			n.MAC.CommitRx(sub, status)
		}
	}

	for _, n := range transmitters {
		n.MAC.CommitAck(status)
	}

	res := StepResult{
		ASN:           asn,
		WasActiveSlot: len(transmitters) > 0,
		Status:        status,
		Transmissions: transmissions,
	}
	if net.Observer != nil {
		net.Observer.ObserveSlot(asn, res.WasActiveSlot, len(transmissions), time.Since(start))
	}
	return res
}

// Stats collects every node's counters in creation order.
func (net *Network) Stats() []stats.NodeEntry {
	out := make([]stats.NodeEntry, 0, len(net.order))
	for _, n := range net.order {
		entry := stats.NodeEntry{ID: n.ID}
		if n.MAC != nil {
			entry.Stats = n.MAC.Stats()
		}
		entry.Stats.LinksCount = n.NumLinks()
		out = append(out, entry)
	}
	return out
}
