package core

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/signalsfoundry/tsch-simulator/model"
)

// Decision is a node's choice for the current slot.
type Decision int

const (
	DecisionIdle Decision = iota
	DecisionRx
	DecisionTx
)

func (d Decision) String() string {
	switch d {
	case DecisionRx:
		return "rx"
	case DecisionTx:
		return "tx"
	default:
		return "idle"
	}
}

// SlotStatus is one node's record for a single slot. ChannelOffset is set by
// the MAC during scheduling; Channel is then resolved by the engine.
type SlotStatus struct {
	Decision      Decision `json:"decision"`
	ChannelOffset *int     `json:"co,omitempty"`
	Channel       *int     `json:"ch,omitempty"`
	// Payload is MAC bookkeeping carried between the phases of one slot.
	Payload any `json:"-"`
}

// Transmission is one frame put on the air during a slot.
type Transmission struct {
	ASN       uint64       `json:"asn"`
	From      model.NodeID `json:"from"`
	To        model.NodeID `json:"to,omitempty"`
	Broadcast bool         `json:"broadcast"`
	Channel   int          `json:"channel"`
	Kind      string       `json:"kind,omitempty"`
}

// MAC is the per-node medium access capability driven by the engine.
type MAC interface {
	Initialize(n *Node) error
	// Schedule decides the node's action for asn and may fill status[n.Index].
	Schedule(asn uint64, status []SlotStatus) Decision
	// CommitTx puts the node's frame on the air, adding every node that
	// should sample the channel to rx and logging the transmission.
	CommitTx(asn uint64, rx *Receivers, status []SlotStatus, log *[]Transmission)
	// CommitRx samples the channel during one sub-slot.
	CommitRx(subslot int, status []SlotStatus)
	// CommitAck resolves acknowledgment for the node's transmission.
	CommitAck(status []SlotStatus)
	// Stats returns the node's counters.
	Stats() model.NodeStats
}

// Receivers is the insertion-ordered, de-duplicated set of nodes that sample
// the channel in a slot.
type Receivers struct {
	seen  *bitset.BitSet
	order []*Node
}

// NewReceivers returns an empty set sized for n nodes.
func NewReceivers(n int) *Receivers {
	return &Receivers{seen: bitset.New(uint(n))}
}

// Add inserts n and reports whether it was new.
func (r *Receivers) Add(n *Node) bool {
	i := uint(n.Index)
	if r.seen.Test(i) {
		return false
	}
	r.seen.Set(i)
	r.order = append(r.order, n)
	return true
}

// Contains reports whether n was added.
func (r *Receivers) Contains(n *Node) bool { return r.seen.Test(uint(n.Index)) }

// Nodes returns the set in insertion order.
func (r *Receivers) Nodes() []*Node { return r.order }

// Len is the number of receivers.
func (r *Receivers) Len() int { return len(r.order) }
