package refmac

import (
	"time"

	"github.com/signalsfoundry/tsch-simulator/core"
	"github.com/signalsfoundry/tsch-simulator/internal/rng"
	"github.com/signalsfoundry/tsch-simulator/model"
)

// Backoff exponent bounds for shared cells.
const (
	MinBackoffExponent = 1
	MaxBackoffExponent = 5
)

// Charge drawn per slot, in microcoulombs.
const (
	ChargeTxSlotUC   = 96.0
	ChargeRxSlotUC   = 80.0
	ChargeIdleSlotUC = 44.0
)

// Source generates application packets towards one destination.
type Source struct {
	Dst       model.NodeID
	PeriodSec float64
	Size      int
}

// Params configures a MAC.
type Params struct {
	QueueSize    int
	MaxRetries   int
	SubSlots     int
	SlotDuration time.Duration
	Sources      []Source
}

// Env holds the run-wide capabilities shared by every MAC.
type Env struct {
	Scheduler core.Scheduler
	Router    core.Router
	RNG       *rng.Source
}

type packet struct {
	src     model.NodeID
	dst     model.NodeID
	seq     uint64
	created uint64
	size    int
	retries int
}

type packetKey struct {
	src model.NodeID
	seq uint64
}

// txFrame is the transmitter's payload for one slot.
type txFrame struct {
	pkt     *packet
	to      model.NodeID
	subslot int
	shared  bool
	acked   bool
	ackLost bool
}

// rxSlot is a listener's payload for one slot.
type rxSlot struct {
	incoming []incoming
	done     bool
}

type incoming struct {
	from  *core.Node
	frame *txFrame
}

type sourceState struct {
	Source
	periodSlots uint64
	next        uint64
}

// MAC is a slotted CSMA-style medium access layer over scheduler cells.
type MAC struct {
	params Params
	env    Env
	node   *core.Node

	sources []*sourceState
	queue   []*packet
	seq     uint64
	seen    map[packetKey]struct{}

	backoffExponent int
	backoffWindow   int

	asn   uint64
	stats model.NodeStats
}

// New returns a MAC for one node.
func New(p Params, env Env) *MAC {
	if p.QueueSize < 1 {
		p.QueueSize = 1
	}
	if p.SubSlots < 1 {
		p.SubSlots = 1
	}
	return &MAC{
		params:          p,
		env:             env,
		seen:            make(map[packetKey]struct{}),
		backoffExponent: MinBackoffExponent,
	}
}

// Initialize binds the MAC to its node and staggers the packet sources.
func (m *MAC) Initialize(n *core.Node) error {
	m.node = n
	var joined float64
	m.stats.TSCHJoinTimeSec = &joined
	slot := m.params.SlotDuration.Seconds()
	for _, src := range m.params.Sources {
		if src.PeriodSec <= 0 || slot <= 0 {
			continue
		}
		period := uint64(src.PeriodSec / slot)
		if period == 0 {
			period = 1
		}
		st := &sourceState{Source: src, periodSlots: period}
		st.next = 1 + uint64(m.env.RNG.IntN(int(period)))
		m.sources = append(m.sources, st)
	}
	return nil
}

func (m *MAC) slotUS() float64 {
	return float64(m.params.SlotDuration.Microseconds())
}

func (m *MAC) seconds(asn uint64) float64 {
	return float64(asn) * m.params.SlotDuration.Seconds()
}

func (m *MAC) generate(asn uint64) {
	for _, src := range m.sources {
		for src.next <= asn {
			src.next += src.periodSlots
			m.seq++
			m.stats.AppNumTx++
			p := &packet{src: m.node.ID, dst: src.Dst, seq: m.seq, created: asn, size: src.Size}
			if _, ok := m.env.Router.NextHop(m.node, p.dst); !ok {
				m.drop(&m.stats.AppNumRoutingDrops)
				continue
			}
			m.enqueue(p)
		}
	}
}

func (m *MAC) drop(reason *int) {
	*reason++
	m.stats.AppNumLost++
}

func (m *MAC) enqueue(p *packet) {
	if len(m.queue) >= m.params.QueueSize {
		m.drop(&m.stats.AppNumQueueDrops)
		return
	}
	m.queue = append(m.queue, p)
}

func (m *MAC) dequeue() {
	m.queue = m.queue[1:]
}

// Schedule picks transmit, listen or sleep for the slot.
func (m *MAC) Schedule(asn uint64, status []core.SlotStatus) core.Decision {
	m.asn = asn
	m.generate(asn)

	cell, ok := m.env.Scheduler.Cell(m.node, asn)
	if !ok {
		return core.DecisionIdle
	}
	st := &status[m.node.Index]
	co := cell.ChannelOffset
	st.ChannelOffset = &co

	if cell.Tx && len(m.queue) > 0 {
		if cell.Shared && m.backoffWindow > 0 {
			m.backoffWindow--
		} else if frame := m.prepare(cell); frame != nil {
			st.Payload = frame
			m.stats.ChargeUC += ChargeTxSlotUC
			return core.DecisionTx
		}
	}
	if !cell.Rx {
		return core.DecisionIdle
	}
	st.Payload = &rxSlot{}
	m.stats.SlotsRxIdle++
	m.stats.SlotCycleIdleUS += m.slotUS()
	m.stats.ChargeUC += ChargeIdleSlotUC
	return core.DecisionRx
}

// prepare builds a frame for the head of the queue, dropping packets that
// have no route.
func (m *MAC) prepare(cell core.Cell) *txFrame {
	for len(m.queue) > 0 {
		p := m.queue[0]
		hop, ok := m.env.Router.NextHop(m.node, p.dst)
		if !ok {
			m.dequeue()
			m.drop(&m.stats.AppNumRoutingDrops)
			continue
		}
		subslot := 0
		if m.params.SubSlots > 1 {
			subslot = m.env.RNG.IntN(m.params.SubSlots)
		}
		return &txFrame{pkt: p, to: hop, subslot: subslot, shared: cell.Shared}
	}
	return nil
}

func (m *MAC) isParent(id model.NodeID) bool {
	p, ok := m.env.Router.Parent(m.node.ID)
	return ok && p == id
}

// CommitTx offers the frame to every listening neighbour on the same channel.
func (m *MAC) CommitTx(asn uint64, rx *core.Receivers, status []core.SlotStatus, log *[]core.Transmission) {
	st := status[m.node.Index]
	frame, ok := st.Payload.(*txFrame)
	if !ok {
		return
	}
	m.stats.MACTx++
	m.stats.MACTxUnicast++
	if m.isParent(frame.to) {
		m.stats.MACParentTxUnicast++
	}

	channel := 0
	if st.Channel != nil {
		channel = *st.Channel
	}
	for _, l := range m.node.Links() {
		nb := l.To
		nbStatus := status[nb.Index]
		if nbStatus.Decision != core.DecisionRx || nbStatus.Channel == nil || *nbStatus.Channel != channel {
			continue
		}
		slot, ok := nbStatus.Payload.(*rxSlot)
		if !ok {
			continue
		}
		slot.incoming = append(slot.incoming, incoming{from: m.node, frame: frame})
		rx.Add(nb)
	}

	*log = append(*log, core.Transmission{
		ASN:     asn,
		From:    m.node.ID,
		To:      frame.to,
		Channel: channel,
		Kind:    "data",
	})
}

// CommitRx resolves the frames that started in subslot.
func (m *MAC) CommitRx(subslot int, status []core.SlotStatus) {
	slot, ok := status[m.node.Index].Payload.(*rxSlot)
	if !ok || slot.done {
		return
	}
	var heard []incoming
	for _, in := range slot.incoming {
		if in.frame.subslot == subslot {
			heard = append(heard, in)
		}
	}
	switch {
	case len(heard) == 0:
		return
	case len(heard) > 1:
		m.stats.MACRxCollision++
		slot.done = true
		return
	}
	slot.done = true

	in := heard[0]
	link := in.from.Network().FindLink(in.from.ID, m.node.ID)
	if link == nil || m.env.RNG.Float64() >= link.SuccessRate() {
		m.stats.MACRxError++
		return
	}
	m.stats.MACRx++
	if m.isParent(in.from.ID) {
		m.stats.MACParentRx++
	}
	m.stats.SlotsRxIdle--
	m.stats.SlotCycleIdleUS -= m.slotUS()
	m.stats.SlotCycleRxUS += m.slotUS()
	m.stats.ChargeUC += ChargeRxSlotUC - ChargeIdleSlotUC

	if in.frame.to != m.node.ID {
		m.stats.SlotsRxPacket++
		return
	}
	m.stats.SlotsRxPacketTxAck++
	m.acknowledge(in)
	m.accept(in.frame.pkt)
}

func (m *MAC) acknowledge(in incoming) {
	ackLink := m.node.Network().FindLink(m.node.ID, in.from.ID)
	if ackLink == nil {
		ackLink = m.node.Network().FindLink(in.from.ID, m.node.ID)
	}
	if ackLink != nil && m.env.RNG.Float64() < ackLink.SuccessRate() {
		in.frame.acked = true
		return
	}
	in.frame.ackLost = true
}

// accept delivers or forwards a received packet, ignoring duplicates
// caused by lost acknowledgments.
func (m *MAC) accept(p *packet) {
	key := packetKey{src: p.src, seq: p.seq}
	if _, dup := m.seen[key]; dup {
		return
	}
	m.seen[key] = struct{}{}

	if p.dst == m.node.ID {
		m.stats.AppNumEndpointRx++
		m.stats.AppLatencies = append(m.stats.AppLatencies, m.seconds(m.asn-p.created))
		return
	}
	fwd := *p
	fwd.retries = 0
	m.enqueue(&fwd)
}

// CommitAck settles the frame: dequeue on acknowledgment, otherwise retry
// with backoff until the retry limit drops the packet.
func (m *MAC) CommitAck(status []core.SlotStatus) {
	frame, ok := status[m.node.Index].Payload.(*txFrame)
	if !ok {
		return
	}
	m.stats.SlotCycleTxUS += m.slotUS()
	if frame.acked {
		m.stats.MACAcked++
		if m.isParent(frame.to) {
			m.stats.MACParentAcked++
		}
		m.stats.SlotsTxPacketRxAck++
		m.dequeue()
		m.backoffExponent = MinBackoffExponent
		m.backoffWindow = 0
		return
	}

	m.stats.SlotsTxPacket++
	if frame.ackLost {
		m.stats.MACAckError++
	}
	frame.pkt.retries++
	if frame.pkt.retries > m.params.MaxRetries {
		m.dequeue()
		m.drop(&m.stats.AppNumTxLimitDrops)
		m.backoffExponent = MinBackoffExponent
		m.backoffWindow = 0
		return
	}
	if frame.shared {
		if m.backoffExponent < MaxBackoffExponent {
			m.backoffExponent++
		}
		m.backoffWindow = m.env.RNG.IntN(1 << m.backoffExponent)
	}
}

// Stats returns the node's counters, including routing state.
func (m *MAC) Stats() model.NodeStats {
	s := m.stats
	s.AppLatencies = append([]float64(nil), m.stats.AppLatencies...)
	s.StayInQueue = len(m.queue)
	s.ChargeJoinedUC = s.ChargeUC
	rxSlots := s.SlotsRxIdle + s.SlotsRxScanning + s.SlotsRxPacket + s.SlotsRxPacketTxAck
	s.RxSlotsUS = float64(rxSlots) * m.slotUS()
	if m.node != nil {
		rs := m.env.Router.Stats(m.node.ID)
		s.RoutingNumTx = rs.NumTx
		s.RoutingNumRx = rs.NumRx
		s.RoutingJoinTimeSec = rs.JoinTimeSec
		s.RoutingNumParentChanges = rs.ParentChanges
	}
	return s
}
