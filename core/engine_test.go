package core

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/signalsfoundry/tsch-simulator/model"
)

// scriptedMAC transmits to every active neighbour on the slots listed in
// txAt and records each call it receives.
type scriptedMAC struct {
	node  *Node
	txAt  map[uint64]bool
	calls *[]string
	rx    int
}

func (m *scriptedMAC) Initialize(n *Node) error { m.node = n; return nil }

func (m *scriptedMAC) Schedule(asn uint64, status []SlotStatus) Decision {
	*m.calls = append(*m.calls, fmt.Sprintf("schedule %d", m.node.ID))
	co := 1
	status[m.node.Index].ChannelOffset = &co
	if m.txAt[asn] {
		return DecisionTx
	}
	return DecisionRx
}

func (m *scriptedMAC) CommitTx(asn uint64, rx *Receivers, status []SlotStatus, log *[]Transmission) {
	*m.calls = append(*m.calls, fmt.Sprintf("tx %d", m.node.ID))
	for _, l := range m.node.Links() {
		rx.Add(l.To)
		rx.Add(l.To)
	}
	*log = append(*log, Transmission{ASN: asn, From: m.node.ID, Broadcast: true, Channel: *status[m.node.Index].Channel})
}

func (m *scriptedMAC) CommitRx(subslot int, _ []SlotStatus) {
	*m.calls = append(*m.calls, fmt.Sprintf("rx %d/%d", m.node.ID, subslot))
	m.rx++
}

func (m *scriptedMAC) CommitAck([]SlotStatus) {
	*m.calls = append(*m.calls, fmt.Sprintf("ack %d", m.node.ID))
}

func (m *scriptedMAC) Stats() model.NodeStats { return model.NodeStats{MACRx: m.rx} }

type countingObserver struct {
	slots, active, transmissions int
}

func (o *countingObserver) ObserveSlot(_ uint64, active bool, tx int, _ time.Duration) {
	o.slots++
	if active {
		o.active++
	}
	o.transmissions += tx
}

func buildLine(t *testing.T, subSlots int, txAt map[model.NodeID]map[uint64]bool) (*Network, *[]string) {
	t.Helper()
	net := NewNetwork(subSlots, nil)
	calls := &[]string{}
	on := true
	nodes := mustAddNodes(t, net, 1, 2, 3)
	for _, n := range nodes {
		n.Config.HoppingSequence = []int{11, 12, 13}
		n.MAC = &scriptedMAC{txAt: txAt[n.ID], calls: calls}
		if err := n.Initialize(); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	for i := 0; i+1 < len(nodes); i++ {
		net.AddLink(NewLink(nodes[i], nodes[i+1], model.Connection{}, switchable(&on)))
		net.AddLink(NewLink(nodes[i+1], nodes[i], model.Connection{}, switchable(&on)))
	}
	return net, calls
}

func TestStepRunsPhasesInOrder(t *testing.T) {
	net, calls := buildLine(t, 2, map[model.NodeID]map[uint64]bool{
		1: {5: true},
		3: {5: true},
	})
	obs := &countingObserver{}
	net.Observer = obs

	res := net.Step(5)

	want := []string{
		"schedule 1", "schedule 2", "schedule 3",
		"tx 1", "tx 3",
		"rx 2/0", "rx 2/1",
		"ack 1", "ack 3",
	}
	if !reflect.DeepEqual(*calls, want) {
		t.Fatalf("calls = %v, want %v", *calls, want)
	}
	if !res.WasActiveSlot {
		t.Fatalf("WasActiveSlot = false, want true")
	}
	if len(res.Transmissions) != 2 {
		t.Fatalf("transmissions = %d, want 2", len(res.Transmissions))
	}
	// (5 + 1) mod 3 = 0
	if ch := res.Status[0].Channel; ch == nil || *ch != 11 {
		t.Fatalf("channel = %v, want 11", ch)
	}
	if res.Status[0].Decision != DecisionTx || res.Status[1].Decision != DecisionRx {
		t.Fatalf("decisions = %v/%v, want tx/rx", res.Status[0].Decision, res.Status[1].Decision)
	}
	if obs.slots != 1 || obs.active != 1 || obs.transmissions != 2 {
		t.Fatalf("observer = %+v, want 1 slot, 1 active, 2 transmissions", obs)
	}
}

func TestStepWithoutTransmittersIsIdle(t *testing.T) {
	net, calls := buildLine(t, 1, nil)
	res := net.Step(1)

	if res.WasActiveSlot {
		t.Fatalf("WasActiveSlot = true, want false")
	}
	if len(res.Transmissions) != 0 {
		t.Fatalf("transmissions = %v, want none", res.Transmissions)
	}
	for _, c := range *calls {
		if c[:2] == "rx" || c[:2] == "tx" || c[:3] == "ack" {
			t.Fatalf("unexpected commit call %q in an idle slot", c)
		}
	}
}

func TestStepIsDeterministic(t *testing.T) {
	txAt := map[model.NodeID]map[uint64]bool{2: {1: true, 3: true}, 3: {2: true}}
	run := func() ([]StepResult, []string) {
		net, calls := buildLine(t, 1, txAt)
		var out []StepResult
		for asn := uint64(1); asn <= 4; asn++ {
			out = append(out, net.Step(asn))
		}
		return out, *calls
	}
	a, callsA := run()
	b, callsB := run()
	if !reflect.DeepEqual(a, b) || !reflect.DeepEqual(callsA, callsB) {
		t.Fatalf("two identical runs diverged")
	}
}

func TestStepRunsMobilityFirst(t *testing.T) {
	net, _ := buildLine(t, 1, nil)
	net.Mobility = &WaypointMobility{Waypoints: map[uint64][]PositionUpdate{
		2: {{ID: 3, X: 50, Y: 0}},
	}}

	net.Step(1)
	if got := net.FindNode(3).Pos.X; got != 0 {
		t.Fatalf("node moved early: x = %v", got)
	}
	net.Step(2)
	if got := net.FindNode(3).Pos.X; got != 50 {
		t.Fatalf("node x = %v, want 50", got)
	}
}

func TestNetworkStatsIncludesLinkCounts(t *testing.T) {
	net, _ := buildLine(t, 1, map[model.NodeID]map[uint64]bool{1: {1: true}})
	net.Step(1)

	entries := net.Stats()
	if len(entries) != 3 {
		t.Fatalf("Stats() = %d entries, want 3", len(entries))
	}
	if entries[1].ID != 2 || entries[1].Stats.MACRx != 1 || entries[1].Stats.LinksCount != 2 {
		t.Fatalf("node 2 stats = %+v", entries[1])
	}
}

func TestReceiversDeduplicate(t *testing.T) {
	a, b := &Node{ID: 1, Index: 0}, &Node{ID: 2, Index: 1}
	r := NewReceivers(2)
	if !r.Add(b) || !r.Add(a) || r.Add(b) {
		t.Fatalf("Add did not report first insertions correctly")
	}
	if r.Len() != 2 || r.Nodes()[0] != b || !r.Contains(a) {
		t.Fatalf("Receivers = %v, want [b a]", r.Nodes())
	}
}

func TestNewMobilityModel(t *testing.T) {
	if m, err := NewMobilityModel("Static", nil); m != nil || err != nil {
		t.Fatalf("Static = (%v, %v), want (nil, nil)", m, err)
	}
	if _, err := NewMobilityModel("Teleport", nil); err == nil {
		t.Fatalf("unknown model accepted")
	}
	if m, err := NewMobilityModel("Waypoint", nil); err != nil || m == nil {
		t.Fatalf("Waypoint = (%v, %v)", m, err)
	}
}
