// Package stats aggregates per-node counters into the statistics document
// written at the end of a run.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/tsch-simulator/internal/logging"
	"github.com/signalsfoundry/tsch-simulator/model"
)

// GlobalKey is the per-run entry holding the aggregate record.
const GlobalKey = "global-stats"

const (
	MarkerBalanced    = "BALANCED"
	MarkerNotBalanced = "NOT BALANCED"
)

// NodeEntry is one node's counters.
type NodeEntry struct {
	ID    model.NodeID
	Stats model.NodeStats
}

// Global is the network-wide view of a run.
type Global struct {
	// Totals sums every counter; AppLatencies holds the pooled samples and
	// join times are nil when any node never joined.
	Totals model.NodeStats

	PDR       float64
	LossRatio float64
	PAR       float64

	LatencyMin  *float64
	LatencyMean *float64
	LatencyMax  *float64

	CurrentConsumedMA       float64
	CurrentConsumedJoinedMA float64

	// EstimatedPDR is received/sent. It matches PDR only when nothing is
	// left in a queue at the end of the run.
	EstimatedPDR float64
	PDRAccurate  bool

	// SlotCycleUS is the summed tx and rx radio time; SlotCycleRatio divides
	// it by the run length in microseconds.
	SlotCycleUS    float64
	SlotCycleRatio float64
	// RxTotalMatches reports rx + scanning + idle time equals the time the
	// rx slot counters account for.
	RxTotalMatches bool

	// Balanced reports sent == received + lost + still queued. Drop reasons
	// are subcategories of lost and are not added again.
	Balanced bool
}

// Marker renders Balanced for the document.
func (g Global) Marker() string {
	if g.Balanced {
		return MarkerBalanced
	}
	return MarkerNotBalanced
}

func (g Global) rxCycleUS() float64 {
	t := g.Totals
	return t.SlotCycleRxUS + t.SlotCycleScanningUS + t.SlotCycleIdleUS
}

// AccuracyMarker is "N/A" when PDR and EstimatedPDR agree, otherwise the
// balance marker that explains the gap.
func (g Global) AccuracyMarker() string {
	if g.PDRAccurate {
		return "N/A"
	}
	return g.Marker()
}

// Run is the statistics of one simulation run.
type Run struct {
	ID     string
	Nodes  []NodeEntry
	Global Global
}

// Document maps run ids to runs. It marshals to
// {runID: {nodeID: record, ..., "global-stats": {...}}}.
type Document map[string]Run

// Aggregate sums entries into a Run. elapsedSec is the simulated duration
// used to turn charge into mean current.
func Aggregate(runID string, entries []NodeEntry, elapsedSec float64) Run {
	nodes := append([]NodeEntry(nil), entries...)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	var t model.NodeStats
	tschJoin, routingJoin := 0.0, 0.0
	tschKnown, routingKnown := true, true
	for _, e := range nodes {
		s := e.Stats
		t.AppNumTx += s.AppNumTx
		t.AppNumEndpointRx += s.AppNumEndpointRx
		t.AppNumLost += s.AppNumLost
		t.AppNumQueueDrops += s.AppNumQueueDrops
		t.AppNumTxLimitDrops += s.AppNumTxLimitDrops
		t.AppNumRoutingDrops += s.AppNumRoutingDrops
		t.AppNumSchedulingDrops += s.AppNumSchedulingDrops
		t.AppNumOtherDrops += s.AppNumOtherDrops
		t.AppLatencies = append(t.AppLatencies, s.AppLatencies...)
		t.StayInQueue += s.StayInQueue

		t.TSCHEBTx += s.TSCHEBTx
		t.TSCHEBRx += s.TSCHEBRx
		t.TSCHKeepaliveTx += s.TSCHKeepaliveTx
		t.TSCHKeepaliveRx += s.TSCHKeepaliveRx

		t.MACTx += s.MACTx
		t.MACTxUnicast += s.MACTxUnicast
		t.MACAcked += s.MACAcked
		t.MACRx += s.MACRx
		t.MACRxError += s.MACRxError
		t.MACRxCollision += s.MACRxCollision
		t.MACAckError += s.MACAckError

		t.MACParentTxUnicast += s.MACParentTxUnicast
		t.MACParentAcked += s.MACParentAcked
		t.MACParentRx += s.MACParentRx

		t.SlotsRxIdle += s.SlotsRxIdle
		t.SlotsRxScanning += s.SlotsRxScanning
		t.SlotsRxPacket += s.SlotsRxPacket
		t.SlotsRxPacketTxAck += s.SlotsRxPacketTxAck
		t.SlotsTxPacket += s.SlotsTxPacket
		t.SlotsTxPacketRxAck += s.SlotsTxPacketRxAck

		t.SlotCycleTxUS += s.SlotCycleTxUS
		t.SlotCycleRxUS += s.SlotCycleRxUS
		t.SlotCycleScanningUS += s.SlotCycleScanningUS
		t.SlotCycleIdleUS += s.SlotCycleIdleUS
		t.RxSlotsUS += s.RxSlotsUS

		if s.TSCHJoinTimeSec == nil {
			tschKnown = false
		} else {
			tschJoin += *s.TSCHJoinTimeSec
		}
		t.TSCHNumParentChanges += s.TSCHNumParentChanges

		t.RoutingNumTx += s.RoutingNumTx
		t.RoutingNumRx += s.RoutingNumRx
		if s.RoutingJoinTimeSec == nil {
			routingKnown = false
		} else {
			routingJoin += *s.RoutingJoinTimeSec
		}
		t.RoutingNumParentChanges += s.RoutingNumParentChanges

		t.ChargeUC += s.ChargeUC
		t.ChargeJoinedUC += s.ChargeJoinedUC
		t.LinksCount += s.LinksCount
	}
	if tschKnown {
		t.TSCHJoinTimeSec = &tschJoin
	}
	if routingKnown {
		t.RoutingJoinTimeSec = &routingJoin
	}

	g := Global{Totals: t}
	if total := t.AppNumEndpointRx + t.AppNumLost; total > 0 {
		g.PDR = 100 * (1 - float64(t.AppNumLost)/float64(total))
	}
	g.LossRatio = 100 - g.PDR
	g.PAR = 100 * divSafe(float64(t.MACParentAcked), float64(t.MACParentTxUnicast))

	if len(t.AppLatencies) > 0 {
		lo, hi := floats.Min(t.AppLatencies), floats.Max(t.AppLatencies)
		mean := stat.Mean(t.AppLatencies, nil)
		g.LatencyMin, g.LatencyMean, g.LatencyMax = &lo, &mean, &hi
	}

	g.CurrentConsumedMA = round1(divSafe(t.ChargeUC, elapsedSec) / 1000)
	g.CurrentConsumedJoinedMA = round1(divSafe(t.ChargeJoinedUC, elapsedSec) / 1000)
	g.Balanced = t.AppNumTx == t.AppNumEndpointRx+t.AppNumLost+t.StayInQueue

	g.EstimatedPDR = 100 * divSafe(float64(t.AppNumEndpointRx), float64(t.AppNumTx))
	g.PDRAccurate = math.Abs(g.PDR-g.EstimatedPDR) < 1e-9
	g.SlotCycleUS = t.SlotCycleTxUS + t.SlotCycleRxUS
	g.SlotCycleRatio = divSafe(g.SlotCycleUS, elapsedSec*1e6)
	g.RxTotalMatches = math.Abs(t.RxSlotsUS-g.rxCycleUS()) < 1e-6

	return Run{ID: runID, Nodes: nodes, Global: g}
}

func divSafe(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// Merge combines documents; later documents win on duplicate run ids.
func Merge(docs ...Document) Document {
	out := make(Document)
	for _, d := range docs {
		for id, r := range d {
			out[id] = r
		}
	}
	return out
}

// LogSummary writes the packet and link summary lines.
func (r Run) LogSummary(ctx context.Context, log logging.Logger) {
	t := r.Global.Totals
	log.Info(ctx, fmt.Sprintf("packet stats: PDR=%.2f%% generated=%d received=%d lost=%d (tx_limit/queue/routing/scheduling/other=%d/%d/%d/%d/%d)",
		r.Global.PDR, t.AppNumTx, t.AppNumEndpointRx, t.AppNumLost,
		t.AppNumTxLimitDrops, t.AppNumQueueDrops, t.AppNumRoutingDrops, t.AppNumSchedulingDrops, t.AppNumOtherDrops),
		logging.String("run_id", r.ID),
		logging.String("balance", r.Global.Marker()),
	)
	log.Info(ctx, fmt.Sprintf("link stats: Links#=%d PAR=%.2f%% tx=%d acked=%d",
		t.LinksCount, r.Global.PAR, t.MACParentTxUnicast, t.MACParentAcked),
		logging.String("run_id", r.ID),
	)
	latency := "n/a"
	if r.Global.LatencyMean != nil {
		latency = strconv.FormatFloat(*r.Global.LatencyMean, 'g', -1, 64)
	}
	log.Info(ctx, fmt.Sprintf("latency=%s collision=%d slot cycle=%g slot cycle ratio=%g",
		latency, t.MACRxCollision, r.Global.SlotCycleUS, r.Global.SlotCycleRatio),
		logging.String("run_id", r.ID),
	)
}

// Document returns a single-run document.
func (r Run) Document() Document { return Document{r.ID: r} }

type metricTotal struct {
	Total int    `json:"total"`
	Name  string `json:"name"`
}

type metricValue struct {
	Value float64 `json:"value"`
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
}

type metricMean struct {
	Name string  `json:"name"`
	Unit string  `json:"unit"`
	Mean float64 `json:"mean"`
}

type metricRange struct {
	Name string   `json:"name"`
	Min  *float64 `json:"min"`
	Max  *float64 `json:"max"`
	Unit string   `json:"unit"`
	Mean *float64 `json:"mean"`
}

type summary struct {
	PDR         float64  `json:"pdr"`
	LossRatio   float64  `json:"loss ratio"`
	PAR         float64  `json:"par"`
	AckReq      int      `json:"ack requested"`
	AckRecv     int      `json:"ack received"`
	Sent        int      `json:"sent"`
	Received    int      `json:"received"`
	Lost        int      `json:"lost"`
	StayInQueue int      `json:"stay_in_q"`
	Balance     string   `json:"balanced with #queued?"`
	EstPDR      float64  `json:"estimated pdr"`
	PDRAccurate bool     `json:"pdr accurate?"`
	IfInexact   string   `json:"if not accurate, balanced with #queued?"`
	LatencyMin  *float64 `json:"latency min"`
	LatencyMean *float64 `json:"latency mean"`
	LatencyMax  *float64 `json:"latency max"`
	MACTx       int      `json:"stats_mac_tx"`
	MACTxUC     int      `json:"stats_mac_tx_unicast"`
	MACAcked    int      `json:"stats_mac_acked"`
	MACRx       int      `json:"stats_mac_rx"`
	MACRxErr    int      `json:"stats_mac_rx_error"`
	MACRxColl   int      `json:"stats_mac_rx_collision"`
	MACAckErr   int      `json:"stats_mac_ack_error"`
	CycleTx     float64  `json:"slot cycle tx"`
	CycleRx     float64  `json:"slot cycle rx"`
	CycleScan   float64  `json:"slot cycle rx scanning"`
	CycleIdle   float64  `json:"slot cycle rx idle"`
	CycleRxAll  float64  `json:"slot cycle rx total (rx + scan + idle)"`
	CycleTotal  float64  `json:"slot cycle total"`
	CycleRatio  float64  `json:"slot cycle ratio"`
	RxMatches   bool     `json:"rx total matches slot counters?"`
	ChargeUC    float64  `json:"energy_uc"`
	ChargeJUC   float64  `json:"energy_joined_uc"`
	ChargeNoScn float64  `json:"energy_except_scanning_uc"`
	LinksCount  int      `json:"links_count"`
}

type globalJSON struct {
	Sent          []metricTotal `json:"app-packets-sent"`
	Received      []metricTotal `json:"app-packets-received"`
	Lost          []metricTotal `json:"app-packets-lost"`
	Current       []metricMean  `json:"current-consumed"`
	CurrentJoined []metricMean  `json:"current-consumed-when-joined"`
	Delivery      []metricValue `json:"e2e-delivery"`
	Latency       []metricRange `json:"e2e-latency"`
	Summary       []summary     `json:"summary"`
}

func (g Global) MarshalJSON() ([]byte, error) {
	t := g.Totals
	return json.Marshal(globalJSON{
		Sent:          []metricTotal{{Total: t.AppNumTx, Name: "Number of application packets sent"}},
		Received:      []metricTotal{{Total: t.AppNumEndpointRx, Name: "Number of application packets received"}},
		Lost:          []metricTotal{{Total: t.AppNumLost, Name: "Number of application packets lost"}},
		Current:       []metricMean{{Name: "Current consumed", Unit: "mA", Mean: g.CurrentConsumedMA}},
		CurrentJoined: []metricMean{{Name: "Current consumed", Unit: "mA", Mean: g.CurrentConsumedJoinedMA}},
		Delivery: []metricValue{
			{Value: g.PDR, Name: "E2E delivery ratio", Unit: "%"},
			{Value: g.LossRatio, Name: "E2E loss ratio", Unit: "%"},
		},
		Latency: []metricRange{{Name: "E2E latency", Min: g.LatencyMin, Max: g.LatencyMax, Unit: "s", Mean: g.LatencyMean}},
		Summary: []summary{{
			PDR:         g.PDR,
			LossRatio:   g.LossRatio,
			PAR:         g.PAR,
			AckReq:      t.MACParentTxUnicast,
			AckRecv:     t.MACParentAcked,
			Sent:        t.AppNumTx,
			Received:    t.AppNumEndpointRx,
			Lost:        t.AppNumLost,
			StayInQueue: t.StayInQueue,
			Balance:     g.Marker(),
			EstPDR:      g.EstimatedPDR,
			PDRAccurate: g.PDRAccurate,
			IfInexact:   g.AccuracyMarker(),
			LatencyMin:  g.LatencyMin,
			LatencyMean: g.LatencyMean,
			LatencyMax:  g.LatencyMax,
			MACTx:       t.MACTx,
			MACTxUC:     t.MACTxUnicast,
			MACAcked:    t.MACAcked,
			MACRx:       t.MACRx,
			MACRxErr:    t.MACRxError,
			MACRxColl:   t.MACRxCollision,
			MACAckErr:   t.MACAckError,
			CycleTx:     t.SlotCycleTxUS,
			CycleRx:     t.SlotCycleRxUS,
			CycleScan:   t.SlotCycleScanningUS,
			CycleIdle:   t.SlotCycleIdleUS,
			CycleRxAll:  g.rxCycleUS(),
			CycleTotal:  g.SlotCycleUS,
			CycleRatio:  g.SlotCycleRatio,
			RxMatches:   g.RxTotalMatches,
			ChargeUC:    t.ChargeUC,
			ChargeJUC:   t.ChargeJoinedUC,
			ChargeNoScn: t.ChargeJoinedUC,
			LinksCount:  t.LinksCount,
		}},
	})
}

func (r Run) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Nodes)+1)
	for _, e := range r.Nodes {
		m[e.ID.String()] = e.Stats
	}
	m[GlobalKey] = r.Global
	return json.Marshal(m)
}
