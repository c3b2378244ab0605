package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/tsch-simulator/stats"
)

// ControllerStates are the label values of tschsim_controller_state.
var ControllerStates = []string{"stopped", "running", "interrupted", "reset_requested"}

// SimCollector bundles Prometheus metrics for slot execution, finished runs
// and the pacing controller. It satisfies sim.MetricsRecorder and
// timectrl.StateRecorder.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Slots         prometheus.Counter
	ActiveSlots   prometheus.Counter
	Transmissions prometheus.Counter
	SlotDuration  prometheus.Histogram
	ASN           prometheus.Gauge

	Runs           prometheus.Counter
	PDR            prometheus.Gauge
	PAR            prometheus.Gauge
	SlotCycleRatio prometheus.Gauge

	ControllerState *prometheus.GaugeVec
}

// NewSimCollector registers simulator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	slots, err := counter(reg, "tschsim_slots_total", "Total number of executed timeslots.")
	if err != nil {
		return nil, err
	}
	active, err := counter(reg, "tschsim_active_slots_total", "Timeslots in which at least one node transmitted.")
	if err != nil {
		return nil, err
	}
	transmissions, err := counter(reg, "tschsim_transmissions_total", "Frames offered to receivers, summed over all slots.")
	if err != nil {
		return nil, err
	}
	duration, err := adopt(reg, "tschsim_slot_duration_seconds", prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tschsim_slot_duration_seconds",
		Help:    "Wall-clock time spent executing one timeslot.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}))
	if err != nil {
		return nil, err
	}
	asn, err := gauge(reg, "tschsim_asn", "Absolute slot number of the last executed slot.")
	if err != nil {
		return nil, err
	}
	runs, err := counter(reg, "tschsim_runs_finished_total", "Simulation runs whose statistics have been aggregated.")
	if err != nil {
		return nil, err
	}
	pdr, err := gauge(reg, "tschsim_pdr_percent", "End-to-end packet delivery ratio of the last finished run.")
	if err != nil {
		return nil, err
	}
	par, err := gauge(reg, "tschsim_par_percent", "Parent acknowledgement ratio of the last finished run.")
	if err != nil {
		return nil, err
	}
	cycle, err := gauge(reg, "tschsim_slot_cycle_ratio", "Radio tx+rx time over run length, summed over nodes, of the last finished run.")
	if err != nil {
		return nil, err
	}
	state, err := adopt(reg, "tschsim_controller_state", prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tschsim_controller_state",
		Help: "1 for the pacing controller's current state, 0 for the others.",
	}, []string{"state"}))
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:        gatherer,
		Slots:           slots,
		ActiveSlots:     active,
		Transmissions:   transmissions,
		SlotDuration:    duration,
		ASN:             asn,
		Runs:            runs,
		PDR:             pdr,
		PAR:             par,
		SlotCycleRatio:  cycle,
		ControllerState: state,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveSlot records one executed slot.
func (c *SimCollector) ObserveSlot(asn uint64, active bool, transmissions int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Slots.Inc()
	if active {
		c.ActiveSlots.Inc()
	}
	c.Transmissions.Add(float64(transmissions))
	c.SlotDuration.Observe(elapsed.Seconds())
	c.ASN.Set(float64(asn))
}

// ObserveRun records the aggregate ratios of a finished run.
func (c *SimCollector) ObserveRun(run stats.Run) {
	if c == nil {
		return
	}
	c.Runs.Inc()
	c.PDR.Set(run.Global.PDR)
	c.PAR.Set(run.Global.PAR)
	c.SlotCycleRatio.Set(run.Global.SlotCycleRatio)
}

// SetControllerState marks state as current.
func (c *SimCollector) SetControllerState(state string) {
	if c == nil {
		return
	}
	for _, s := range ControllerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.ControllerState.WithLabelValues(s).Set(v)
	}
}
