// Package sim owns one simulation run: the configuration it was built from,
// the shared random stream, the network, the timeline and the ASN hooks.
//
// A Simulation is driven by a single goroutine. The pacing controller in
// timectrl serializes every call made on behalf of other goroutines.
package sim

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/tsch-simulator/core"
	"github.com/signalsfoundry/tsch-simulator/internal/config"
	"github.com/signalsfoundry/tsch-simulator/internal/logging"
	"github.com/signalsfoundry/tsch-simulator/internal/observability"
	"github.com/signalsfoundry/tsch-simulator/internal/refmac"
	"github.com/signalsfoundry/tsch-simulator/internal/rng"
	"github.com/signalsfoundry/tsch-simulator/model"
	"github.com/signalsfoundry/tsch-simulator/stats"
)

const tracerName = "github.com/signalsfoundry/tsch-simulator/internal/sim"

// BookkeepingPeriodSec is the simulated interval of the periodic
// bookkeeping timer (progress log, route refresh).
const BookkeepingPeriodSec = 60

// endEpsilonSec absorbs rounding when comparing against the run duration.
const endEpsilonSec = 1e-6

// Hook runs at the start of its ASN, after timers fire and before the slot
// executes.
type Hook func(ctx context.Context, s *Simulation)

// MetricsRecorder receives per-slot and per-run measurements.
type MetricsRecorder interface {
	core.SlotObserver
	ObserveRun(run stats.Run)
}

// Simulation is one constructed run.
type Simulation struct {
	// ID identifies this instance in logs and traces.
	ID string

	Config    config.Config
	Network   *core.Network
	Timeline  *core.Timeline
	RNG       *rng.Source
	Scheduler core.Scheduler
	Router    core.Router

	hooks     map[uint64]Hook
	waypoints map[uint64][]core.PositionUpdate
	sources   map[model.NodeID][]refmac.Source
	log       logging.Logger
	metrics   MetricsRecorder

	started  bool
	advanced bool
	finished bool
}

// Option customises Simulation construction.
type Option func(*Simulation)

// WithLogger sets the logger used for build warnings and run progress.
func WithLogger(log logging.Logger) Option {
	return func(s *Simulation) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics attaches a recorder for slot and run measurements.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Simulation) {
		s.metrics = m
	}
}

// WithHook registers fn to run at asn. A later registration for the same
// ASN replaces the earlier one.
func WithHook(asn uint64, fn Hook) Option {
	return func(s *Simulation) {
		s.hooks[asn] = fn
	}
}

// WithHooks registers a whole hook table.
func WithHooks(hooks map[uint64]Hook) Option {
	return func(s *Simulation) {
		for asn, fn := range hooks {
			s.hooks[asn] = fn
		}
	}
}

// WithWaypoints supplies the recorded moves used by the Waypoint mobility
// model.
func WithWaypoints(w map[uint64][]core.PositionUpdate) Option {
	return func(s *Simulation) {
		s.waypoints = w
	}
}

// RunID is the key of this run in the statistics document.
func (s *Simulation) RunID() string {
	return strconv.Itoa(s.Config.SimulationRunID)
}

// Logger returns the run-scoped logger.
func (s *Simulation) Logger() logging.Logger { return s.log }

func (s *Simulation) endSeconds() float64 {
	return s.Config.SimulationDurationSec + endEpsilonSec
}

// HasEnded reports whether the next slot would pass the configured duration.
func (s *Simulation) HasEnded() bool {
	return s.Timeline.NextSeconds() > s.endSeconds()
}

// Started reports whether Start has run.
func (s *Simulation) Started() bool { return s.started }

// Advanced reports whether at least one slot has executed.
func (s *Simulation) Advanced() bool { return s.advanced }

// Finished reports whether Finish has produced the run's statistics.
func (s *Simulation) Finished() bool { return s.finished }

// Start initializes every node and the router. It is idempotent.
func (s *Simulation) Start(ctx context.Context) error {
	if s.started {
		return nil
	}
	s.log.Info(ctx, "starting simulation main loop")
	for _, n := range s.Network.Nodes() {
		if err := n.Initialize(); err != nil {
			return fmt.Errorf("initialize node %d: %w", n.ID, err)
		}
	}
	if err := s.Router.Initialize(s.Network, s.Timeline.Seconds()); err != nil {
		return fmt.Errorf("initialize router %s: %w", s.Router.Name(), err)
	}
	s.started = true
	return nil
}

// Advance executes one slot. It reports false, without stepping, once the
// configured duration has been reached.
func (s *Simulation) Advance(ctx context.Context) (core.StepResult, bool) {
	if !s.started {
		if err := s.Start(ctx); err != nil {
			s.log.Error(ctx, "start failed", logging.Err(err))
			return core.StepResult{}, false
		}
	}
	if s.HasEnded() {
		return core.StepResult{}, false
	}
	s.Timeline.Step()
	asn := s.Timeline.ASN
	if fn, ok := s.hooks[asn]; ok {
		fn(ctx, s)
	}
	res := s.Network.Step(asn)
	s.advanced = true
	return res, true
}

// Run executes the remaining slots and finishes the run. A cancelled
// context stops early; the partial run is still finished.
func (s *Simulation) Run(ctx context.Context) (stats.Document, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	for ctx.Err() == nil {
		if _, ok := s.Advance(ctx); !ok {
			break
		}
	}
	doc, err := s.Finish(context.WithoutCancel(ctx))
	if err != nil {
		return doc, err
	}
	return doc, ctx.Err()
}

// Finish aggregates the statistics and, when SAVE_RESULTS is set, writes
// them to RESULTS_DIR. The document is returned even if writing fails.
func (s *Simulation) Finish(ctx context.Context) (stats.Document, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sim.Finish")
	var err error
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(
		attribute.String("sim.id", s.ID),
		attribute.Int64("sim.asn", int64(s.Timeline.ASN)),
	)

	s.log.Info(ctx, fmt.Sprintf("ending simulation at %.3f seconds", s.Timeline.Seconds()))
	run := stats.Aggregate(s.RunID(), s.Network.Stats(), s.Timeline.Seconds())
	run.LogSummary(ctx, s.log)
	if s.metrics != nil {
		s.metrics.ObserveRun(run)
	}
	s.finished = true

	doc := run.Document()
	if !s.Config.SaveResults {
		return doc, nil
	}
	path, err := stats.WriteFile(s.Config.ResultsDir, s.Config.SimulationRunID, doc)
	if err != nil {
		return doc, fmt.Errorf("save results: %w", err)
	}
	s.log.Info(ctx, "results saved", logging.String("path", path))
	return doc, nil
}

// UpdatePositions moves nodes and re-evaluates their links. Unknown ids are
// logged and skipped; the number of nodes moved is returned.
func (s *Simulation) UpdatePositions(ctx context.Context, updates []core.PositionUpdate) int {
	return s.Network.UpdatePositions(ctx, updates)
}

// NodePosition is a node's location in a Snapshot.
type NodePosition struct {
	ID model.NodeID `json:"id"`
	X  float64      `json:"x"`
	Y  float64      `json:"y"`
}

// Snapshot is the live view of a run.
type Snapshot struct {
	ID      string             `json:"id"`
	ASN     uint64             `json:"asn"`
	Seconds float64            `json:"seconds"`
	Ended   bool               `json:"ended"`
	Nodes   []NodePosition     `json:"nodes"`
	Links   map[string]float64 `json:"links"`
}

// Snapshot returns node positions and every link whose average success
// rate is above zero, keyed "from#to".
func (s *Simulation) Snapshot() Snapshot {
	snap := Snapshot{
		ID:      s.ID,
		ASN:     s.Timeline.ASN,
		Seconds: s.Timeline.Seconds(),
		Ended:   s.HasEnded(),
		Nodes:   make([]NodePosition, 0, s.Network.Len()),
		Links:   make(map[string]float64),
	}
	for _, n := range s.Network.Nodes() {
		snap.Nodes = append(snap.Nodes, NodePosition{ID: n.ID, X: n.Pos.X, Y: n.Pos.Y})
	}
	for _, l := range s.Network.Links() {
		if rate := l.AverageSuccessRate(); rate > 0 {
			snap.Links[l.Key().String()] = rate
		}
	}
	return snap
}

func (s *Simulation) bookkeeping(seconds float64) {
	ctx := context.Background()
	progress := 0.0
	if s.Config.SimulationDurationSec > 0 {
		progress = 100 * seconds / s.Config.SimulationDurationSec
	}
	s.log.Info(ctx, fmt.Sprintf("%d seconds, progress %.2f%%", int64(math.Trunc(seconds)), progress))
	s.Router.Refresh(s.Network, seconds)
}

func newInstanceID() string { return uuid.NewString() }
