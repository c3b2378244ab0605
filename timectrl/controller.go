package timectrl

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/signalsfoundry/tsch-simulator/core"
	"github.com/signalsfoundry/tsch-simulator/internal/config"
	"github.com/signalsfoundry/tsch-simulator/internal/logging"
	"github.com/signalsfoundry/tsch-simulator/internal/sim"
	"github.com/signalsfoundry/tsch-simulator/stats"
)

// Builder constructs a simulation from a configuration.
type Builder func(ctx context.Context, cfg config.Config, opts ...sim.Option) (*sim.Simulation, error)

// StateRecorder is told about every controller state change.
type StateRecorder interface {
	SetControllerState(state string)
}

// Status is the controller's view of the current run.
type Status struct {
	State      string  `json:"state"`
	Speed      string  `json:"speed"`
	SimID      string  `json:"sim_id,omitempty"`
	ASN        uint64  `json:"asn"`
	Seconds    float64 `json:"seconds"`
	Ended      bool    `json:"ended"`
	Runs       int     `json:"runs"`
	BuildError string  `json:"build_error,omitempty"`
}

// Controller owns an interactive simulation. Run executes the loop; every
// other method may be called from any goroutine.
type Controller struct {
	mu sync.Mutex

	clock   clock.Clock
	log     logging.Logger
	build   Builder
	simOpts []sim.Option
	metrics StateRecorder

	cfg      config.Config
	built    config.Config
	sim      *sim.Simulation
	buildErr error

	running   bool
	interrupt bool
	reset     bool
	speed     Speed
	lastState State

	results []stats.Document
}

// Option customises Controller construction.
type Option func(*Controller)

// WithClock replaces the wall clock, typically with clock.NewMock in tests.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) {
		ctl.clock = c
	}
}

// WithLogger sets the controller logger. Simulations inherit it unless a
// sim.WithLogger option is supplied.
func WithLogger(log logging.Logger) Option {
	return func(ctl *Controller) {
		if log != nil {
			ctl.log = log
		}
	}
}

// WithBuilder replaces sim.Build.
func WithBuilder(b Builder) Option {
	return func(ctl *Controller) {
		ctl.build = b
	}
}

// WithSimOptions passes options to every simulation the controller builds.
func WithSimOptions(opts ...sim.Option) Option {
	return func(ctl *Controller) {
		ctl.simOpts = append(ctl.simOpts, opts...)
	}
}

// WithStateRecorder attaches a recorder for state changes.
func WithStateRecorder(r StateRecorder) Option {
	return func(ctl *Controller) {
		ctl.metrics = r
	}
}

// NewController returns a stopped controller for cfg.
func NewController(cfg config.Config, opts ...Option) *Controller {
	c := &Controller{
		clock: clock.New(),
		log:   logging.Noop(),
		build: sim.Build,
		cfg:   cfg.Clone(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.recordState()
	return c
}

//
// ---------- Commands ----------
//

// Start begins or resumes running at speed.
func (c *Controller) Start(speed Speed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
	c.running = true
	c.interrupt = false
	c.recordState()
}

// Stop interrupts a running simulation without discarding its state.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.interrupt = true
	}
	c.running = false
	c.recordState()
}

// Reset finishes the current run and rebuilds from the latest config.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.interrupt = true
	c.reset = true
	c.recordState()
}

// SetSpeed changes the speed of the current and later runs.
func (c *Controller) SetSpeed(speed Speed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
}

// SetConfig replaces the configuration. A simulation that has already
// started is reset; one still waiting for Start is rebuilt in place.
func (c *Controller) SetConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Equal(cfg) {
		return nil
	}
	c.cfg = cfg.Clone()
	if c.sim != nil && c.sim.Started() {
		c.running = false
		c.interrupt = true
		c.reset = true
		c.recordState()
	}
	return nil
}

// Config returns a copy of the latest configuration.
func (c *Controller) Config() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Clone()
}

//
// ---------- Queries ----------
//

func (c *Controller) state() State {
	switch {
	case c.reset:
		return ResetRequested
	case c.running:
		return Running
	case c.interrupt:
		return Interrupted
	default:
		return Stopped
	}
}

func (c *Controller) recordState() {
	st := c.state()
	if st != c.lastState {
		c.log.Debug(context.Background(), "controller state",
			logging.String("from", c.lastState.String()), logging.String("to", st.String()))
		c.lastState = st
	}
	if c.metrics != nil {
		c.metrics.SetControllerState(st.String())
	}
}

// Status reports the state and position of the current run.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State: c.state().String(),
		Speed: c.speed.String(),
		Runs:  len(c.results),
	}
	if c.buildErr != nil {
		st.BuildError = c.buildErr.Error()
	}
	if c.sim != nil {
		st.SimID = c.sim.ID
		st.ASN = c.sim.Timeline.ASN
		st.Seconds = c.sim.Timeline.Seconds()
		st.Ended = c.sim.HasEnded()
	}
	return st
}

// Snapshot returns node positions and live links of the current run.
func (c *Controller) Snapshot() (sim.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sim == nil {
		return sim.Snapshot{}, ErrNoSimulation
	}
	return c.sim.Snapshot(), nil
}

// UpdatePositions moves nodes of the current run.
func (c *Controller) UpdatePositions(ctx context.Context, updates []core.PositionUpdate) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sim == nil {
		c.log.Warn(ctx, "update positions: network not present")
		return 0, ErrNoSimulation
	}
	return c.sim.UpdatePositions(ctx, updates), nil
}

// Results returns the statistics of every finished run, oldest first.
func (c *Controller) Results() []stats.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stats.Document(nil), c.results...)
}

//
// ---------- Loop ----------
//

// Run drives simulations until ctx is cancelled: build, wait for Start,
// execute slots at the selected speed, finish, and rebuild after Reset.
func (c *Controller) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		c.rebuild(ctx)
		c.mu.Lock()
		c.reset = false
		c.recordState()
		c.mu.Unlock()

		if !c.waitForStart(ctx) {
			break
		}
		c.session(ctx)
	}
	c.mu.Lock()
	s, finished := c.sim, c.sim != nil && c.sim.Finished()
	c.mu.Unlock()
	if s != nil && s.Started() && !finished {
		c.finish(context.WithoutCancel(ctx))
	}
	return ctx.Err()
}

func (c *Controller) rebuild(ctx context.Context) {
	c.mu.Lock()
	cfg := c.cfg.Clone()
	c.mu.Unlock()

	opts := append([]sim.Option{sim.WithLogger(c.log)}, c.simOpts...)
	s, err := c.build(ctx, cfg, opts...)
	if err != nil {
		c.log.Error(ctx, "build simulation", logging.Err(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sim, c.buildErr, c.built = s, err, cfg
}

// waitForStart polls for Start, rebuilding whenever the configuration
// changes. It reports false when ctx is done.
func (c *Controller) waitForStart(ctx context.Context) bool {
	for {
		c.mu.Lock()
		start := c.running && c.sim != nil
		if c.running && c.sim == nil {
			c.log.Warn(ctx, "cannot start: no simulation built", logging.Err(c.buildErr))
			c.running = false
			c.recordState()
		}
		changed := c.reset || !c.cfg.Equal(c.built)
		if c.reset {
			c.reset = false
			c.recordState()
		}
		c.mu.Unlock()
		if start {
			return true
		}
		if !c.sleep(ctx, PollInterval, false) {
			return false
		}
		if changed {
			c.rebuild(ctx)
		}
	}
}

// session runs one simulation until a reset is requested or ctx is done.
func (c *Controller) session(ctx context.Context) {
	c.mu.Lock()
	s := c.sim
	err := s.Start(ctx)
	speed := c.speed
	c.mu.Unlock()
	if err != nil {
		c.log.Error(ctx, "start simulation", logging.Err(err))
	}
	c.log.Info(ctx, "simulation session started",
		logging.String("sim_id", s.ID),
		logging.String("speed", speed.String()),
		logging.Duration("slot", s.Config.SlotDuration()),
		logging.Uint64("asn", s.Timeline.ASN))

	finished := false
	for ctx.Err() == nil {
		advanced := c.pass(ctx, s, &finished)

		c.mu.Lock()
		c.interrupt = false
		ended := s.HasEnded()
		reset := c.reset
		c.recordState()
		c.mu.Unlock()

		if ended && !finished {
			finished = true
			if advanced {
				c.finish(ctx)
			} else {
				c.log.Info(ctx, "already at the end of the configured time limit",
					logging.Float("seconds", s.Timeline.Seconds()))
			}
		}
		if reset {
			break
		}
		wait := time.Duration(0)
		if !advanced {
			wait = IdleInterval
		}
		if !c.sleep(ctx, wait, false) {
			break
		}
	}
	if !finished {
		c.finish(context.WithoutCancel(ctx))
	}
}

// pass executes slots while running and not interrupted. It reports whether
// at least one slot ran.
func (c *Controller) pass(ctx context.Context, s *sim.Simulation, finished *bool) bool {
	startReal := c.clock.Now()
	c.mu.Lock()
	startSim := s.Timeline.Seconds()
	c.mu.Unlock()
	advanced := false

	for ctx.Err() == nil {
		c.mu.Lock()
		if !c.running || c.interrupt {
			c.mu.Unlock()
			break
		}
		*finished = false
		res, ok := s.Advance(ctx)
		if !ok {
			c.running = false
			c.recordState()
			c.mu.Unlock()
			break
		}
		advanced = true
		speed := c.speed
		switch speed {
		case StepSingle:
			c.running = false
			c.recordState()
		case StepNextActive:
			if res.WasActiveSlot {
				c.running = false
				c.recordState()
			}
		case Unlimited:
			if c.clock.Since(startReal) > YieldInterval {
				c.interrupt = true
			}
		}
		simElapsed := s.Timeline.Seconds() - startSim
		c.mu.Unlock()

		if d := PacingDelay(speed, simElapsed, c.clock.Since(startReal)); d > 0 {
			c.sleep(ctx, d, true)
		}
	}
	return advanced
}

// sleep waits for d on the controller clock in slices of at most
// SleepSlice. With interruptible set it returns early once the run is
// interrupted or reset. It reports false if ctx ended the wait.
func (c *Controller) sleep(ctx context.Context, d time.Duration, interruptible bool) bool {
	for d > 0 {
		step := min(d, SleepSlice)
		select {
		case <-ctx.Done():
			return false
		case <-c.clock.After(step):
		}
		d -= step
		if interruptible {
			c.mu.Lock()
			stop := c.interrupt || c.reset || !c.running
			c.mu.Unlock()
			if stop {
				return true
			}
		}
	}
	return ctx.Err() == nil
}

func (c *Controller) finish(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sim == nil || c.sim.Finished() {
		return
	}
	doc, err := c.sim.Finish(ctx)
	if err != nil {
		c.log.Error(ctx, "finish simulation", logging.Err(err))
	}
	if doc != nil {
		c.results = append(c.results, doc)
	}
	c.log.Info(ctx, "run finished",
		logging.String("sim_id", c.sim.ID),
		logging.Uint64("asn", c.sim.Timeline.ASN),
		logging.Int("runs", len(c.results)))
}
