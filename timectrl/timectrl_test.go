package timectrl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/tsch-simulator/core"
	"github.com/signalsfoundry/tsch-simulator/internal/config"
	"github.com/signalsfoundry/tsch-simulator/internal/logging"
	"github.com/signalsfoundry/tsch-simulator/model"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func testConfig(durationSec float64) config.Config {
	cfg := config.Default()
	cfg.SimulationDurationSec = durationSec
	cfg.PositioningLayout = "Line"
	cfg.PositioningNumNodes = 3
	cfg.AppPacketPeriodSec = 0.5
	return cfg
}

func startController(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return c.Status().SimID != "" }, waitFor, tick)
}

func newTestController(t *testing.T, cfg config.Config, opts ...Option) *Controller {
	opts = append([]Option{WithLogger(logging.FromSlog(slogt.New(t)))}, opts...)
	return NewController(cfg, opts...)
}

func TestParseSpeed(t *testing.T) {
	cases := map[string]Speed{
		"unlimited":   Unlimited,
		"10%":         Percent10,
		"100":         Percent100,
		"Percent1000": Percent1000,
		" step ":      StepSingle,
		"NEXT-ACTIVE": StepNextActive,
	}
	for raw, want := range cases {
		got, err := ParseSpeed(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	_, err := ParseSpeed("warp")
	require.ErrorIs(t, err, ErrUnknownSpeed)

	for s := Unlimited; s <= StepNextActive; s++ {
		back, err := ParseSpeed(s.String())
		require.NoError(t, err)
		require.Equal(t, s, back)
	}
}

func TestPacingDelay(t *testing.T) {
	require.Zero(t, PacingDelay(Unlimited, 5, 0))
	require.Zero(t, PacingDelay(StepSingle, 5, 0))
	require.Equal(t, 500*time.Millisecond, PacingDelay(Percent100, 1, 500*time.Millisecond))
	require.Equal(t, MaxPacingSleep, PacingDelay(Percent10, 2, 0))
	require.Zero(t, PacingDelay(Percent1000, 1, 200*time.Millisecond))
	require.Equal(t, 50*time.Millisecond, PacingDelay(Percent1000, 1, 50*time.Millisecond))
	require.Zero(t, PacingDelay(Percent100, 0.0005, 0), "deficit under a millisecond")
}

func TestStateStrings(t *testing.T) {
	require.Equal(t, "stopped", Stopped.String())
	require.Equal(t, "running", Running.String())
	require.Equal(t, "interrupted", Interrupted.String())
	require.Equal(t, "reset_requested", ResetRequested.String())
}

func TestRunToEndRecordsResult(t *testing.T) {
	c := newTestController(t, testConfig(1))
	startController(t, c)

	c.Start(Unlimited)
	require.Eventually(t, func() bool { return len(c.Results()) == 1 }, waitFor, tick)

	st := c.Status()
	require.True(t, st.Ended)
	require.Equal(t, uint64(100), st.ASN)
	require.Equal(t, "stopped", st.State)
	doc := c.Results()[0]
	require.Contains(t, doc, "0")
	require.Len(t, doc["0"].Nodes, 3)
}

func TestStepSingle(t *testing.T) {
	c := newTestController(t, testConfig(10))
	startController(t, c)

	c.Start(StepSingle)
	require.Eventually(t, func() bool {
		st := c.Status()
		return st.State == "stopped" && st.ASN == 1
	}, waitFor, tick)

	c.Start(StepSingle)
	require.Eventually(t, func() bool { return c.Status().ASN == 2 }, waitFor, tick)
	require.Empty(t, c.Results())
}

func TestStepNextActive(t *testing.T) {
	c := newTestController(t, testConfig(60))
	startController(t, c)

	c.Start(StepNextActive)
	require.Eventually(t, func() bool {
		st := c.Status()
		return st.State == "stopped" && st.ASN > 0
	}, waitFor, tick)
	st := c.Status()
	require.False(t, st.Ended)
	require.Zero(t, st.ASN%uint64(config.Default().SlotframeLength), "active slots are shared cells")
}

func TestStopInterruptsWithoutFinishing(t *testing.T) {
	c := newTestController(t, testConfig(600))
	startController(t, c)

	c.Start(Percent100)
	require.Eventually(t, func() bool { return c.Status().ASN > 0 }, waitFor, tick)
	c.Stop()
	require.Eventually(t, func() bool { return c.Status().State == "stopped" }, waitFor, tick)

	asn := c.Status().ASN
	time.Sleep(3 * IdleInterval)
	require.Equal(t, asn, c.Status().ASN)
	require.Empty(t, c.Results())

	c.Start(Unlimited)
	require.Eventually(t, func() bool { return c.Status().ASN > asn }, waitFor, tick)
}

func TestResetFinishesAndRebuilds(t *testing.T) {
	c := newTestController(t, testConfig(600))
	startController(t, c)

	first := c.Status().SimID
	c.Start(Percent100)
	require.Eventually(t, func() bool { return c.Status().ASN > 0 }, waitFor, tick)

	c.Reset()
	require.Eventually(t, func() bool {
		st := c.Status()
		return st.SimID != first && st.ASN == 0 && st.State == "stopped"
	}, waitFor, tick)
	require.Len(t, c.Results(), 1, "the interrupted run is finished on reset")
}

func TestResetKeepsEarlierResults(t *testing.T) {
	c := newTestController(t, testConfig(0.5))
	startController(t, c)

	c.Start(Unlimited)
	require.Eventually(t, func() bool { return len(c.Results()) == 1 }, waitFor, tick)
	first := c.Status().SimID

	c.Reset()
	require.Eventually(t, func() bool { return c.Status().SimID != first }, waitFor, tick)
	require.Len(t, c.Results(), 1)

	c.Start(Unlimited)
	require.Eventually(t, func() bool { return len(c.Results()) == 2 }, waitFor, tick)
}

func TestSetConfigRebuildsWhileWaiting(t *testing.T) {
	c := newTestController(t, testConfig(10))
	startController(t, c)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 3)

	cfg := testConfig(10)
	cfg.PositioningNumNodes = 5
	require.NoError(t, c.SetConfig(cfg))
	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && len(snap.Nodes) == 5
	}, waitFor, tick)
	require.Equal(t, 5, c.Config().PositioningNumNodes)
}

func TestSetConfigResetsStartedRun(t *testing.T) {
	c := newTestController(t, testConfig(600))
	startController(t, c)

	c.Start(Percent100)
	require.Eventually(t, func() bool { return c.Status().ASN > 0 }, waitFor, tick)

	cfg := testConfig(600)
	cfg.PositioningNumNodes = 4
	require.NoError(t, c.SetConfig(cfg))
	require.Eventually(t, func() bool {
		snap, err := c.Snapshot()
		return err == nil && len(snap.Nodes) == 4 && snap.ASN == 0
	}, waitFor, tick)
	require.Len(t, c.Results(), 1)
}

func TestSetConfigRejectsInvalid(t *testing.T) {
	c := newTestController(t, testConfig(10))
	cfg := testConfig(10)
	cfg.MACHoppingSequence = nil
	require.ErrorIs(t, c.SetConfig(cfg), config.ErrInvalidConfig)
	require.Len(t, c.Config().MACHoppingSequence, 4)
}

func TestBuildErrorIsReported(t *testing.T) {
	cfg := testConfig(10)
	cfg.RoutingAlgorithm = "RPL"
	c := newTestController(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return c.Status().BuildError != "" }, waitFor, tick)
	_, err := c.Snapshot()
	require.ErrorIs(t, err, ErrNoSimulation)

	c.Start(Unlimited)
	require.Eventually(t, func() bool { return c.Status().State == "stopped" }, waitFor, tick)
}

func TestUpdatePositions(t *testing.T) {
	c := newTestController(t, testConfig(10))
	_, err := c.UpdatePositions(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoSimulation)

	startController(t, c)
	n, err := c.UpdatePositions(context.Background(), []core.PositionUpdate{{ID: 2, X: 1, Y: 2}, {ID: 9}})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	for _, node := range snap.Nodes {
		if node.ID == model.NodeID(2) {
			require.Equal(t, 1.0, node.X)
			require.Equal(t, 2.0, node.Y)
		}
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []string
}

func (l *stateLog) SetControllerState(state string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
}

func (l *stateLog) seen(state string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.states {
		if s == state {
			return true
		}
	}
	return false
}

func TestStateRecorder(t *testing.T) {
	rec := &stateLog{}
	c := newTestController(t, testConfig(600), WithStateRecorder(rec))
	startController(t, c)

	c.Start(Percent100)
	require.Eventually(t, func() bool { return rec.seen("running") }, waitFor, tick)
	c.Reset()
	require.Eventually(t, func() bool { return rec.seen("reset_requested") }, waitFor, tick)
	require.True(t, rec.seen("stopped"))
}

func TestSleepFollowsClock(t *testing.T) {
	mock := clock.NewMock()
	c := newTestController(t, testConfig(10), WithClock(mock))

	done := make(chan bool, 1)
	go func() { done <- c.sleep(context.Background(), 250*time.Millisecond, false) }()

	var ok bool
	require.Eventually(t, func() bool {
		mock.Add(50 * time.Millisecond)
		select {
		case ok = <-done:
			return true
		default:
			return false
		}
	}, waitFor, tick)
	require.True(t, ok)
}

func TestSleepStopsOnInterrupt(t *testing.T) {
	mock := clock.NewMock()
	c := newTestController(t, testConfig(10), WithClock(mock))
	c.Start(Percent100)
	c.Stop()

	done := make(chan struct{})
	go func() {
		c.sleep(context.Background(), MaxPacingSleep, true)
		close(done)
	}()

	start := mock.Now()
	require.Eventually(t, func() bool {
		mock.Add(SleepSlice)
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, waitFor, tick)
	require.Less(t, mock.Since(start), MaxPacingSleep)
}

func TestSleepHonoursContext(t *testing.T) {
	c := newTestController(t, testConfig(10), WithClock(clock.NewMock()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, c.sleep(ctx, MaxPacingSleep, false))
}

func TestRunReturnsContextError(t *testing.T) {
	c := newTestController(t, testConfig(10))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
