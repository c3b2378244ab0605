package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/tsch-simulator/internal/config"
	"github.com/signalsfoundry/tsch-simulator/internal/logging"
	"github.com/signalsfoundry/tsch-simulator/internal/observability"
	"github.com/signalsfoundry/tsch-simulator/internal/sim"
	"github.com/signalsfoundry/tsch-simulator/stats"
	"github.com/signalsfoundry/tsch-simulator/timectrl"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type apiHarness struct {
	srv *httptest.Server
	ctl *timectrl.Controller
}

func newHarness(t *testing.T, durationSec float64) *apiHarness {
	t.Helper()
	log := logging.FromSlog(slogt.New(t))

	cfg := config.Default()
	cfg.SimulationDurationSec = durationSec
	cfg.PositioningLayout = "Line"
	cfg.PositioningNumNodes = 3
	cfg.AppPacketPeriodSec = 0.5

	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	ctl := timectrl.NewController(cfg,
		timectrl.WithLogger(log),
		timectrl.WithSimOptions(sim.WithMetrics(collector)),
		timectrl.WithStateRecorder(collector),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ctl.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(newRouter(log, ctl, collector))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return ctl.Status().SimID != "" }, waitFor, tick)
	return &apiHarness{srv: srv, ctl: ctl}
}

func (h *apiHarness) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (h *apiHarness) status(t *testing.T) timectrl.Status {
	t.Helper()
	code, body := h.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	var st timectrl.Status
	require.NoError(t, json.Unmarshal(body, &st))
	return st
}

func TestStatusReportsStoppedController(t *testing.T) {
	h := newHarness(t, 10)
	st := h.status(t)
	require.Equal(t, "stopped", st.State)
	require.Zero(t, st.ASN)
	require.NotEmpty(t, st.SimID)
}

func TestStartRunsToEndAndPublishesResults(t *testing.T) {
	h := newHarness(t, 1)

	code, _ := h.do(t, http.MethodPost, "/start?speed=unlimited", "")
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool { return h.status(t).Runs == 1 }, waitFor, tick)

	code, body := h.do(t, http.MethodGet, "/results", "")
	require.Equal(t, http.StatusOK, code)
	var docs []map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &docs))
	require.Len(t, docs, 1)
	require.Contains(t, docs[0]["0"], stats.GlobalKey)

	code, body = h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "tschsim_runs_finished_total 1")
	require.Contains(t, string(body), `tschsim_controller_state{state="stopped"} 1`)
}

func TestStepAndStop(t *testing.T) {
	h := newHarness(t, 600)

	code, _ := h.do(t, http.MethodPost, "/start?speed=step", "")
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool {
		st := h.status(t)
		return st.State == "stopped" && st.ASN == 1
	}, waitFor, tick)

	h.do(t, http.MethodPost, "/start?speed=100", "")
	require.Eventually(t, func() bool { return h.status(t).ASN > 1 }, waitFor, tick)
	code, _ = h.do(t, http.MethodPost, "/stop", "")
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool { return h.status(t).State == "stopped" }, waitFor, tick)
}

func TestStartRejectsUnknownSpeed(t *testing.T) {
	h := newHarness(t, 10)
	code, _ := h.do(t, http.MethodPost, "/start?speed=warp", "")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "stopped", h.status(t).State)
}

func TestSetSpeed(t *testing.T) {
	h := newHarness(t, 10)

	code, _ := h.do(t, http.MethodPut, "/speed", "")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPut, "/speed?speed=1000", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1000%", h.status(t).Speed)
}

func TestConfigRoundTrip(t *testing.T) {
	h := newHarness(t, 10)

	code, body := h.do(t, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), `"POSITIONING_NUM_NODES":3`)

	code, _ = h.do(t, http.MethodPut, "/config", "POSITIONING_LAYOUT: Line\nPOSITIONING_NUM_NODES: 5\n")
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool {
		code, body := h.do(t, http.MethodGet, "/snapshot", "")
		if code != http.StatusOK {
			return false
		}
		var snap sim.Snapshot
		return json.Unmarshal(body, &snap) == nil && len(snap.Nodes) == 5
	}, waitFor, tick)

	code, _ = h.do(t, http.MethodPut, "/config", "POSITIONING_LAYOUT: Spiral\n")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestPositions(t *testing.T) {
	h := newHarness(t, 10)

	code, body := h.do(t, http.MethodPost, "/positions", `[{"ID":2,"X":4,"Y":5},{"ID":42,"X":1,"Y":1}]`)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"moved":1}`, string(body))

	code, body = h.do(t, http.MethodGet, "/snapshot", "")
	require.Equal(t, http.StatusOK, code)
	var snap sim.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Contains(t, snap.Nodes, sim.NodePosition{ID: 2, X: 4, Y: 5})

	code, _ = h.do(t, http.MethodPost, "/positions", `not json`)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestResetRebuilds(t *testing.T) {
	h := newHarness(t, 600)
	first := h.status(t).SimID

	h.do(t, http.MethodPost, "/start?speed=100", "")
	require.Eventually(t, func() bool { return h.status(t).ASN > 0 }, waitFor, tick)

	code, _ := h.do(t, http.MethodPost, "/reset", "")
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool {
		st := h.status(t)
		return st.SimID != first && st.ASN == 0
	}, waitFor, tick)
}

func TestUnknownRoutesAndMethods(t *testing.T) {
	h := newHarness(t, 10)

	code, _ := h.do(t, http.MethodGet, "/start", "")
	require.Equal(t, http.StatusMethodNotAllowed, code)
	code, _ = h.do(t, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestSnapshotWithoutSimulation(t *testing.T) {
	log := logging.FromSlog(slogt.New(t))
	cfg := config.Default()
	cfg.RoutingAlgorithm = "RPL"
	ctl := timectrl.NewController(cfg, timectrl.WithLogger(log))
	srv := httptest.NewServer(newRouter(log, ctl, nil))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/snapshot")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMetricsHandlerServesOnlyMetrics(t *testing.T) {
	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	srv := httptest.NewServer(metricsHandler(collector))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
