package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/signalsfoundry/tsch-simulator/core"
	"github.com/signalsfoundry/tsch-simulator/internal/config"
	"github.com/signalsfoundry/tsch-simulator/internal/logging"
	"github.com/signalsfoundry/tsch-simulator/internal/observability"
	"github.com/signalsfoundry/tsch-simulator/timectrl"
)

// maxBodyBytes bounds config and position uploads.
const maxBodyBytes = 1 << 20

func metricsHandler(collector *observability.SimCollector) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", collector.Handler()).Methods("GET")
	return r
}

func newRouter(log logging.Logger, ctl *timectrl.Controller, collector *observability.SimCollector) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/status", handleStatus(log, ctl)).Methods("GET")
	r.HandleFunc("/start", handleStart(log, ctl)).Methods("POST")
	r.HandleFunc("/stop", handleStop(log, ctl)).Methods("POST")
	r.HandleFunc("/reset", handleReset(log, ctl)).Methods("POST")
	r.HandleFunc("/speed", handleSpeed(log, ctl)).Methods("PUT", "POST")

	r.HandleFunc("/config", handleGetConfig(log, ctl)).Methods("GET")
	r.HandleFunc("/config", handlePutConfig(log, ctl)).Methods("PUT")

	r.HandleFunc("/snapshot", handleSnapshot(log, ctl)).Methods("GET")
	r.HandleFunc("/positions", handlePositions(log, ctl)).Methods("POST")
	r.HandleFunc("/results", handleResults(log, ctl)).Methods("GET")

	r.Handle("/metrics", collector.Handler()).Methods("GET")

	return r
}

func handleStatus(log logging.Logger, ctl *timectrl.Controller) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		respond(w, req, log, ctl.Status())
	}
}

// handleStart starts at the speed named by the "speed" query parameter, or
// at the current speed without one.
func handleStart(log logging.Logger, ctl *timectrl.Controller) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		speed, err := requestedSpeed(req, ctl)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctl.Start(speed)
		respond(w, req, log, ctl.Status())
	}
}

func handleStop(log logging.Logger, ctl *timectrl.Controller) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		ctl.Stop()
		respond(w, req, log, ctl.Status())
	}
}

func handleReset(log logging.Logger, ctl *timectrl.Controller) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		ctl.Reset()
		respond(w, req, log, ctl.Status())
	}
}

func handleSpeed(log logging.Logger, ctl *timectrl.Controller) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("speed") == "" {
			http.Error(w, "missing speed parameter", http.StatusBadRequest)
			return
		}
		speed, err := requestedSpeed(req, ctl)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctl.SetSpeed(speed)
		respond(w, req, log, ctl.Status())
	}
}

func handleGetConfig(log logging.Logger, ctl *timectrl.Controller) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		respond(w, req, log, ctl.Config())
	}
}

// handlePutConfig accepts a YAML or JSON document; unset keys take their
// defaults.
func handlePutConfig(log logging.Logger, ctl *timectrl.Controller) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		data, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg, err := config.Parse(data)
		if err == nil {
			err = ctl.SetConfig(cfg)
		}
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, config.ErrInvalidConfig) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		respond(w, req, log, ctl.Config())
	}
}

func handleSnapshot(log logging.Logger, ctl *timectrl.Controller) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		snap, err := ctl.Snapshot()
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		respond(w, req, log, snap)
	}
}

type positionsResponse struct {
	Moved int `json:"moved"`
}

func handlePositions(log logging.Logger, ctl *timectrl.Controller) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		var updates []core.PositionUpdate
		if err := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes)).Decode(&updates); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		moved, err := ctl.UpdatePositions(req.Context(), updates)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		respond(w, req, log, positionsResponse{Moved: moved})
	}
}

func handleResults(log logging.Logger, ctl *timectrl.Controller) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		respond(w, req, log, ctl.Results())
	}
}

func requestedSpeed(req *http.Request, ctl *timectrl.Controller) (timectrl.Speed, error) {
	raw := req.URL.Query().Get("speed")
	if raw == "" {
		raw = ctl.Status().Speed
	}
	return timectrl.ParseSpeed(raw)
}

func statusFor(err error) int {
	if errors.Is(err, timectrl.ErrNoSimulation) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respond(w http.ResponseWriter, req *http.Request, log logging.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn(req.Context(), "failed to encode response",
			logging.String("path", req.URL.Path), logging.Err(err))
	}
}
