package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/tsch-simulator/internal/config"
	"github.com/signalsfoundry/tsch-simulator/internal/logging"
	"github.com/signalsfoundry/tsch-simulator/internal/observability"
	"github.com/signalsfoundry/tsch-simulator/internal/sim"
	"github.com/signalsfoundry/tsch-simulator/timectrl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log := logging.NewFromEnv()
	if err := newRootCmd(log, nil).ExecuteContext(ctx); err != nil {
		log.Error(ctx, "tschsim failed", logging.Err(err))
		os.Exit(1)
	}
}

// configFlags are the overrides shared by every subcommand.
type configFlags struct {
	path       string
	seed       uint64
	runID      int
	duration   float64
	layout     string
	nodes      int
	resultsDir string
	save       bool
}

func (f *configFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.path, "config", "c", "", "YAML or JSON configuration file")
	fs.Uint64Var(&f.seed, "seed", 0, "override SIMULATION_SEED")
	fs.IntVar(&f.runID, "run-id", 0, "override SIMULATION_RUN_ID")
	fs.Float64Var(&f.duration, "duration", 0, "override SIMULATION_DURATION_SEC")
	fs.StringVar(&f.layout, "layout", "", "override POSITIONING_LAYOUT")
	fs.IntVar(&f.nodes, "nodes", 0, "override POSITIONING_NUM_NODES")
	fs.StringVar(&f.resultsDir, "results-dir", "", "override RESULTS_DIR")
	fs.BoolVar(&f.save, "save", false, "write the statistics document to RESULTS_DIR")
}

// load reads the config file, or the defaults without one, and applies the
// flags the user actually set.
func (f *configFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if f.path != "" {
		var err error
		if cfg, err = config.Load(f.path); err != nil {
			return config.Config{}, err
		}
	}
	fs := cmd.Flags()
	if fs.Changed("seed") {
		cfg.SimulationSeed = f.seed
	}
	if fs.Changed("run-id") {
		cfg.SimulationRunID = f.runID
	}
	if fs.Changed("duration") {
		cfg.SimulationDurationSec = f.duration
	}
	if fs.Changed("layout") {
		cfg.PositioningLayout = f.layout
	}
	if fs.Changed("nodes") {
		cfg.PositioningNumNodes = f.nodes
	}
	if fs.Changed("results-dir") {
		cfg.ResultsDir = f.resultsDir
	}
	if fs.Changed("save") {
		cfg.SaveResults = f.save
	}
	return cfg, cfg.Validate()
}

// newRootCmd assembles the CLI. reg receives the metrics; nil selects the
// global Prometheus registry.
func newRootCmd(log logging.Logger, reg prometheus.Registerer) *cobra.Command {
	root := &cobra.Command{
		Use:           "tschsim",
		Short:         "Slot-level TSCH mesh network simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(log, reg),
		newLayoutCmd(log),
		newInteractiveCmd(log, reg),
	)
	return root
}

func newRunCmd(log logging.Logger, reg prometheus.Registerer) *cobra.Command {
	var (
		flags       configFlags
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation to completion and print its statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := flags.load(cmd)
			if err != nil {
				log.Error(ctx, "failed to load configuration", logging.Err(err))
				return err
			}

			shutdown, err := observability.InitTracing(ctx, tracingConfig(cfg), log)
			if err != nil {
				log.Error(ctx, "failed to initialise tracing", logging.Err(err))
				return err
			}
			defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdown, log)

			collector, err := observability.NewSimCollector(reg)
			if err != nil {
				log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
				return err
			}
			if metricsAddr != "" {
				srv := serve(metricsAddr, metricsHandler(collector), log)
				defer shutdownServer(srv)
			}

			s, err := sim.Build(ctx, cfg, sim.WithLogger(log), sim.WithMetrics(collector))
			if err != nil {
				log.Error(ctx, "failed to build simulation", logging.Err(err))
				return err
			}
			doc, err := s.Run(ctx)
			if doc != nil {
				if werr := writeJSON(cmd.OutOrStdout(), doc); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address while running")
	return cmd
}

func newLayoutCmd(log logging.Logger) *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Build the network and print node positions and links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := flags.load(cmd)
			if err != nil {
				log.Error(ctx, "failed to load configuration", logging.Err(err))
				return err
			}
			s, err := sim.Build(ctx, cfg, sim.WithLogger(log))
			if err != nil {
				log.Error(ctx, "failed to build simulation", logging.Err(err))
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s.Snapshot())
		},
	}
	flags.register(cmd)
	return cmd
}

func newInteractiveCmd(log logging.Logger, reg prometheus.Registerer) *cobra.Command {
	var (
		flags configFlags
		addr  string
		speed string
		start bool
	)
	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Serve an HTTP control surface over a paced simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := flags.load(cmd)
			if err != nil {
				log.Error(ctx, "failed to load configuration", logging.Err(err))
				return err
			}
			initial, err := timectrl.ParseSpeed(speed)
			if err != nil {
				return err
			}

			shutdown, err := observability.InitTracing(ctx, tracingConfig(cfg), log)
			if err != nil {
				log.Error(ctx, "failed to initialise tracing", logging.Err(err))
				return err
			}
			defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdown, log)

			collector, err := observability.NewSimCollector(reg)
			if err != nil {
				log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
				return err
			}

			ctl := timectrl.NewController(cfg,
				timectrl.WithLogger(log),
				timectrl.WithSimOptions(sim.WithMetrics(collector)),
				timectrl.WithStateRecorder(collector),
			)
			ctl.SetSpeed(initial)
			if start {
				ctl.Start(initial)
			}

			srv := serve(addr, newRouter(log, ctl, collector), log)
			defer shutdownServer(srv)

			log.Info(ctx, "interactive simulation ready", logging.String("addr", addr))
			if err := ctl.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			log.Info(ctx, "shutting down interactive simulation")
			return nil
		},
	}
	flags.register(cmd)
	fs := cmd.Flags()
	fs.StringVar(&addr, "addr", ":8080", "HTTP address for the control surface and /metrics")
	fs.StringVar(&speed, "speed", timectrl.Percent100.String(), "initial speed")
	fs.BoolVar(&start, "start", false, "start running immediately")
	return cmd
}

// tracingConfig reads the environment and tags the trace resource with the
// run identity.
func tracingConfig(cfg config.Config) observability.TracingConfig {
	tc := observability.TracingConfigFromEnv()
	tc.Attributes = map[string]string{
		"tschsim.seed":   strconv.FormatUint(cfg.SimulationSeed, 10),
		"tschsim.run_id": strconv.Itoa(cfg.SimulationRunID),
		"tschsim.layout": cfg.PositioningLayout,
	}
	return tc
}

func serve(addr string, handler http.Handler, log logging.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "HTTP server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving HTTP", logging.String("addr", addr))
	return srv
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
