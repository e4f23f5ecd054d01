// Command simulator runs a crowd simulation headless from a YAML
// configuration and optionally writes agent trajectories to CSV.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/crowd-simulator/internal/config"
	"github.com/signalsfoundry/crowd-simulator/internal/logging"
	"github.com/signalsfoundry/crowd-simulator/internal/observability"
	"github.com/signalsfoundry/crowd-simulator/internal/output"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/controller"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/world"
)

// Options are the command-line settings.
type Options struct {
	ConfigPath   string
	DumpConfig   string
	Trajectories string
	Seed         int64
	LogLevel     string
	LogFormat    string
}

// Summary describes a finished run.
type Summary struct {
	RunID   string
	SimTime float64
	Steps   int
	Agents  int
	Rows    int
}

func main() {
	var opts Options
	flag.StringVar(&opts.ConfigPath, "config", "", "YAML file overriding the built-in defaults")
	flag.StringVar(&opts.DumpConfig, "dump-config", "", "write the effective configuration to this path and exit")
	flag.StringVar(&opts.Trajectories, "trajectories", "", "CSV path for agent trajectories (overrides output.trajectories)")
	flag.Int64Var(&opts.Seed, "seed", 0, "random seed (overrides simulation.seed when non-zero)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL)")
	flag.StringVar(&opts.LogFormat, "log-format", "", "json or text (default $LOG_FORMAT)")
	flag.Parse()

	log := logging.NewFromEnv(logging.Config{Level: opts.LogLevel, Format: opts.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, err := run(ctx, opts, log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
	if opts.DumpConfig == "" {
		log.Info(ctx, "simulation summary",
			logging.String("run_id", summary.RunID),
			logging.SimTime(summary.SimTime),
			logging.Int("steps", summary.Steps),
			logging.Int("agents_left", summary.Agents),
			logging.Int("trajectory_rows", summary.Rows),
		)
	}
}

func run(ctx context.Context, opts Options, log logging.Logger) (Summary, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return Summary{}, err
	}
	if opts.Trajectories != "" {
		cfg.Output.Trajectories = opts.Trajectories
	}
	if opts.Seed != 0 {
		cfg.Simulation.Seed = opts.Seed
	}
	if opts.DumpConfig != "" {
		if err := cfg.WriteYAML(opts.DumpConfig); err != nil {
			return Summary{}, err
		}
		log.Info(ctx, "wrote configuration", logging.String("path", opts.DumpConfig))
		return Summary{}, nil
	}

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	} else {
		defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)
	}

	metrics, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		return Summary{}, err
	}

	worldOpts := []world.Option{world.WithLogger(log), world.WithMetrics(metrics)}
	if cfg.Simulation.SingleStep {
		log.Warn(ctx, "single-step mode needs the remote server; running freely")
		worldOpts = append(worldOpts, world.WithControllerOptions(controller.WithSingleStep(false)))
	}
	w, err := world.Build(cfg, worldOpts...)
	if err != nil {
		return Summary{}, err
	}

	traj, err := output.NewTrajectoryFile(cfg.Output.Trajectories, cfg.Output.Every)
	if err != nil {
		return Summary{}, err
	}
	if traj != nil {
		w.Controller.AddSnapshotSink(traj)
	}

	err = w.Controller.Run(ctx)
	st := w.Controller.Status()
	return Summary{
		RunID:   st.RunID,
		SimTime: st.SimTime,
		Steps:   st.Step,
		Agents:  st.Agents,
		Rows:    traj.Rows(),
	}, err
}
