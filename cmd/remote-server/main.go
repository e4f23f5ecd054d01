// Command remote-server runs a simulation under remote control. It serves
// the RemoteControl gRPC service, Prometheus metrics and the websocket event
// stream, and by default starts in single-step mode.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/crowd-simulator/internal/config"
	"github.com/signalsfoundry/crowd-simulator/internal/logging"
	"github.com/signalsfoundry/crowd-simulator/internal/observability"
	"github.com/signalsfoundry/crowd-simulator/internal/output"
	"github.com/signalsfoundry/crowd-simulator/internal/remote"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/controller"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/world"
)

// Config holds the server settings. Empty addresses fall back to the
// remote section of the simulation configuration.
type Config struct {
	ListenAddress string
	HTTPAddress   string
	SimConfigPath string
	SingleStep    bool
	LogLevel      string
	LogFormat     string
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.ListenAddress, "grpc-addr", "", "TCP address the RemoteControl gRPC server listens on (default remote.grpc_addr)")
	flag.StringVar(&cfg.HTTPAddress, "http-addr", "", "HTTP address for /metrics and /ws/events (default remote.http_addr)")
	flag.StringVar(&cfg.SimConfigPath, "config", "", "YAML file overriding the built-in simulation defaults")
	flag.BoolVar(&cfg.SingleStep, "single-step", true, "wait for Step commands before advancing")
	flag.StringVar(&cfg.LogLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL)")
	flag.StringVar(&cfg.LogFormat, "log-format", "", "json or text (default $LOG_FORMAT)")
	flag.Parse()

	log := logging.NewFromEnv(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, log, nil); err != nil {
		log.Error(ctx, "remote server failed", logging.Err(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. lis may be nil, in which case the gRPC
// listener is opened on the configured address.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	simCfg, err := config.Load(cfg.SimConfigPath)
	if err != nil {
		return err
	}
	grpcAddr := firstNonEmpty(cfg.ListenAddress, simCfg.Remote.GRPCAddr)
	httpAddr := firstNonEmpty(cfg.HTTPAddress, simCfg.Remote.HTTPAddr)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	} else {
		defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)
	}

	reg := prometheus.NewRegistry()
	simMetrics, err := observability.NewSimCollector(reg)
	if err != nil {
		return err
	}
	remoteMetrics, err := observability.NewRemoteCollector(reg)
	if err != nil {
		return err
	}

	w, err := world.Build(simCfg,
		world.WithLogger(log),
		world.WithMetrics(simMetrics),
		world.WithControllerOptions(controller.WithSingleStep(cfg.SingleStep || simCfg.Simulation.SingleStep)),
	)
	if err != nil {
		return err
	}
	traj, err := output.NewTrajectoryFile(simCfg.Output.Trajectories, simCfg.Output.Every)
	if err != nil {
		return err
	}
	if traj != nil {
		w.Controller.AddSnapshotSink(traj)
	}

	srv := remote.NewServer(w.Controller, log.With(logging.Component("remote")), remoteMetrics)
	hub := remote.NewHub(srv, w.Controller.RunID(), log.With(logging.Component("events")), remoteMetrics)
	w.Controller.AddRemoteListener(hub)
	w.Controller.AddSnapshotSink(hub)

	grpcServer := remote.NewGRPCServer(log, remoteMetrics)
	remote.RegisterRemoteControlServer(grpcServer, srv)

	if lis == nil {
		lis, err = net.Listen("tcp", grpcAddr)
		if err != nil {
			return err
		}
	}
	log.Info(ctx, "starting RemoteControl gRPC server",
		logging.String("addr", lis.Addr().String()),
		logging.String("run_id", w.Controller.RunID()),
	)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()

	httpSrv := serveHTTP(httpAddr, remoteMetrics, hub, log)

	runDone := make(chan error, 1)
	go func() { runDone <- w.Controller.Run(ctx) }()

	var runErr error
	select {
	case runErr = <-runDone:
		if runErr == nil {
			log.Info(ctx, "simulation finished; serving status until interrupted")
			<-ctx.Done()
		}
	case <-ctx.Done():
		runErr = <-runDone
	}

	log.Info(context.Background(), "shutting down remote server")
	grpcServer.GracefulStop()
	_ = hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func serveHTTP(addr string, metrics *observability.RemoteCollector, hub *remote.Hub, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ws/events", hub)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "http server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving metrics and event stream", logging.String("addr", addr))
	return srv
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
