// Package main — cmd/honeytrap/main.go
//
// HoneyTrap gateway entrypoint.
//
// Startup sequence:
//  1. Load and validate config from -config (default /etc/honeytrap/config.yaml).
//  2. Initialise structured logger (zap).
//  3. Open the bbolt-backed store; seed default ports/users on first run.
//  4. Start the Prometheus metrics server (loopback only).
//  5. Build the policy engine and sync the port visibility supervisor
//     against the current inactive-port set.
//  6. Register command handlers and start the control and data channel
//     acceptors.
//  7. Start the supervisor loop (idle + inactivity sweeps).
//  8. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel the root context (propagates to every goroutine).
//  2. Stop the port visibility supervisor's RST workers.
//  3. Close the message server's listeners and connections.
//  4. Close the store.
//  5. Flush the logger.
//
// On config validation failure or store open failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/honeytrap/gateway/internal/config"
	"github.com/honeytrap/gateway/internal/handlers"
	"github.com/honeytrap/gateway/internal/msgserver"
	"github.com/honeytrap/gateway/internal/observability"
	"github.com/honeytrap/gateway/internal/policy"
	"github.com/honeytrap/gateway/internal/portvis"
	"github.com/honeytrap/gateway/internal/store"
	"github.com/honeytrap/gateway/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "/etc/honeytrap/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("honeytrap %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("HoneyTrap gateway starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		log.Fatal("store open failed", zap.Error(err))
	}
	defer st.Close()

	if err := store.EnsureSeeded(st); err != nil {
		log.Fatal("store seed failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	engine := policy.NewEngine(st, cfg.Policy, log, metrics)

	vis := portvis.New(log, metrics, cfg.PortVis.PollInterval)
	defer vis.Close()
	syncPortVisibility(log, engine, vis)

	srv := msgserver.NewServer(log, metrics, cfg.Server.IdleTimeout, cfg.Server.BindRetries, cfg.Server.MaxConcurrentConns)
	defer srv.Close()
	(&handlers.Set{Policy: engine, PortVis: vis}).Register(srv)

	go func() {
		if err := srv.ListenAndServe(ctx, msgserver.ChannelControl, cfg.Server.ControlPort); err != nil {
			log.Error("control channel stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := srv.ListenAndServe(ctx, msgserver.ChannelData, cfg.Server.DataPort); err != nil {
			log.Error("data channel stopped", zap.Error(err))
		}
	}()

	loop := supervisor.New(log, metrics, srv, engine, cfg.Supervisor.SweepInterval, cfg.Supervisor.PollGranularity)
	go loop.Run(ctx)

	log.Info("HoneyTrap gateway ready",
		zap.Int("control_port", cfg.Server.ControlPort),
		zap.Int("data_port", cfg.Server.DataPort),
		zap.String("metrics_addr", cfg.Observability.MetricsAddr),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	vis.Close()
	srv.Close()
}

// syncPortVisibility starts RST-on-accept workers for every port the
// store currently records as inactive, so the supervisor reflects
// persisted state from the moment the gateway accepts connections.
func syncPortVisibility(log *zap.Logger, engine *policy.Engine, vis *portvis.Supervisor) {
	ports, err := engine.ListPorts()
	if err != nil {
		log.Error("port visibility: initial sync failed", zap.Error(err))
		return
	}
	var inactive []int
	for _, p := range ports {
		if p.Status == store.PortStatusInactive {
			inactive = append(inactive, p.Port)
		}
	}
	vis.SyncAll(inactive)
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
