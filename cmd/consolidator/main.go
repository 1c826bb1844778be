// Package main is the entry point for the consolidation service.
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

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/fleet"
	"github.com/limiquantix/consolidator/internal/repository/etcd"
	"github.com/limiquantix/consolidator/internal/repository/postgres"
	"github.com/limiquantix/consolidator/internal/repository/redis"
	"github.com/limiquantix/consolidator/internal/server"
	"github.com/limiquantix/consolidator/internal/simulation"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	simulate := flag.Bool("simulate", false, "Replay the configured workload and write the report")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		println("Consolidator")
		println("Version:", version)
		println("Commit:", commit)
		println("Build Date:", buildDate)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		println("Failed to load config:", err.Error())
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting consolidator",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Bool("simulate", *simulate),
	)

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal", zap.String("signal", sig.String()))
		cancel()
	}()

	f, err := buildFleet(cfg.Fleet, logger)
	if err != nil {
		logger.Fatal("Invalid fleet", zap.Error(err))
	}

	if *simulate {
		if err := runSimulation(ctx, cfg, f, logger); err != nil {
			logger.Fatal("Simulation failed", zap.Error(err))
		}
		logger.Info("Goodbye!")
		return
	}

	opts, err := connectBackends(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect backends", zap.Error(err))
	}

	srv, err := server.New(cfg, f, logger, opts...)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Goodbye!")
}

// buildFleet registers the configured machines.
func buildFleet(cfg config.FleetConfig, logger *zap.Logger) (*fleet.Fleet, error) {
	f := fleet.New(logger)
	for _, spec := range cfg.Machines {
		if _, err := f.AddMachine(spec); err != nil {
			return nil, err
		}
	}
	logger.Info("Fleet loaded", zap.Int("machines", len(cfg.Machines)))
	return f, nil
}

// connectBackends connects the optional PostgreSQL, Redis and etcd backends.
func connectBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]server.ServerOption, error) {
	var opts []server.ServerOption

	if cfg.Database.Enabled {
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithPostgreSQL(db))
	}

	if cfg.Redis.Enabled {
		cache, err := redis.NewCache(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithRedis(cache))
	}

	if cfg.Etcd.Enabled {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithEtcd(client))
	}

	return opts, nil
}

// runSimulation replays the configured workload and writes the report.
func runSimulation(ctx context.Context, cfg *config.Config, f *fleet.Fleet, logger *zap.Logger) error {
	requests := make([]domain.Request, 0, len(cfg.Workload.Requests))
	for i, spec := range cfg.Workload.Requests {
		req, err := domain.NewRequest(spec)
		if err != nil {
			return fmt.Errorf("workload request %d: %w", i, err)
		}
		requests = append(requests, req)
	}

	// The server wires the scheduler and trigger; its HTTP side stays idle.
	srv, err := server.New(cfg, f, logger)
	if err != nil {
		return err
	}

	sim, err := simulation.New(f, srv.Engine(), srv.Engine(), cfg.Simulation, logger)
	if err != nil {
		return err
	}

	result, err := sim.Run(ctx, requests)
	if err != nil {
		return err
	}

	if err := result.Stats.WriteProperties(cfg.Simulation.ReportPath); err != nil {
		return err
	}
	logger.Info("Report written",
		zap.String("path", cfg.Simulation.ReportPath),
		zap.Int("rejected", result.Rejected),
	)
	return nil
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output != "" {
		zapConfig.OutputPaths = []string{cfg.Output}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
