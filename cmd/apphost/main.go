package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/apphost/api"
	"github.com/tomyedwab/apphost/audit"
	"github.com/tomyedwab/apphost/config"
	"github.com/tomyedwab/apphost/lifecycle"
	"github.com/tomyedwab/apphost/manager"
	"github.com/tomyedwab/apphost/ports"
	"github.com/tomyedwab/apphost/postgres"
	"github.com/tomyedwab/apphost/processes"
	"github.com/tomyedwab/apphost/tempdir"
)

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Starting apphost", "incoming", cfg.Incoming.Dir, "listen", cfg.API.Listen)

	// Scratch space for extracted bundles. Wiped on startup; anything left
	// over belongs to a previous run.
	tempStore, err := tempdir.Setup(cfg.Scratch.Dir)
	if err != nil {
		logger.Error("Failed to set up scratch directory", "error", err)
		os.Exit(1)
	}

	registry, err := ports.NewRegistry(cfg.Ports.Min, cfg.Ports.Max)
	if err != nil {
		logger.Error("Failed to create port registry", "error", err)
		os.Exit(1)
	}

	db, err := sqlx.Connect("sqlite3", cfg.Database.Path)
	if err != nil {
		logger.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	trail, err := audit.NewTrail(db)
	if err != nil {
		logger.Error("Failed to initialize audit trail", "error", err)
		os.Exit(1)
	}

	var provisioner lifecycle.Provisioner
	if cfg.Postgres.AdminURL != "" {
		admin, pgHost, pgPort, err := postgres.Connect(cfg.Postgres.AdminURL)
		if err != nil {
			logger.Error("Failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer admin.Close()
		provisioner, err = postgres.NewProvisioner(admin, pgHost, pgPort, db, logger)
		if err != nil {
			logger.Error("Failed to initialize postgres provisioner", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("No postgres admin URL configured, database provisioning disabled")
	}

	supervisor := processes.NewSupervisor(processes.SupervisorConfig{
		Logger: logger,
	})

	m, err := manager.New(manager.Config{
		IncomingDir: cfg.Incoming.Dir,
		TempStore:   tempStore,
		Ports:       registry,
		Runner:      lifecycle.SupervisorRunner{Supervisor: supervisor},
		Prober: processes.Prober{
			Interval: cfg.Health.Interval.Std(),
			Timeout:  cfg.Health.Timeout.Std(),
		},
		Provisioner:  provisioner,
		Recorder:     trail,
		Logger:       logger,
		DrainGrace:   cfg.Retire.DrainGrace.Std(),
		CleanupGrace: cfg.Retire.CleanupGrace.Std(),
	})
	if err != nil {
		logger.Error("Failed to create app manager", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := &http.Server{
		Addr:    cfg.API.Listen,
		Handler: api.NewHandler(m, trail),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error stopping control API server", "error", err)
		}

		cancel()
	}()

	go func() {
		logger.Info("Control API listening", "address", cfg.API.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Control API server failed", "error", err)
			sigChan <- syscall.SIGTERM
		}
	}()

	// Blocks until the context is cancelled. App processes are not stopped
	// here; the next start wipes the scratch space and redeploys every
	// bundle from the incoming directory.
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("App manager exited", "error", err)
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}
