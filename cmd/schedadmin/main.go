package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schedadmin/schedadmin/internal/api"
	"github.com/schedadmin/schedadmin/internal/audit"
	"github.com/schedadmin/schedadmin/internal/config"
	"github.com/schedadmin/schedadmin/internal/health"
	"github.com/schedadmin/schedadmin/internal/metrics"
	"github.com/schedadmin/schedadmin/internal/registry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/schedadmin.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)
	slog.Info("configuration loaded", "path", *configPath, "schedulers", len(cfg.Schedulers))

	// Initialize components
	m := metrics.New()
	store, err := audit.Open(audit.Config{
		Driver: cfg.Audit.Driver,
		Path:   cfg.Audit.Path,
		Retain: cfg.Audit.Retain,
	})
	if err != nil {
		slog.Error("failed to open audit log", "driver", cfg.Audit.Driver, "err", err)
		os.Exit(1)
	}
	reg := registry.New(cfg, registry.NewFactory(m, store))
	hc := health.NewChecker(reg, m, cfg.Health)
	reg.SetRemoveHook(hc.RemoveTarget)

	hc.Start()

	apiServer := api.NewServer(reg, hc, m, store, cfg.Listen)
	if err := apiServer.Start(cfg.Listen.APIPort); err != nil {
		slog.Error("failed to start admin server", "err", err)
		os.Exit(1)
	}

	// Scheduler targets and panel defaults reload in place; listen, health
	// and audit settings need a restart.
	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		slog.Info("reloading configuration...")
		reg.Reload(newCfg)
	})
	if err != nil {
		slog.Warn("config hot-reload not available", "err", err)
	}

	slog.Info("schedadmin ready", "api_port", cfg.Listen.APIPort, "schedulers", reg.List())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down...", "signal", sig)

	done := make(chan struct{})
	go func() {
		if configWatcher != nil {
			configWatcher.Stop()
		}
		apiServer.Stop()
		hc.Stop()
		reg.Close()
		if store != nil {
			store.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		slog.Info("schedadmin stopped")
	case <-time.After(shutdownTimeout):
		slog.Error("shutdown timed out, forcing exit", "timeout", shutdownTimeout)
		os.Exit(1)
	}
}

func setupLogging(lc config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(lc.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
