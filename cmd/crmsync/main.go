package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncforge/crmsync/internal/config"
	"github.com/syncforge/crmsync/internal/metrics"
	"github.com/syncforge/crmsync/internal/server"
	"github.com/syncforge/crmsync/pkg/crmsync"
)

func main() {
	var (
		configPath = flag.String("config", "crmsync.yaml", "path to the config file")
		once       = flag.Bool("once", false, "run one full sync cycle and exit")
		logLevel   = flag.String("log-level", "info", "zerolog level (trace, debug, info, warn, error)")
		pretty     = flag.Bool("pretty", false, "human-readable console log output")
	)
	flag.Parse()

	log := buildLogger(*logLevel, *pretty)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	svc, err := crmsync.NewService(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble sync service")
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		svc.RunOnce(ctx)
		return
	}

	if cfg.Server.MetricsAddr != "" {
		if err := metrics.EnablePrometheus(cfg.Server.MetricsAddr); err != nil {
			log.Fatal().Err(err).Msg("failed to start metrics endpoint")
		}
	}

	admin := server.New(cfg.Server.Addr, svc.Store(), svc.Orchestrator(), svc.Embedder(), svc.Index(), log)
	go func() {
		if err := admin.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("admin API stopped")
			stop()
		}
	}()

	log.Info().
		Str("database", cfg.Database.URL).
		Str("vector_backend", cfg.Vector.Backend).
		Int("interval_hours", cfg.IntervalHrs).
		Msg("sync daemon starting")

	err = svc.Run(ctx)
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("scheduler stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin API shutdown failed")
	}
	log.Info().Msg("sync daemon stopped")
}

func buildLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var w = os.Stderr
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
			Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
