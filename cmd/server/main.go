package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nshruti113/threatdna/internal/api"
	"github.com/nshruti113/threatdna/internal/config"
	"github.com/nshruti113/threatdna/internal/metrics"
	"github.com/nshruti113/threatdna/internal/pipeline"
	"github.com/nshruti113/threatdna/internal/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("THREATDNA_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	logger.Info("Starting threatdna server", "workers", cfg.Workers, "addr", cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	p, err := pipeline.New(cfg, m, logger)
	if err != nil {
		logger.Error("Failed to create pipeline", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewReportStore(cfg.Server.ReportCacheSize)
	if err != nil {
		logger.Error("Failed to create report store", "error", err)
		os.Exit(1)
	}

	sinks := storage.NewFanout(m, logger, connectSinks(ctx, cfg.Server, logger)...)
	defer sinks.Close()

	server := api.NewServer(cfg, p, store, sinks, reg, logger)
	if err := server.Run(ctx); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

// connectSinks dials the configured alert sinks. A sink that cannot be reached is
// logged and skipped so the HTTP surface still comes up.
func connectSinks(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) []storage.AlertSink {
	var sinks []storage.AlertSink

	if cfg.RedisAddr != "" {
		client, err := storage.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel)
		if err != nil {
			logger.Warn("Redis sink disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			logger.Info("Publishing runs to Redis", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
			sinks = append(sinks, client)
		}
	}

	if cfg.NatsURL != "" {
		publisher, err := storage.NewNatsPublisher(cfg.NatsURL, cfg.NatsSubject, logger)
		if err != nil {
			logger.Warn("NATS sink disabled", "url", cfg.NatsURL, "error", err)
		} else {
			sinks = append(sinks, publisher)
		}
	}

	return sinks
}
