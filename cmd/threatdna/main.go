package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nshruti113/threatdna/internal/config"
	"github.com/nshruti113/threatdna/internal/export"
	"github.com/nshruti113/threatdna/internal/ingest"
	"github.com/nshruti113/threatdna/internal/metrics"
	"github.com/nshruti113/threatdna/internal/models"
	"github.com/nshruti113/threatdna/internal/pipeline"
)

// Exit codes
const (
	exitOK           = 0
	exitFailure      = 1
	exitUsage        = 2
	exitInconsistent = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("threatdna", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", os.Getenv("THREATDNA_CONFIG"), "path to YAML config file")
	input := fs.String("input", "", "traffic CSV file (plain, gzip or zstd)")
	outDir := fs.String("out", ".", "directory for alerts.csv, patterns.csv and records.csv")
	workers := fs.Int("workers", 0, "override worker count")
	noRecords := fs.Bool("no-records", false, "skip records.csv")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *input == "" {
		fmt.Fprintln(stderr, "threatdna: -input is required")
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "threatdna: %v\n", err)
		return exitUsage
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	logger := cfg.Log.NewLogger(stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := process(ctx, cfg, logger, *input)
	if err != nil {
		logger.Error("Run aborted, no output written", "input", *input, "error", err)
		return exitFailure
	}

	if err := write(cfg, report, *outDir, !*noRecords); err != nil {
		logger.Error("Failed to write outputs", "dir", *outDir, "error", err)
		return exitFailure
	}

	logger.Info("Outputs written",
		"dir", *outDir,
		"alerts", len(report.Alerts),
		"patterns", len(report.Patterns),
		"time_dropped", report.Stats.TimeDropped,
		"cluster_excluded", report.Stats.ClusterExcluded,
	)

	if !report.Consistent {
		logger.Error("Fingerprint consistency check failed", "violations", len(report.Violations))
		return exitInconsistent
	}
	return exitOK
}

func process(ctx context.Context, cfg *config.Config, logger *slog.Logger, input string) (*models.Report, error) {
	table, err := ingest.ReadFile(input)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(cfg, metrics.Nop(), logger)
	if err != nil {
		return nil, err
	}

	report, err := p.Run(ctx, table)
	if err != nil {
		return nil, err
	}
	report.Source = input
	return report, nil
}

// write renders every output before any of them replaces what is in dir
func write(cfg *config.Config, report *models.Report, dir string, records bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	files := []export.File{
		{Path: filepath.Join(dir, "alerts.csv"), Render: func(w io.Writer) error {
			return export.WriteAlerts(w, report.Alerts)
		}},
		{Path: filepath.Join(dir, "patterns.csv"), Render: func(w io.Writer) error {
			return export.WritePatterns(w, report.Patterns, cfg.Patterns.IncludeThreatLevel)
		}},
	}
	if records {
		files = append(files, export.File{Path: filepath.Join(dir, "records.csv"), Render: func(w io.Writer) error {
			return export.WriteRecords(w, report.Records)
		}})
	}

	return export.WriteFilesAtomic(files...)
}
