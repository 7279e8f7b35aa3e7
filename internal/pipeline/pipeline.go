// Package pipeline runs one batch of traffic records through header mapping,
// canonicalization, fingerprinting, rule evaluation and pattern clustering.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nshruti113/threatdna/internal/config"
	"github.com/nshruti113/threatdna/internal/detection"
	"github.com/nshruti113/threatdna/internal/fingerprint"
	"github.com/nshruti113/threatdna/internal/ingest"
	"github.com/nshruti113/threatdna/internal/metrics"
	"github.com/nshruti113/threatdna/internal/models"
	"github.com/nshruti113/threatdna/internal/patterns"
	"github.com/nshruti113/threatdna/internal/schema"
)

// minShard keeps small tables on a single goroutine
const minShard = 512

// Pipeline holds the stages of a batch run. It is safe for concurrent use.
type Pipeline struct {
	normalizer *schema.Normalizer
	engine     *detection.Engine
	aggregator *patterns.Aggregator
	metrics    *metrics.Metrics
	logger     *slog.Logger
	workers    int
}

// New wires the stages from configuration
func New(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Pipeline, error) {
	var scorer schema.Scorer
	if cfg.Schema.FuzzyMatch {
		scorer = schema.SequenceScorer{}
	}

	normalizer, err := schema.NewNormalizer(cfg.Schema.Aliases, scorer, cfg.Schema.FuzzyThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to build header normalizer: %w", err)
	}

	engine, err := detection.NewEngine(cfg.Rules, cfg.Workers, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule engine: %w", err)
	}

	if m == nil {
		m = metrics.Nop()
	}

	return &Pipeline{
		normalizer: normalizer,
		engine:     engine,
		aggregator: patterns.NewAggregator(patterns.ThresholdsFrom(cfg.Patterns)),
		metrics:    m,
		logger:     logger,
		workers:    max(cfg.Workers, 1),
	}, nil
}

type staged struct {
	record models.TrafficRecord
	tagged models.FingerprintedRecord
	ok     bool
}

// Run processes one table. Per-record problems are counted in the report; only
// cancellation aborts the run.
func (p *Pipeline) Run(ctx context.Context, table *ingest.Table) (*models.Report, error) {
	started := time.Now()
	runID := uuid.New().String()
	logger := p.logger.With("run_id", runID)

	report, err := p.run(ctx, runID, logger, table)
	elapsed := time.Since(started)
	p.metrics.RunDuration.Observe(elapsed.Seconds())

	if err != nil {
		p.metrics.RunsTotal.WithLabelValues("error").Inc()
		logger.Error("Run failed", "error", err)
		return nil, err
	}

	report.StartedAt = started.UTC()
	report.Duration = elapsed
	p.record(report)

	logger.Info("Run completed",
		"rows", report.Stats.RowsRead,
		"alerts", len(report.Alerts),
		"patterns", len(report.Patterns),
		"duration", elapsed,
	)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, runID string, logger *slog.Logger, table *ingest.Table) (*models.Report, error) {
	mapping := p.normalizer.Map(table.Header)

	var unmapped []string
	for _, f := range mapping.Unmapped() {
		unmapped = append(unmapped, f.String())
	}
	if len(unmapped) > 0 {
		logger.Warn("Canonical fields without a source column", "fields", unmapped)
	}
	for f := range mapping.Fuzzy {
		logger.Info("Field matched by similarity", "field", f.String(), "header", mapping.Columns[f])
	}

	stage, err := p.canonicalize(ctx, table, mapping)
	if err != nil {
		return nil, err
	}

	stats := models.Stats{RowsRead: table.Len()}
	timed := make([]models.TrafficRecord, 0, len(stage))
	tagged := make([]models.FingerprintedRecord, 0, len(stage))

	for i := range stage {
		rec := &stage[i].record
		for _, f := range models.Fields() {
			if rec.Invalid.Has(f) {
				if stats.InvalidFields == nil {
					stats.InvalidFields = make(map[string]int)
				}
				stats.InvalidFields[f.String()]++
			}
		}

		if rec.Has(models.FieldAccessTime) {
			timed = append(timed, *rec)
		} else {
			stats.TimeDropped++
		}

		if stage[i].ok {
			tagged = append(tagged, stage[i].tagged)
		} else {
			stats.ClusterExcluded++
		}
	}
	stats.Evaluated = len(timed)
	stats.Fingerprinted = len(tagged)

	if stats.TimeDropped > 0 {
		logger.Warn("Records dropped for missing or malformed access time", "count", stats.TimeDropped)
	}
	if stats.ClusterExcluded > 0 {
		logger.Warn("Records excluded from clustering", "count", stats.ClusterExcluded)
	}

	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].AccessTime.Before(timed[j].AccessTime)
	})

	evaluated, err := p.engine.Evaluate(ctx, timed, mapping.Available())
	if err != nil {
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}

	clusters := p.aggregator.Aggregate(tagged)
	for _, v := range clusters.Violations {
		logger.Error("Fingerprint hashed to more than one DNA", "fingerprint", v.Fingerprint, "dnas", v.DNAs)
	}

	alerts := evaluated.Alerts
	if alerts == nil {
		alerts = []models.Alert{}
	}
	pats := clusters.Patterns
	if pats == nil {
		pats = []models.Pattern{}
	}

	return &models.Report{
		RunID:      runID,
		Mapping:    mapping.Named(),
		Unmapped:   unmapped,
		Stats:      stats,
		Rules:      evaluated.Rules,
		Alerts:     alerts,
		Patterns:   pats,
		Consistent: clusters.Consistent,
		Violations: clusters.Violations,
		Records:    tagged,
	}, nil
}

// canonicalize converts and fingerprints every row. Shards own disjoint index ranges of
// the output slice.
func (p *Pipeline) canonicalize(ctx context.Context, table *ingest.Table, mapping schema.Mapping) ([]staged, error) {
	n := table.Len()
	out := make([]staged, n)

	shard := max((n+p.workers-1)/p.workers, minShard)

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += shard {
		end := min(start+shard, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				rec := fingerprint.Canonicalize(i, table.Record(i), mapping)
				out[i].record = rec
				if tagged, err := fingerprint.Tag(rec); err == nil {
					out[i].tagged = tagged
					out[i].ok = true
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("canonicalization aborted: %w", err)
	}
	return out, nil
}

func (p *Pipeline) record(report *models.Report) {
	m := p.metrics
	m.RunsTotal.WithLabelValues("ok").Inc()
	m.RowsTotal.Add(float64(report.Stats.RowsRead))
	m.RecordsDropped.WithLabelValues("rules").Add(float64(report.Stats.TimeDropped))
	m.RecordsDropped.WithLabelValues("patterns").Add(float64(report.Stats.ClusterExcluded))
	for field, n := range report.Stats.InvalidFields {
		m.InvalidFields.WithLabelValues(field).Add(float64(n))
	}
	for _, r := range report.Rules {
		m.AlertsTotal.WithLabelValues(r.Rule).Add(float64(r.Alerts))
		m.RuleSkipped.WithLabelValues(r.Rule).Add(float64(r.Skipped))
	}
	m.PatternsLast.Set(float64(len(report.Patterns)))
	m.ConsistencyErrors.Add(float64(len(report.Violations)))
}
