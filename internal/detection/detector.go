// Package detection runs the battery of behavioural rules over one batch of canonical
// traffic records.
//
// Rules are independent: each reads the time-sorted record slice, keeps its own windows
// and returns its own alert slice. The engine runs them concurrently and merges the
// results in a fixed order, so the output does not depend on scheduling.
package detection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nshruti113/threatdna/internal/config"
	"github.com/nshruti113/threatdna/internal/models"
)

// Rule is a single detection rule
type Rule interface {
	Name() string
	// Requires lists the canonical fields the rule needs mapped to run at all
	Requires() models.FieldSet
	// Evaluate returns the rule's alerts and the number of records it had to skip
	// because a required value was absent or malformed
	Evaluate(records []models.TrafficRecord) ([]models.Alert, int)
}

// Result is the merged output of one engine run
type Result struct {
	Alerts []models.Alert
	Rules  []models.RuleResult
}

// Engine evaluates an ordered list of rules
type Engine struct {
	rules    []Rule
	disabled map[string]bool
	order    string
	workers  int
	logger   *slog.Logger
}

// DefaultRules builds the standard rule battery from configuration, in reporting order
func DefaultRules(cfg config.RulesConfig) []Rule {
	reportAll := cfg.ReportMode == config.ReportAll

	return []Rule{
		&FrequencySpike{Window: cfg.FrequencyWindow, Threshold: cfg.FrequencyThreshold, ReportAll: reportAll},
		NewForeignProdAccess(cfg.HomeCountry, cfg.ProdKeyword),
		&ImpossibleTravel{Window: cfg.TravelWindow, ReportAll: reportAll},
		&WeekendActivity{},
		NewUnknownPort(cfg.StandardPorts),
		&LargePayload{Limit: cfg.LargePayloadBytes},
		NewThreatIntelMatch(cfg.Blocklist),
		&PortScan{Bucket: cfg.PortScanBucket, Threshold: cfg.PortScanThreshold},
		&OddHourActivity{Start: cfg.OddHourStart, End: cfg.OddHourEnd},
		NewRepeatedSuspicious(cfg.SuspiciousKeyword, cfg.SuspiciousBucket, cfg.SuspiciousThreshold),
	}
}

// NewEngine creates an engine with the default rule battery
func NewEngine(cfg config.RulesConfig, workers int, logger *slog.Logger) (*Engine, error) {
	return NewEngineWithRules(DefaultRules(cfg), cfg.Disabled, cfg.AlertOrder, workers, logger)
}

// NewEngineWithRules creates an engine over an explicit rule list
func NewEngineWithRules(rules []Rule, disabled []string, order string, workers int, logger *slog.Logger) (*Engine, error) {
	known := make(map[string]bool, len(rules))
	for _, r := range rules {
		known[r.Name()] = true
	}

	off := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		if !known[name] {
			return nil, fmt.Errorf("cannot disable unknown rule %q", name)
		}
		off[name] = true
	}

	if workers < 1 {
		workers = 1
	}
	if order == "" {
		order = config.OrderByRule
	}

	return &Engine{
		rules:    rules,
		disabled: off,
		order:    order,
		workers:  workers,
		logger:   logger,
	}, nil
}

// Rules returns the engine's rules in reporting order
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Evaluate runs every enabled rule whose required fields are in available. Records must
// all carry a valid access time; they are sorted by time first if needed.
func (e *Engine) Evaluate(ctx context.Context, records []models.TrafficRecord, available models.FieldSet) (*Result, error) {
	if !sort.SliceIsSorted(records, func(i, j int) bool {
		return records[i].AccessTime.Before(records[j].AccessTime)
	}) {
		sorted := make([]models.TrafficRecord, len(records))
		copy(sorted, records)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].AccessTime.Before(sorted[j].AccessTime)
		})
		records = sorted
	}

	results := make([]models.RuleResult, len(e.rules))
	outputs := make([][]models.Alert, len(e.rules))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, rule := range e.rules {
		results[i] = models.RuleResult{Rule: rule.Name()}

		if e.disabled[rule.Name()] {
			results[i].Disabled = true
			continue
		}
		if missing := available.Missing(rule.Requires()); len(missing) > 0 {
			results[i].Disabled = true
			for _, f := range missing {
				results[i].MissingFields = append(results[i].MissingFields, f.String())
			}
			e.logger.Warn("Rule disabled, required columns unmapped",
				"rule", rule.Name(),
				"missing", results[i].MissingFields)
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			alerts, skipped := rule.Evaluate(records)
			outputs[i] = alerts
			results[i].Alerts = len(alerts)
			results[i].Skipped = skipped
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rule evaluation aborted: %w", err)
	}

	return &Result{
		Alerts: e.merge(outputs),
		Rules:  results,
	}, nil
}

// merge concatenates rule outputs in rule order, optionally re-sorting by time
func (e *Engine) merge(outputs [][]models.Alert) []models.Alert {
	total := 0
	for _, out := range outputs {
		total += len(out)
	}

	alerts := make([]models.Alert, 0, total)
	for _, out := range outputs {
		alerts = append(alerts, out...)
	}

	if e.order == config.OrderByTime {
		sort.SliceStable(alerts, func(i, j int) bool {
			if !alerts[i].Timestamp.Equal(alerts[j].Timestamp) {
				return alerts[i].Timestamp.Before(alerts[j].Timestamp)
			}
			return alerts[i].Rule < alerts[j].Rule
		})
	}

	return alerts
}
