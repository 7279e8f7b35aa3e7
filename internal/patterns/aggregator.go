package patterns

import (
	"sort"

	"github.com/nshruti113/threatdna/internal/config"
	"github.com/nshruti113/threatdna/internal/models"
)

// Thresholds are the inclusive lower bounds of each threat level
type Thresholds struct {
	High   int
	Medium int
	Low    int
}

// ThresholdsFrom reads the thresholds from the patterns config section
func ThresholdsFrom(cfg config.PatternsConfig) Thresholds {
	return Thresholds{High: cfg.High, Medium: cfg.Medium, Low: cfg.Low}
}

// Level grades a cluster size
func (t Thresholds) Level(count int) models.ThreatLevel {
	switch {
	case count >= t.High:
		return models.ThreatHigh
	case count >= t.Medium:
		return models.ThreatMedium
	case count >= t.Low:
		return models.ThreatLow
	default:
		return models.ThreatRare
	}
}

// Result is the outcome of clustering one batch
type Result struct {
	Patterns   []models.Pattern
	Consistent bool
	Violations []models.Inconsistency
}

// Aggregator clusters fingerprinted records by DNA
type Aggregator struct {
	thresholds Thresholds
}

func NewAggregator(t Thresholds) *Aggregator {
	return &Aggregator{thresholds: t}
}

// Aggregate groups records by DNA, grades each group and checks that no fingerprint
// produced more than one DNA. Patterns are sorted by count, largest first; equal counts
// keep first-seen order.
func (a *Aggregator) Aggregate(records []models.FingerprintedRecord) *Result {
	var patterns []models.Pattern
	index := make(map[string]int)

	for _, rec := range records {
		i, ok := index[rec.DNA]
		if !ok {
			index[rec.DNA] = len(patterns)
			patterns = append(patterns, models.Pattern{
				Behaviour: rec.Fingerprint,
				DNA:       rec.DNA,
			})
			i = len(patterns) - 1
		}
		patterns[i].Count++
	}

	for i := range patterns {
		patterns[i].ThreatLevel = a.thresholds.Level(patterns[i].Count)
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Count > patterns[j].Count
	})

	violations := Validate(records)

	return &Result{
		Patterns:   patterns,
		Consistent: len(violations) == 0,
		Violations: violations,
	}
}

// Validate groups records by fingerprint and reports every fingerprint that maps to more
// than one DNA, in first-seen order.
func Validate(records []models.FingerprintedRecord) []models.Inconsistency {
	var order []string
	dnas := make(map[string][]string)

	for _, rec := range records {
		seen, ok := dnas[rec.Fingerprint]
		if !ok {
			order = append(order, rec.Fingerprint)
		}
		if !contains(seen, rec.DNA) {
			dnas[rec.Fingerprint] = append(seen, rec.DNA)
		}
	}

	var violations []models.Inconsistency
	for _, fp := range order {
		if len(dnas[fp]) > 1 {
			violations = append(violations, models.Inconsistency{
				Fingerprint: fp,
				DNAs:        dnas[fp],
			})
		}
	}
	return violations
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
