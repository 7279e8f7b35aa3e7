package models

import "time"

// RuleResult summarizes one rule's contribution to a run
type RuleResult struct {
	Rule          string   `json:"rule"`
	Alerts        int      `json:"alerts"`
	Skipped       int      `json:"skipped"`
	Disabled      bool     `json:"disabled"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// Stats counts rows and the records each stage had to exclude
type Stats struct {
	RowsRead        int            `json:"rows_read"`
	Evaluated       int            `json:"evaluated"`
	TimeDropped     int            `json:"time_dropped"`
	Fingerprinted   int            `json:"fingerprinted"`
	ClusterExcluded int            `json:"cluster_excluded"`
	InvalidFields   map[string]int `json:"invalid_fields,omitempty"`
}

// Report is the complete output of one batch run
type Report struct {
	RunID      string                `json:"run_id"`
	Source     string                `json:"source,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	Duration   time.Duration         `json:"duration_ns"`
	Mapping    map[string]string     `json:"mapping"`
	Unmapped   []string              `json:"unmapped,omitempty"`
	Stats      Stats                 `json:"stats"`
	Rules      []RuleResult          `json:"rules"`
	Alerts     []Alert               `json:"alerts"`
	Patterns   []Pattern             `json:"patterns"`
	Consistent bool                  `json:"consistent"`
	Violations []Inconsistency       `json:"violations,omitempty"`
	Records    []FingerprintedRecord `json:"-"`
}

// Summary is the lightweight view of a report returned by listings
type Summary struct {
	RunID      string        `json:"run_id"`
	Source     string        `json:"source,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Unmapped   []string      `json:"unmapped,omitempty"`
	Stats      Stats         `json:"stats"`
	Rules      []RuleResult  `json:"rules"`
	AlertCount int           `json:"alert_count"`
	Patterns   int           `json:"pattern_count"`
	Consistent bool          `json:"consistent"`
}

// Summarize drops the per-record payloads of a report
func (r *Report) Summarize() Summary {
	return Summary{
		RunID:      r.RunID,
		Source:     r.Source,
		StartedAt:  r.StartedAt,
		Duration:   r.Duration,
		Unmapped:   r.Unmapped,
		Stats:      r.Stats,
		Rules:      r.Rules,
		AlertCount: len(r.Alerts),
		Patterns:   len(r.Patterns),
		Consistent: r.Consistent,
	}
}
