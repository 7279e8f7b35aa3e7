package simulate

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/threatdna/internal/config"
	"github.com/nshruti113/threatdna/internal/detection"
	"github.com/nshruti113/threatdna/internal/ingest"
	"github.com/nshruti113/threatdna/internal/models"
	"github.com/nshruti113/threatdna/internal/pipeline"
)

// Tuesday 2024-03-12 09:00:00 UTC
var start = time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)

func runBatch(t *testing.T, events []Event, d Dialect, gzipped bool) *models.Report {
	t.Helper()

	var buf bytes.Buffer
	if gzipped {
		require.NoError(t, WriteGzipCSV(&buf, events, d))
	} else {
		require.NoError(t, WriteCSV(&buf, events, d))
	}

	table, err := ingest.Read(&buf)
	require.NoError(t, err)

	p, err := pipeline.New(config.Default(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	report, err := p.Run(context.Background(), table)
	require.NoError(t, err)
	return report
}

func alertsByRule(report *models.Report) map[string]int {
	counts := make(map[string]int)
	for _, a := range report.Alerts {
		counts[a.Rule]++
	}
	return counts
}

func TestGenerate_BackgroundIsQuiet(t *testing.T) {
	events := Generate(Options{Seed: 1, Start: start, Span: time.Hour, Background: 600})
	require.Len(t, events, 600)

	report := runBatch(t, events, DialectCanonical, false)
	assert.Empty(t, report.Alerts)
	assert.Equal(t, 600, report.Stats.Fingerprinted)
	assert.True(t, report.Consistent)
}

func TestGenerate_ScenariosTriggerRules(t *testing.T) {
	events := Generate(Options{Seed: 7, Start: start, Span: time.Hour, Background: 600, Scenarios: Scenarios()})

	counts := alertsByRule(runBatch(t, events, DialectCanonical, false))

	assert.Equal(t, 1, counts[detection.RuleFrequencySpike])
	assert.Equal(t, 1, counts[detection.RuleImpossibleTravel])
	assert.Equal(t, 1, counts[detection.RulePortScan])
	assert.Equal(t, 2, counts[detection.RuleUnknownPort])
	assert.Equal(t, 1, counts[detection.RuleLargePayload])
	assert.Equal(t, 1, counts[detection.RuleRepeatedSuspicious])
	assert.Equal(t, 2, counts[detection.RuleThreatIntelMatch])
	assert.Equal(t, 1, counts[detection.RuleForeignProdAccess])
	assert.Zero(t, counts[detection.RuleWeekendActivity])
	assert.Zero(t, counts[detection.RuleOddHourActivity])
}

func TestGenerate_Deterministic(t *testing.T) {
	opts := Options{Seed: 42, Start: start, Background: 100, Scenarios: Scenarios()}
	a, b := Generate(opts), Generate(opts)
	require.Equal(t, len(a), len(b))
	for i := range a {
		a[i].ID, b[i].ID = "", ""
	}
	assert.Equal(t, a, b)
}

func TestDialects_MapEveryField(t *testing.T) {
	events := Generate(Options{Seed: 3, Start: start, Background: 60, Scenarios: []Scenario{ThreatIntel}})

	for _, d := range Dialects() {
		t.Run(string(d), func(t *testing.T) {
			report := runBatch(t, events, d, d == DialectVendor)
			assert.Empty(t, report.Unmapped)
			assert.Equal(t, 2, alertsByRule(report)[detection.RuleThreatIntelMatch])
		})
	}
}

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario("port-scan")
	require.NoError(t, err)
	assert.Equal(t, PortScan, s)

	_, err = ParseScenario("smurf")
	assert.Error(t, err)

	_, err = Dialect("klingon").Header()
	assert.Error(t, err)
}
