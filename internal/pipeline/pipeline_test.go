package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/threatdna/internal/config"
	"github.com/nshruti113/threatdna/internal/detection"
	"github.com/nshruti113/threatdna/internal/fingerprint"
	"github.com/nshruti113/threatdna/internal/ingest"
	"github.com/nshruti113/threatdna/internal/metrics"
)

const batch = "src_ip,dst_ip,timestamp,country,dst_port,bytes_in,bytes_out\n" +
	"10.0.0.1,10.0.0.2,2024-03-11T10:00:00Z,IN,443,100,200\n" +
	"10.0.0.1,10.0.0.2,2024-03-11T10:00:30Z,IN,443,100,200\n" +
	"203.0.113.10,10.0.0.2,2024-03-11T10:05:00Z,US,8080,5,5\n" +
	"10.0.0.3,10.0.0.2,not-a-time,IN,443,1,1\n" +
	"10.0.0.4,10.0.0.2,2024-03-11T10:06:00Z,IN,abc,1,1\n"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(t *testing.T, cfg *config.Config, m *metrics.Metrics) *Pipeline {
	t.Helper()
	p, err := New(cfg, m, discardLogger())
	require.NoError(t, err)
	return p
}

func readTable(t *testing.T, csv string) *ingest.Table {
	t.Helper()
	table, err := ingest.Read(strings.NewReader(csv))
	require.NoError(t, err)
	return table
}

func TestRun_EndToEnd(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	p := newPipeline(t, config.Default(), m)

	report, err := p.Run(context.Background(), readTable(t, batch))
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "src_ip", report.Mapping["source_ip"])
	assert.Equal(t, []string{"observation_name", "rule_names"}, report.Unmapped)

	stats := report.Stats
	assert.Equal(t, 5, stats.RowsRead)
	assert.Equal(t, 4, stats.Evaluated)
	assert.Equal(t, 1, stats.TimeDropped)
	assert.Equal(t, 3, stats.Fingerprinted)
	assert.Equal(t, 2, stats.ClusterExcluded)
	assert.Equal(t, map[string]int{"access_time": 1, "dest_port": 1}, stats.InvalidFields)

	require.Len(t, report.Alerts, 2)
	assert.Equal(t, detection.RuleUnknownPort, report.Alerts[0].Rule)
	assert.Equal(t, detection.RuleThreatIntelMatch, report.Alerts[1].Rule)
	assert.Equal(t, "203.0.113.10", report.Alerts[1].SourceIP)

	require.Len(t, report.Patterns, 2)
	assert.Equal(t, 2, report.Patterns[0].Count)
	assert.Equal(t, "From India, at 10:00 AM, accessed port 443, sent more than received", report.Patterns[0].Behaviour)
	assert.Equal(t, fingerprint.DNA(report.Patterns[0].Behaviour), report.Patterns[0].DNA)
	assert.True(t, report.Consistent)
	assert.Len(t, report.Records, 3)

	var prod, unknown bool
	for _, r := range report.Rules {
		switch r.Rule {
		case detection.RuleForeignProdAccess:
			prod = true
			assert.True(t, r.Disabled)
			assert.Equal(t, []string{"observation_name"}, r.MissingFields)
		case detection.RuleUnknownPort:
			unknown = true
			assert.Equal(t, 1, r.Alerts)
			assert.Equal(t, 1, r.Skipped)
		}
	}
	assert.True(t, prod)
	assert.True(t, unknown)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RowsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("rules")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("patterns")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues(detection.RuleThreatIntelMatch)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PatternsLast))
}

func TestRun_ShardedMatchesSingleWorker(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("source_ip,dest_ip,access_time,country_code,dest_port,bytes_in,bytes_out\n")
	start := time.Date(2024, 3, 9, 1, 0, 0, 0, time.UTC)
	countries := []string{"IN", "US", "FR", "DE"}
	for i := 0; i < 3000; i++ {
		at := start.Add(time.Duration(i) * 7 * time.Second)
		fmt.Fprintf(&sb, "10.0.%d.%d,10.1.0.1,%s,%s,%d,%d,%d\n",
			i%3, i%17, at.Format(time.RFC3339), countries[i%4], []int{80, 443, 8443, 22}[i%4], i%5, i%7)
	}
	table := readTable(t, sb.String())

	single := config.Default()
	single.Workers = 1
	many := config.Default()
	many.Workers = 8

	a, err := newPipeline(t, single, nil).Run(context.Background(), table)
	require.NoError(t, err)
	b, err := newPipeline(t, many, nil).Run(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, a.Alerts, b.Alerts)
	assert.Equal(t, a.Patterns, b.Patterns)
	assert.Equal(t, a.Stats, b.Stats)
	assert.NotEmpty(t, a.Alerts)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := metrics.Nop()
	_, err := newPipeline(t, config.Default(), m).Run(ctx, readTable(t, batch))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("error")))
}

func TestRun_NoTimeColumn(t *testing.T) {
	cfg := config.Default()
	cfg.Schema.FuzzyMatch = false

	report, err := newPipeline(t, cfg, nil).Run(context.Background(),
		readTable(t, "src_ip,country,dst_port\n1.1.1.1,US,80\n"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.TimeDropped)
	assert.Equal(t, 0, report.Stats.Evaluated)
	assert.Equal(t, 1, report.Stats.ClusterExcluded)
	assert.Empty(t, report.Alerts)
	assert.Empty(t, report.Patterns)

	disabled := make(map[string]bool)
	for _, r := range report.Rules {
		disabled[r.Rule] = r.Disabled
	}
	assert.True(t, disabled[detection.RuleFrequencySpike])
	assert.True(t, disabled[detection.RuleWeekendActivity])
	assert.False(t, disabled[detection.RuleUnknownPort])
}

func TestNew_RejectsUnknownDisabledRule(t *testing.T) {
	cfg := config.Default()
	cfg.Rules.Disabled = []string{"No Such Rule"}
	_, err := New(cfg, nil, discardLogger())
	assert.Error(t, err)
}
