package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/threatdna/internal/config"
	"github.com/nshruti113/threatdna/internal/models"
)

func newNormalizer(t *testing.T, scorer Scorer) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(config.DefaultAliases(), scorer, 0.6)
	require.NoError(t, err)
	return n
}

func TestNormalizer_ExactAliases(t *testing.T) {
	n := newNormalizer(t, SequenceScorer{})

	headers := []string{"src_ip", "dst_ip", "timestamp", "src_ip_country_code", "dst_port", "bytes_in", "bytes_out"}
	m := n.Map(headers)

	assert.Equal(t, "src_ip", m.Columns[models.FieldSourceIP])
	assert.Equal(t, "dst_ip", m.Columns[models.FieldDestIP])
	assert.Equal(t, "timestamp", m.Columns[models.FieldAccessTime])
	assert.Equal(t, "src_ip_country_code", m.Columns[models.FieldCountryCode])
	assert.Equal(t, "dst_port", m.Columns[models.FieldDestPort])
	assert.Equal(t, "bytes_in", m.Columns[models.FieldBytesIn])
	assert.Equal(t, "bytes_out", m.Columns[models.FieldBytesOut])
	assert.Empty(t, m.Fuzzy)
}

func TestNormalizer_AliasOrderWins(t *testing.T) {
	n := newNormalizer(t, nil)

	m := n.Map([]string{"event_time", "time"})
	assert.Equal(t, "time", m.Columns[models.FieldAccessTime])
}

func TestNormalizer_CanonicalNameAccepted(t *testing.T) {
	n := newNormalizer(t, nil)

	m := n.Map([]string{" source_ip ", "dest_port"})
	assert.Equal(t, " source_ip ", m.Columns[models.FieldSourceIP])
	assert.Equal(t, "dest_port", m.Columns[models.FieldDestPort])
}

func TestNormalizer_FuzzyFallback(t *testing.T) {
	n := newNormalizer(t, SequenceScorer{})

	m := n.Map([]string{"src_ip", "dest_prt", "when"})

	assert.Equal(t, "dest_prt", m.Columns[models.FieldDestPort])
	assert.True(t, m.Fuzzy[models.FieldDestPort])
	assert.NotEqual(t, "dest_prt", m.Columns[models.FieldDestIP])
	assert.False(t, m.Available().Has(models.FieldDestIP))
}

func TestNormalizer_FuzzyDisabled(t *testing.T) {
	n := newNormalizer(t, nil)

	m := n.Map([]string{"src_ip", "dest_prt"})

	assert.Equal(t, "src_ip", m.Columns[models.FieldSourceIP])
	assert.False(t, m.Available().Has(models.FieldDestPort))
	assert.Contains(t, m.Unmapped(), models.FieldDestPort)
}

func TestNormalizer_GreedyAssignmentIsDeterministic(t *testing.T) {
	always := ScorerFunc(func(a, b string) float64 { return 1 })
	n, err := NewNormalizer(map[string][]string{}, always, 0.6)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		m := n.Map([]string{"a", "b"})
		assert.Equal(t, "a", m.Columns[models.FieldSourceIP])
		assert.Equal(t, "b", m.Columns[models.FieldDestIP])
		assert.Len(t, m.Columns, 2)
	}
}

func TestNormalizer_UnknownField(t *testing.T) {
	_, err := NewNormalizer(map[string][]string{"hostname": {"host"}}, nil, 0.6)
	assert.Error(t, err)
}

func TestMapping_Lookup(t *testing.T) {
	n := newNormalizer(t, nil)
	m := n.Map([]string{"src_ip", "port"})

	raw := models.RawRecord{"src_ip": " 10.0.0.1 ", "port": "443"}

	v, ok := m.Lookup(raw, models.FieldSourceIP)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)

	_, ok = m.Lookup(raw, models.FieldBytesOut)
	assert.False(t, ok)

	assert.Equal(t, map[string]string{"source_ip": "src_ip", "dest_port": "port"}, m.Named())
}

func TestSequenceScorer(t *testing.T) {
	s := SequenceScorer{}

	assert.InDelta(t, 1.0, s.Score("dest_port", "DEST_PORT"), 1e-9)
	assert.InDelta(t, 16.0/17.0, s.Score("dest_prt", "dest_port"), 1e-9)
	assert.Less(t, s.Score("when", "access_time"), 0.6)
}
