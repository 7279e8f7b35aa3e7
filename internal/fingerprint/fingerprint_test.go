package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/threatdna/internal/config"
	"github.com/nshruti113/threatdna/internal/models"
	"github.com/nshruti113/threatdna/internal/schema"
)

func defaultMapping(t *testing.T, headers []string) schema.Mapping {
	t.Helper()
	n, err := schema.NewNormalizer(config.DefaultAliases(), nil, 0.6)
	require.NoError(t, err)
	return n.Map(headers)
}

var headers = []string{"src_ip", "dst_ip", "timestamp", "country", "dst_port", "bytes_in", "bytes_out"}

func raw(ts, country, port, in, out string) models.RawRecord {
	return models.RawRecord{
		"src_ip":    "10.0.0.1",
		"dst_ip":    "10.0.0.2",
		"timestamp": ts,
		"country":   country,
		"dst_port":  port,
		"bytes_in":  in,
		"bytes_out": out,
	}
}

func TestCanonicalize(t *testing.T) {
	m := defaultMapping(t, headers)

	rec := Canonicalize(7, raw("2024-03-09T14:05:09Z", "us", "443", "100", "2500"), m)

	assert.Equal(t, 7, rec.Row)
	assert.Equal(t, "10.0.0.1", rec.SourceIP)
	assert.Equal(t, "US", rec.CountryCode)
	assert.Equal(t, 443, rec.DestPort)
	assert.Equal(t, int64(100), rec.BytesIn)
	assert.Equal(t, int64(2500), rec.BytesOut)
	assert.Equal(t, time.Date(2024, 3, 9, 14, 5, 9, 0, time.UTC), rec.AccessTime)
	assert.True(t, rec.Present.HasAll(Required))
	assert.Zero(t, rec.Invalid)
	assert.False(t, rec.Has(models.FieldObservationName))
}

func TestCanonicalize_MalformedFields(t *testing.T) {
	m := defaultMapping(t, headers)

	tests := []struct {
		name    string
		raw     models.RawRecord
		invalid models.Field
	}{
		{"bad time", raw("2024-03-09 14:05:09", "US", "443", "1", "1"), models.FieldAccessTime},
		{"non numeric port", raw("2024-03-09T14:05:09Z", "US", "https", "1", "1"), models.FieldDestPort},
		{"port out of range", raw("2024-03-09T14:05:09Z", "US", "70000", "1", "1"), models.FieldDestPort},
		{"negative bytes", raw("2024-03-09T14:05:09Z", "US", "443", "-5", "1"), models.FieldBytesIn},
		{"fractional bytes", raw("2024-03-09T14:05:09Z", "US", "443", "1", "2.5"), models.FieldBytesOut},
		{"port beyond int64", raw("2024-03-09T14:05:09Z", "US", "9223372036854775808", "1", "1"), models.FieldDestPort},
		{"bytes in beyond int64", raw("2024-03-09T14:05:09Z", "US", "443", "9223372036854775808", "1"), models.FieldBytesIn},
		{"bytes out in exponent form", raw("2024-03-09T14:05:09Z", "US", "443", "1", "1e19"), models.FieldBytesOut},
		{"negative float port", raw("2024-03-09T14:05:09Z", "US", "-443.0", "1", "1"), models.FieldDestPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Canonicalize(1, tt.raw, m)
			assert.True(t, rec.Invalid.Has(tt.invalid))
			assert.False(t, rec.Has(tt.invalid))
		})
	}
}

func TestCanonicalize_FloatPort(t *testing.T) {
	m := defaultMapping(t, headers)
	rec := Canonicalize(1, raw("2024-03-09T14:05:09Z", "US", "443.0", "1", "1"), m)
	assert.Equal(t, 443, rec.DestPort)
	assert.True(t, rec.Has(models.FieldDestPort))
}

func TestCanonicalize_LargestCount(t *testing.T) {
	m := defaultMapping(t, headers)
	rec := Canonicalize(1, raw("2024-03-09T14:05:09Z", "US", "443", "9223372036854775807", "1"), m)
	assert.Equal(t, int64(9223372036854775807), rec.BytesIn)
	assert.True(t, rec.Has(models.FieldBytesIn))
}

func TestTag_OverflowingCountsExcluded(t *testing.T) {
	m := defaultMapping(t, headers)
	rec := Canonicalize(1, raw("2024-03-09T14:05:09Z", "US", "9223372036854775808", "9223372036854775808", "1"), m)

	_, err := Tag(rec)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestRender(t *testing.T) {
	m := defaultMapping(t, headers)

	tests := []struct {
		name string
		raw  models.RawRecord
		want string
	}{
		{
			name: "afternoon upload",
			raw:  raw("2024-03-09T14:05:09Z", "US", "22", "100", "5000"),
			want: "From United States, at 02:05 PM, accessed port 22, sent more than received",
		},
		{
			name: "morning download",
			raw:  raw("2024-03-09T09:30:00Z", "IN", "443", "900", "10"),
			want: "From India, at 09:30 AM, accessed port 443, received more than sent",
		},
		{
			name: "unknown country",
			raw:  raw("2024-03-09T00:00:59Z", "QQ", "80", "10", "10"),
			want: "From Invalid Code, at 12:00 AM, accessed port 80, equal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Canonicalize(1, tt.raw, m)
			got, err := Render(&rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_IgnoresSeconds(t *testing.T) {
	m := defaultMapping(t, headers)

	a := Canonicalize(1, raw("2024-03-09T14:05:01Z", "FR", "8080", "1", "2"), m)
	b := Canonicalize(2, raw("2024-03-09T14:05:58Z", "FR", "8080", "1", "2"), m)

	fa, err := Render(&a)
	require.NoError(t, err)
	fb, err := Render(&b)
	require.NoError(t, err)

	assert.Equal(t, fa, fb)
	assert.Equal(t, DNA(fa), DNA(fb))
}

func TestRender_Errors(t *testing.T) {
	m := defaultMapping(t, headers)

	bad := Canonicalize(1, raw("yesterday", "FR", "80", "1", "2"), m)
	_, err := Render(&bad)
	assert.ErrorIs(t, err, ErrInvalidTime)

	noPort := defaultMapping(t, []string{"timestamp", "country", "bytes_in", "bytes_out"})
	rec := Canonicalize(1, raw("2024-03-09T14:05:09Z", "FR", "80", "1", "2"), noPort)
	_, err = Render(&rec)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestFlow(t *testing.T) {
	assert.Equal(t, FlowSent, Flow(1, 2))
	assert.Equal(t, FlowReceived, Flow(2, 1))
	assert.Equal(t, FlowEqual, Flow(3, 3))
}

func TestCountryName(t *testing.T) {
	assert.Equal(t, "France", CountryName("fr"))
	assert.Equal(t, "Germany", CountryName(" DE "))
	assert.Equal(t, InvalidCountry, CountryName(""))
	assert.Equal(t, InvalidCountry, CountryName("USA"))
	assert.Equal(t, InvalidCountry, CountryName("1A"))
	assert.Equal(t, InvalidCountry, CountryName("ZZ"))
	assert.Equal(t, "United Kingdom", CountryName("GB"))

	for _, reserved := range []string{"AC", "CP", "DG", "EA", "EU", "EZ", "FX", "IC", "SU", "TA", "UK", "UN", "uk"} {
		assert.Equal(t, InvalidCountry, CountryName(reserved), reserved)
	}
}

func TestDNA(t *testing.T) {
	fp := "From India, at 09:30 AM, accessed port 443, equal"

	first := DNA(fp)
	assert.Len(t, first, 64)
	assert.Equal(t, first, DNA(fp))
	assert.NotEqual(t, first, DNA(fp+" "))
}

func TestTag(t *testing.T) {
	m := defaultMapping(t, headers)
	rec := Canonicalize(1, raw("2024-03-09T09:30:00Z", "IN", "443", "900", "10"), m)

	tagged, err := Tag(rec)
	require.NoError(t, err)
	assert.Equal(t, DNA(tagged.Fingerprint), tagged.DNA)
	assert.Equal(t, rec, tagged.Record)
}
