package fingerprint

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nshruti113/threatdna/internal/models"
	"github.com/nshruti113/threatdna/internal/schema"
)

var (
	// ErrInvalidTime marks an access time that does not match the wire format
	ErrInvalidTime = errors.New("invalid access time")
	// ErrMissingField marks a record that lacks a field the fingerprint needs
	ErrMissingField = errors.New("missing field")
)

// Required is the set of fields a fingerprint is rendered from
var Required = models.NewFieldSet(
	models.FieldAccessTime,
	models.FieldCountryCode,
	models.FieldDestPort,
	models.FieldBytesIn,
	models.FieldBytesOut,
)

// Canonicalize converts one raw row into a canonical record. Empty cells leave a field
// absent. Malformed values never fail the whole row: the field is flagged Invalid and
// left out of Present.
func Canonicalize(row int, raw models.RawRecord, mapping schema.Mapping) models.TrafficRecord {
	rec := models.TrafficRecord{Row: row}

	for _, f := range models.Fields() {
		value, ok := mapping.Lookup(raw, f)
		if !ok || value == "" {
			continue
		}
		if err := setField(&rec, f, value); err != nil {
			rec.Invalid = rec.Invalid.With(f)
			continue
		}
		rec.Present = rec.Present.With(f)
	}

	return rec
}

func setField(rec *models.TrafficRecord, f models.Field, value string) error {
	switch f {
	case models.FieldSourceIP:
		return setString(&rec.SourceIP, value)
	case models.FieldDestIP:
		return setString(&rec.DestIP, value)
	case models.FieldCountryCode:
		return setString(&rec.CountryCode, strings.ToUpper(value))
	case models.FieldObservationName:
		return setString(&rec.ObservationName, value)
	case models.FieldRuleNames:
		return setString(&rec.RuleNames, value)
	case models.FieldAccessTime:
		t, err := ParseTime(value)
		if err != nil {
			return err
		}
		rec.AccessTime = t
	case models.FieldDestPort:
		n, err := parseCount(value)
		if err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("invalid port %q", value)
		}
		rec.DestPort = int(n)
	case models.FieldBytesIn:
		n, err := parseCount(value)
		if err != nil {
			return err
		}
		rec.BytesIn = n
	case models.FieldBytesOut:
		n, err := parseCount(value)
		if err != nil {
			return err
		}
		rec.BytesOut = n
	}
	return nil
}

func setString(dst *string, value string) error {
	if value == "" {
		return ErrMissingField
	}
	*dst = value
	return nil
}

// ParseTime parses the YYYY-MM-DDTHH:MM:SSZ wire format into UTC
func ParseTime(value string) (time.Time, error) {
	t, err := time.Parse(models.TimeLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	return t.UTC(), nil
}

// parseCount accepts non-negative integers, including integral float renderings such as
// "443.0" that spreadsheet exports produce.
func parseCount(value string) (int64, error) {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative value %q", value)
		}
		return n, nil
	}

	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid count %q", value)
	}
	return int64(f), nil
}
