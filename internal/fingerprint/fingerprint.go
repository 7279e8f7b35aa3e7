// Package fingerprint turns canonical traffic records into behaviour fingerprints and
// their DNA.
//
// A fingerprint is a coarse, human-readable summary of a record:
//
//	From India, at 02:15 PM, accessed port 443, received more than sent
//
// Seconds are dropped on purpose so that records a few seconds apart share a
// fingerprint. The DNA is the SHA-256 of the fingerprint and only serves as a clustering
// key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/nshruti113/threatdna/internal/models"
)

// Byte-flow direction labels
const (
	FlowSent     = "sent more than received"
	FlowReceived = "received more than sent"
	FlowEqual    = "equal"
)

// ClockLayout renders access times on a 12-hour clock. Go formats AM/PM without
// consulting the process locale.
const ClockLayout = "03:04 PM"

// Flow classifies the byte-flow direction of a record
func Flow(bytesIn, bytesOut int64) string {
	switch {
	case bytesOut > bytesIn:
		return FlowSent
	case bytesIn > bytesOut:
		return FlowReceived
	default:
		return FlowEqual
	}
}

// Render builds the fingerprint string of a record
func Render(rec *models.TrafficRecord) (string, error) {
	if rec.Invalid.Has(models.FieldAccessTime) {
		return "", ErrInvalidTime
	}
	if missing := rec.Present.Missing(Required); len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingField, missing[0])
	}

	return fmt.Sprintf("From %s, at %s, accessed port %d, %s",
		CountryName(rec.CountryCode),
		rec.AccessTime.UTC().Format(ClockLayout),
		rec.DestPort,
		Flow(rec.BytesIn, rec.BytesOut),
	), nil
}

// DNA hashes a fingerprint into a 64-character hex digest
func DNA(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

// Tag renders and hashes a record in one step
func Tag(rec models.TrafficRecord) (models.FingerprintedRecord, error) {
	fp, err := Render(&rec)
	if err != nil {
		return models.FingerprintedRecord{}, err
	}
	return models.FingerprintedRecord{
		Record:      rec,
		Fingerprint: fp,
		DNA:         DNA(fp),
	}, nil
}
