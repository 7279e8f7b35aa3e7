// Package export renders run results as delimited text.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nshruti113/threatdna/internal/models"
)

// Column headers shared with downstream consumers
var (
	AlertHeader   = []string{"Rule", "Source IP", "Timestamp", "Details"}
	PatternHeader = []string{"Behaviour", "DNA", "Count"}
	RecordHeader  = []string{"access_time", "bytes_in", "bytes_out", "source_ip", "dest_ip", "dest_port", "country_code", "fingerprint", "dna"}
)

// AlertRow is an exported alert with its timestamp kept as text
type AlertRow struct {
	Rule      string
	SourceIP  string
	Timestamp string
	Details   string
}

// FormatTime renders alert timestamps in the wire layout
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(models.TimeLayout)
}

// WriteAlerts writes alerts with the Rule,Source IP,Timestamp,Details header
func WriteAlerts(w io.Writer, alerts []models.Alert) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(AlertHeader); err != nil {
		return err
	}
	for _, a := range alerts {
		if err := cw.Write([]string{a.Rule, a.SourceIP, FormatTime(a.Timestamp), a.Details}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadAlerts parses a file produced by WriteAlerts
func ReadAlerts(r io.Reader) ([]AlertRow, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read alert header: %w", err)
	}
	if len(header) != len(AlertHeader) {
		return nil, fmt.Errorf("unexpected alert header %v", header)
	}

	var rows []AlertRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read alert row: %w", err)
		}
		rows = append(rows, AlertRow{Rule: rec[0], SourceIP: rec[1], Timestamp: rec[2], Details: rec[3]})
	}
}

// WritePatterns writes patterns with the Behaviour,DNA,Count header, plus a Threat Level
// column when withLevel is set
func WritePatterns(w io.Writer, patterns []models.Pattern, withLevel bool) error {
	header := PatternHeader
	if withLevel {
		header = append(append([]string(nil), PatternHeader...), "Threat Level")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, p := range patterns {
		row := []string{p.Behaviour, p.DNA, strconv.Itoa(p.Count)}
		if withLevel {
			row = append(row, string(p.ThreatLevel))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRecords writes every fingerprinted record with its fingerprint and DNA
func WriteRecords(w io.Writer, records []models.FingerprintedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RecordHeader); err != nil {
		return err
	}
	for _, fr := range records {
		r := fr.Record
		if err := cw.Write([]string{
			FormatTime(r.AccessTime),
			strconv.FormatInt(r.BytesIn, 10),
			strconv.FormatInt(r.BytesOut, 10),
			r.SourceIP,
			r.DestIP,
			strconv.Itoa(r.DestPort),
			r.CountryCode,
			fr.Fingerprint,
			fr.DNA,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// File is one output of a WriteFilesAtomic batch
type File struct {
	Path   string
	Render func(io.Writer) error
}

// WriteFileAtomic renders into a temp file next to path and renames it into place, so a
// failed render never leaves a partial file behind
func WriteFileAtomic(path string, render func(io.Writer) error) error {
	return WriteFilesAtomic(File{Path: path, Render: render})
}

// WriteFilesAtomic renders every file into a temp file next to its target before any of
// them is moved into place. A failed render leaves none of the targets written. If a
// rename fails, the targets already moved in are removed again.
func WriteFilesAtomic(files ...File) error {
	temps := make([]string, 0, len(files))
	defer func() {
		for _, name := range temps {
			os.Remove(name)
		}
	}()

	for _, f := range files {
		name, err := stage(f)
		if err != nil {
			return err
		}
		temps = append(temps, name)
	}

	for i, f := range files {
		if err := os.Rename(temps[i], f.Path); err != nil {
			for _, placed := range files[:i] {
				os.Remove(placed.Path)
			}
			return fmt.Errorf("failed to move %s into place: %w", f.Path, err)
		}
	}
	return nil
}

// stage renders f into a temp file in the target directory and returns its name
func stage(f File) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", f.Path, err)
	}

	if err := f.Render(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", f.Path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close %s: %w", f.Path, err)
	}
	return tmp.Name(), nil
}
