package simulate

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/nshruti113/threatdna/internal/models"
)

// Dialect selects the header names written for each column
type Dialect string

const (
	// DialectCanonical uses the canonical field names
	DialectCanonical Dialect = "canonical"
	// DialectShort uses common abbreviated aliases
	DialectShort Dialect = "short"
	// DialectVendor uses the longer vendor-style aliases
	DialectVendor Dialect = "vendor"
	// DialectLoose drops the separators so headers only match by similarity
	DialectLoose Dialect = "loose"
)

var dialects = map[Dialect][]string{
	DialectCanonical: {"event_id", "source_ip", "dest_ip", "access_time", "country_code", "dest_port", "bytes_in", "bytes_out", "observation_name", "rule_names"},
	DialectShort:     {"event_id", "src_ip", "dst_ip", "timestamp", "country", "dst_port", "bytes_in", "bytes_out", "observation", "rules"},
	DialectVendor:    {"event_id", "ip_source", "destination_ip", "event_time", "src_ip_country_code", "destination_port", "incoming_bytes", "outgoing_bytes", "observationName", "ruleNames"},
	DialectLoose:     {"event_id", "sourceip", "destip", "accesstime", "countrycode", "destport", "bytesin", "bytesout", "observationname", "rulenames"},
}

// Dialects lists the supported header dialects
func Dialects() []Dialect {
	return []Dialect{DialectCanonical, DialectShort, DialectVendor, DialectLoose}
}

// Header returns the header row of a dialect
func (d Dialect) Header() ([]string, error) {
	h, ok := dialects[d]
	if !ok {
		return nil, fmt.Errorf("unknown header dialect %q", d)
	}
	return append([]string(nil), h...), nil
}

// WriteCSV renders events as a CSV table in the given dialect
func WriteCSV(w io.Writer, events []Event, d Dialect) error {
	header, err := d.Header()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, e := range events {
		if err := cw.Write([]string{
			e.ID,
			e.SourceIP,
			e.DestIP,
			e.Time.UTC().Format(models.TimeLayout),
			e.Country,
			strconv.Itoa(e.Port),
			strconv.FormatInt(e.BytesIn, 10),
			strconv.FormatInt(e.BytesOut, 10),
			e.Observation,
			e.RuleNames,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteGzipCSV is WriteCSV wrapped in a gzip stream
func WriteGzipCSV(w io.Writer, events []Event, d Dialect) error {
	gz := gzip.NewWriter(w)
	if err := WriteCSV(gz, events, d); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
