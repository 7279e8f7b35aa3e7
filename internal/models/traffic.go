package models

import (
	"strings"
	"time"
)

// TimeLayout is the wire format of access times and of exported alert timestamps
const TimeLayout = "2006-01-02T15:04:05Z"

// RawRecord is one input row keyed by its source header name
type RawRecord map[string]string

// Field identifies a canonical record field
type Field uint8

const (
	FieldSourceIP Field = iota
	FieldDestIP
	FieldAccessTime
	FieldCountryCode
	FieldDestPort
	FieldBytesIn
	FieldBytesOut
	FieldObservationName
	FieldRuleNames
	numFields
)

var fieldNames = [numFields]string{
	"source_ip",
	"dest_ip",
	"access_time",
	"country_code",
	"dest_port",
	"bytes_in",
	"bytes_out",
	"observation_name",
	"rule_names",
}

// Fields returns every canonical field in declaration order
func Fields() []Field {
	fields := make([]Field, 0, numFields)
	for f := Field(0); f < numFields; f++ {
		fields = append(fields, f)
	}
	return fields
}

func (f Field) String() string {
	if f >= numFields {
		return "unknown"
	}
	return fieldNames[f]
}

// ParseField resolves a canonical field name such as "dest_port"
func ParseField(name string) (Field, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f := Field(0); f < numFields; f++ {
		if fieldNames[f] == name {
			return f, true
		}
	}
	return 0, false
}

// FieldSet is a bitmask of canonical fields
type FieldSet uint16

// NewFieldSet builds a set from the given fields
func NewFieldSet(fields ...Field) FieldSet {
	var s FieldSet
	for _, f := range fields {
		s = s.With(f)
	}
	return s
}

func (s FieldSet) Has(f Field) bool {
	return s&(1<<f) != 0
}

// HasAll reports whether every field of other is in s
func (s FieldSet) HasAll(other FieldSet) bool {
	return s&other == other
}

func (s FieldSet) With(f Field) FieldSet {
	return s | 1<<f
}

// Missing lists the fields of want that are absent from s
func (s FieldSet) Missing(want FieldSet) []Field {
	var missing []Field
	for f := Field(0); f < numFields; f++ {
		if want.Has(f) && !s.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// TrafficRecord is a canonical network-traffic log record.
//
// Present holds the fields that parsed successfully. Invalid holds the fields that were
// mapped to a column but carried a malformed value in this row.
type TrafficRecord struct {
	Row             int       `json:"row"`
	SourceIP        string    `json:"source_ip"`
	DestIP          string    `json:"dest_ip"`
	AccessTime      time.Time `json:"access_time"`
	CountryCode     string    `json:"country_code"`
	DestPort        int       `json:"dest_port"`
	BytesIn         int64     `json:"bytes_in"`
	BytesOut        int64     `json:"bytes_out"`
	ObservationName string    `json:"observation_name,omitempty"`
	RuleNames       string    `json:"rule_names,omitempty"`
	Present         FieldSet  `json:"-"`
	Invalid         FieldSet  `json:"-"`
}

// Has reports whether the record carries a usable value for f
func (r *TrafficRecord) Has(f Field) bool {
	return r.Present.Has(f)
}

// FingerprintedRecord is a canonical record tagged with its behaviour fingerprint and DNA
type FingerprintedRecord struct {
	Record      TrafficRecord `json:"record"`
	Fingerprint string        `json:"fingerprint"`
	DNA         string        `json:"dna"`
}

// Alert represents a security alert raised by a detection rule
type Alert struct {
	Rule      string    `json:"rule"`
	SourceIP  string    `json:"source_ip"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
}

// ThreatLevel grades a behaviour pattern by how often it recurs
type ThreatLevel string

const (
	ThreatHigh   ThreatLevel = "High"
	ThreatMedium ThreatLevel = "Medium"
	ThreatLow    ThreatLevel = "Low"
	ThreatRare   ThreatLevel = "Rare"
)

// Pattern is a cluster of records sharing one DNA
type Pattern struct {
	Behaviour   string      `json:"behaviour"`
	DNA         string      `json:"dna"`
	Count       int         `json:"count"`
	ThreatLevel ThreatLevel `json:"threat_level"`
}

// Inconsistency records a fingerprint that hashed to more than one DNA in a run
type Inconsistency struct {
	Fingerprint string   `json:"fingerprint"`
	DNAs        []string `json:"dnas"`
}
