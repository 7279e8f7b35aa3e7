// Package schema maps arbitrary input headers onto the canonical traffic record fields.
//
// Each field is resolved by an exact scan of its alias list first. Fields left over fall
// back to approximate name matching through a pluggable Scorer; a nil Scorer disables the
// fallback so deployments that need strict determinism can opt out of guessing.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nshruti113/threatdna/internal/models"
)

// Mapping records which header backs each canonical field
type Mapping struct {
	Columns map[models.Field]string
	Fuzzy   map[models.Field]bool
}

// Available returns the set of fields that have a backing column
func (m Mapping) Available() models.FieldSet {
	var set models.FieldSet
	for f := range m.Columns {
		set = set.With(f)
	}
	return set
}

// Unmapped lists the canonical fields without a backing column
func (m Mapping) Unmapped() []models.Field {
	var out []models.Field
	for _, f := range models.Fields() {
		if _, ok := m.Columns[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Lookup returns the trimmed value of f in raw
func (m Mapping) Lookup(raw models.RawRecord, f models.Field) (string, bool) {
	header, ok := m.Columns[f]
	if !ok {
		return "", false
	}
	value, ok := raw[header]
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// Named renders the mapping keyed by canonical field name
func (m Mapping) Named() map[string]string {
	out := make(map[string]string, len(m.Columns))
	for f, header := range m.Columns {
		out[f.String()] = header
	}
	return out
}

// Normalizer resolves input headers against an alias table
type Normalizer struct {
	aliases   map[models.Field][]string
	scorer    Scorer
	threshold float64
}

// NewNormalizer builds a normalizer from a field-name → aliases table. A nil scorer
// disables approximate matching.
func NewNormalizer(aliases map[string][]string, scorer Scorer, threshold float64) (*Normalizer, error) {
	table := make(map[models.Field][]string, len(aliases))
	for name, list := range aliases {
		f, ok := models.ParseField(name)
		if !ok {
			return nil, fmt.Errorf("unknown canonical field %q in alias table", name)
		}
		table[f] = append([]string(nil), list...)
	}

	return &Normalizer{
		aliases:   table,
		scorer:    scorer,
		threshold: threshold,
	}, nil
}

type candidate struct {
	field  models.Field
	header int
	score  float64
}

// Map resolves the canonical fields for one header row. The result only depends on the
// header list, the alias table and the scorer.
func (n *Normalizer) Map(headers []string) Mapping {
	mapping := Mapping{
		Columns: make(map[models.Field]string),
		Fuzzy:   make(map[models.Field]bool),
	}

	cleaned := make([]string, len(headers))
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		cleaned[i] = strings.TrimSpace(h)
		if _, seen := index[cleaned[i]]; !seen {
			index[cleaned[i]] = i
		}
	}

	claimed := make(map[int]bool)
	for _, f := range models.Fields() {
		names := append([]string{f.String()}, n.aliases[f]...)
		for _, name := range names {
			if i, ok := index[name]; ok && !claimed[i] {
				mapping.Columns[f] = headers[i]
				claimed[i] = true
				break
			}
		}
	}

	if n.scorer == nil {
		return mapping
	}

	var candidates []candidate
	for _, f := range models.Fields() {
		if _, done := mapping.Columns[f]; done {
			continue
		}
		for i, h := range cleaned {
			if claimed[i] || h == "" {
				continue
			}
			score := n.scorer.Score(h, f.String())
			if score >= n.threshold {
				candidates = append(candidates, candidate{field: f, header: i, score: score})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	for _, c := range candidates {
		if _, done := mapping.Columns[c.field]; done || claimed[c.header] {
			continue
		}
		mapping.Columns[c.field] = headers[c.header]
		mapping.Fuzzy[c.field] = true
		claimed[c.header] = true
	}

	return mapping
}
