package schema

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Scorer rates the similarity of two names on a 0..1 scale
type Scorer interface {
	Score(a, b string) float64
}

// ScorerFunc adapts a plain function to Scorer
type ScorerFunc func(a, b string) float64

func (f ScorerFunc) Score(a, b string) float64 {
	return f(a, b)
}

// SequenceScorer scores names with the difflib sequence matcher ratio, compared
// character by character and case-insensitively.
type SequenceScorer struct{}

func (SequenceScorer) Score(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	m := difflib.NewMatcher(chars(strings.ToLower(a)), chars(strings.ToLower(b)))
	return m.Ratio()
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
