package detection

import (
	ac "github.com/petar-dambovaliev/aho-corasick"
)

// keywordMatcher finds ASCII case-insensitive substrings
type keywordMatcher struct {
	ac *ac.AhoCorasick
}

func newKeywordMatcher(keywords ...string) *keywordMatcher {
	builder := ac.NewAhoCorasickBuilder(ac.Opts{
		AsciiCaseInsensitive: true,
		MatchKind:            ac.LeftMostLongestMatch,
	})
	automaton := builder.Build(keywords)
	return &keywordMatcher{ac: &automaton}
}

func (m *keywordMatcher) Contains(text string) bool {
	if text == "" {
		return false
	}
	return len(m.ac.FindAll(text)) > 0
}
