package schema

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
)

// Scores handed out by the matcher. Exact beats phrase beats edit distance,
// and equal scores for different fields are reported as ambiguity.
const (
	scoreExact  = 1.0
	scorePhrase = 0.9
)

// DefaultThreshold is the minimum score for a header to resolve.
const DefaultThreshold = 0.85

var bracketed = regexp.MustCompile(`[\[(]\s*([^\])]*?)\s*[\])]`)

// NormalizeHeader lower-cases a header, removes bracketed hints such as
// "[kWh]", turns punctuation into spaces and collapses whitespace.
func NormalizeHeader(h string) string {
	h = bracketed.ReplaceAllString(h, " ")
	h = strings.ToLower(h)

	var b strings.Builder
	space := true
	for _, r := range h {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// UnitHint extracts the bracketed part of a header, e.g. "kWh" from
// "Verbrauch [kWh]". It returns "" when there is none.
func UnitHint(h string) string {
	m := bracketed.FindStringSubmatch(h)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// score rates how well a normalized header matches one normalized synonym.
func score(header, synonym string) float64 {
	if header == "" || synonym == "" {
		return 0
	}
	compactHeader := strings.ReplaceAll(header, " ", "")
	compactSynonym := strings.ReplaceAll(synonym, " ", "")
	if header == synonym || compactHeader == compactSynonym {
		return scoreExact
	}
	if containsPhrase(header, synonym) {
		return scorePhrase
	}
	return levenshtein.Similarity(compactHeader, compactSynonym, nil)
}

// containsPhrase reports whether the words of phrase occur consecutively in s.
func containsPhrase(s, phrase string) bool {
	words := strings.Fields(s)
	want := strings.Fields(phrase)
	if len(want) == 0 || len(want) > len(words) {
		return false
	}
	for i := 0; i+len(want) <= len(words); i++ {
		match := true
		for j := range want {
			if words[i+j] != want[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
