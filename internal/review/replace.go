package review

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

var (
	ErrNoMatch   = errors.New("search text not found")
	ErrAmbiguous = errors.New("search text matches more than once")
	ErrNoChange  = errors.New("search and replace text are identical")
)

// DefaultFuzzyThreshold is the minimum similarity for a fuzzy match.
const DefaultFuzzyThreshold = 0.7

// Replacement is one search/replace block applied to a file's original content.
type Replacement struct {
	Search     string `json:"search"`
	Replace    string `json:"replace"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

// MatchKind says how a replacement found its target.
type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchNormalized MatchKind = "normalized"
	MatchFuzzy      MatchKind = "fuzzy"
)

// Match reports how one replacement was applied.
type Match struct {
	Kind       MatchKind `json:"kind"`
	Count      int       `json:"count"`
	Similarity float64   `json:"similarity,omitempty"`
}

// ReplaceError identifies which block failed.
type ReplaceError struct {
	Index int
	Err   error
}

func (e *ReplaceError) Error() string { return fmt.Sprintf("replacement %d: %v", e.Index+1, e.Err) }
func (e *ReplaceError) Unwrap() error { return e.Err }

// ApplyReplacements applies blocks in order to text. Each block is tried as an
// exact match, then with the search text converted to text's line endings,
// then as the most similar line-aligned block scoring at least threshold.
func ApplyReplacements(text string, blocks []Replacement, threshold float64) (string, []Match, error) {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	matches := make([]Match, 0, len(blocks))
	for i, b := range blocks {
		out, m, err := applyOne(text, b, threshold)
		if err != nil {
			return "", nil, &ReplaceError{Index: i, Err: err}
		}
		text = out
		matches = append(matches, m)
	}
	return text, matches, nil
}

func applyOne(text string, b Replacement, threshold float64) (string, Match, error) {
	if b.Search == b.Replace {
		return "", Match{}, ErrNoChange
	}
	if b.Search == "" {
		if text != "" {
			return "", Match{}, fmt.Errorf("%w: empty search text on a non-empty file", ErrAmbiguous)
		}
		return b.Replace, Match{Kind: MatchExact, Count: 1}, nil
	}

	if out, n, err := replaceExact(text, b.Search, b.Replace, b.ReplaceAll); n > 0 || err != nil {
		return out, Match{Kind: MatchExact, Count: n}, err
	}

	if strings.Contains(text, "\r\n") {
		search := toCRLF(b.Search)
		if out, n, err := replaceExact(text, search, toCRLF(b.Replace), b.ReplaceAll); n > 0 || err != nil {
			return out, Match{Kind: MatchNormalized, Count: n}, err
		}
	} else if strings.Contains(b.Search, "\r\n") {
		search := normalizeLineEndings(b.Search)
		if out, n, err := replaceExact(text, search, normalizeLineEndings(b.Replace), b.ReplaceAll); n > 0 || err != nil {
			return out, Match{Kind: MatchNormalized, Count: n}, err
		}
	}

	match, sim := findBestMatch(text, b.Search)
	if match != "" && sim >= threshold {
		return strings.Replace(text, match, b.Replace, 1), Match{Kind: MatchFuzzy, Count: 1, Similarity: sim}, nil
	}
	return "", Match{}, ErrNoMatch
}

func replaceExact(text, search, replace string, all bool) (string, int, error) {
	n := strings.Count(text, search)
	switch {
	case n == 0:
		return text, 0, nil
	case all:
		return strings.ReplaceAll(text, search, replace), n, nil
	case n > 1:
		return "", n, fmt.Errorf("%w (%d occurrences); add context or set replaceAll", ErrAmbiguous, n)
	}
	return strings.Replace(text, search, replace, 1), 1, nil
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func toCRLF(s string) string {
	return strings.ReplaceAll(normalizeLineEndings(s), "\n", "\r\n")
}

// findBestMatch finds the line-aligned block of text most similar to target.
func findBestMatch(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	targetLines := strings.Split(normalizeLineEndings(target), "\n")
	n := len(targetLines)

	bestMatch := ""
	bestSimilarity := 0.0
	for i := 0; i+n <= len(lines); i++ {
		block := strings.Join(lines[i:i+n], "\n")
		sim := similarity(normalizeLineEndings(block), strings.Join(targetLines, "\n"))
		if sim > bestSimilarity {
			bestSimilarity = sim
			bestMatch = block
		}
	}
	return bestMatch, bestSimilarity
}

// similarity is 1 minus the Levenshtein distance over the longer length.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// Length ratio stands in for very long inputs
	if len(a) > 10000 || len(b) > 10000 {
		return float64(min(len(a), len(b))) / float64(max(len(a), len(b)))
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(max(len(a), len(b)))
}
