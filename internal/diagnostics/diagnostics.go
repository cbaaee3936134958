// Package diagnostics snapshots compiler and linter problems and reports the
// ones introduced between two snapshots.
package diagnostics

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Severity follows the LSP numbering: lower is more severe.
type Severity int

const (
	SeverityError       Severity = 1
	SeverityWarning     Severity = 2
	SeverityInformation Severity = 3
	SeverityHint        Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "Error"
	case SeverityWarning:
		return "Warning"
	case SeverityInformation:
		return "Information"
	case SeverityHint:
		return "Hint"
	default:
		return "Unknown"
	}
}

// ParseSeverity maps a name such as "error" or "warning" to a Severity.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "error":
		return SeverityError, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "information", "info":
		return SeverityInformation, nil
	case "hint":
		return SeverityHint, nil
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// DefaultSeverities reports errors only.
var DefaultSeverities = []Severity{SeverityError}

// Position is a zero-based line/character location.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a span within a file.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Diagnostic is a single reported problem.
type Diagnostic struct {
	Range    Range    `json:"range"`
	Severity Severity `json:"severity"`
	Source   string   `json:"source,omitempty"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
}

// Snapshot maps absolute file paths to their diagnostics.
type Snapshot map[string][]Diagnostic

// Provider takes diagnostic snapshots.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Toucher is implemented by providers that must be told a file changed
// before they can report fresh diagnostics for it.
type Toucher interface {
	Touch(ctx context.Context, absPath string) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Snapshot, error)

func (f ProviderFunc) Snapshot(ctx context.Context) (Snapshot, error) { return f(ctx) }

// None is a Provider that never reports problems.
var None Provider = ProviderFunc(func(context.Context) (Snapshot, error) { return Snapshot{}, nil })

type problemKey struct {
	rng     Range
	message string
}

// NewProblems returns the diagnostics in after that have no counterpart with
// the same range and message in before. Order within a file is preserved.
func NewProblems(before, after Snapshot) Snapshot {
	out := Snapshot{}
	for path, diags := range after {
		seen := make(map[problemKey]int, len(before[path]))
		for _, d := range before[path] {
			seen[problemKey{d.Range, d.Message}]++
		}
		var fresh []Diagnostic
		for _, d := range diags {
			k := problemKey{d.Range, d.Message}
			if seen[k] > 0 {
				seen[k]--
				continue
			}
			fresh = append(fresh, d)
		}
		if len(fresh) > 0 {
			out[path] = fresh
		}
	}
	return out
}

// FormatProblems renders the diagnostics whose severity is in severities as
// blocks of "path\n- [source Severity] Line N: message", with paths relative
// to root and sorted. Returns "" when nothing matches.
func FormatProblems(snap Snapshot, severities []Severity, root string) string {
	if len(severities) == 0 {
		severities = DefaultSeverities
	}
	wanted := make(map[Severity]bool, len(severities))
	for _, s := range severities {
		wanted[s] = true
	}

	paths := make([]string, 0, len(snap))
	for path := range snap {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var blocks []string
	for _, path := range paths {
		var lines []string
		for _, d := range snap[path] {
			if !wanted[d.Severity] {
				continue
			}
			label := d.Severity.String()
			if d.Source != "" {
				label = d.Source + " " + label
			}
			lines = append(lines, fmt.Sprintf("- [%s] Line %d: %s", label, d.Range.Start.Line+1, d.Message))
		}
		if len(lines) == 0 {
			continue
		}
		blocks = append(blocks, displayPath(root, path)+"\n"+strings.Join(lines, "\n"))
	}
	return strings.TrimSpace(strings.Join(blocks, "\n\n"))
}

func displayPath(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
