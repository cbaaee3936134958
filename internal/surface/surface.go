// Package surface defines the editing surface a diff review is rendered on.
//
// A Surface is a mutable, line-addressable document bound to one file on
// disk, shown side by side with the file's original text. A Host creates
// surfaces and also manages ordinary "views" of files that a human may have
// open outside of any review.
package surface

import (
	"context"
	"errors"

	"github.com/opencode-ai/diffview/internal/formatter"
)

// ErrClosed is returned by mutating operations on a surface that has been closed.
var ErrClosed = errors.New("surface closed")

// LineRange is a half-open range of zero-based line numbers [Start, End).
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Empty reports whether the range covers no lines.
func (r LineRange) Empty() bool { return r.End <= r.Start }

// Len returns the number of lines covered.
func (r LineRange) Len() int {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether line falls within the range.
func (r LineRange) Contains(line int) bool { return line >= r.Start && line < r.End }

// Style is a line decoration style.
type Style string

const (
	// StyleFaded marks lines not yet reached by the stream.
	StyleFaded Style = "faded"
	// StyleActive marks the line currently being streamed.
	StyleActive Style = "active"
)

// SaveOptions controls how a surface is persisted.
type SaveOptions struct {
	// SkipFormat disables the host's on-save formatting.
	SkipFormat bool
}

// Surface is an editable document for one review.
type Surface interface {
	ID() string
	// Path is the absolute path of the backing file.
	Path() string
	Text() string
	// LineCount is the number of "\n"-separated lines, so "" has one line.
	LineCount() int
	// ReplaceLines replaces lines [start, end) with text. Indices beyond the
	// end of the document are clamped.
	ReplaceLines(start, end int, text string) error
	IsDirty() bool
	Save(ctx context.Context, opts SaveOptions) error
	ScrollIntoView(line int)
	VisibleRange() LineRange
	// Decorate replaces the ranges rendered with style.
	Decorate(style Style, ranges []LineRange)
	Decorations(style Style) []LineRange
	// Closed reports whether the surface was closed, by the host or by a human.
	Closed() bool
}

// Host opens and closes review surfaces and manages plain file views.
type Host interface {
	OpenDiff(ctx context.Context, absPath, original string) (Surface, error)
	Close(ctx context.Context, s Surface) error

	HasView(absPath string) bool
	SaveView(ctx context.Context, absPath string) error
	CloseView(ctx context.Context, absPath string) error
	ShowView(ctx context.Context, absPath string) error
}

// Formatter formats a file in place after it is saved.
type Formatter interface {
	Format(ctx context.Context, absPath string) (*formatter.FormatResult, error)
}
