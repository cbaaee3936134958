package diffview

import (
	"math"
	"sort"

	"github.com/opencode-ai/diffview/internal/surface"
)

// rangeSet is an ordered set of disjoint, non-adjacent line ranges.
type rangeSet []surface.LineRange

func (s rangeSet) add(r surface.LineRange) rangeSet {
	if r.Empty() {
		return s
	}
	out := make(rangeSet, 0, len(s)+1)
	for _, cur := range s {
		if cur.End < r.Start || cur.Start > r.End {
			out = append(out, cur)
			continue
		}
		r.Start = min(r.Start, cur.Start)
		r.End = max(r.End, cur.End)
	}
	out = append(out, r)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (s rangeSet) remove(r surface.LineRange) rangeSet {
	if r.Empty() {
		return s
	}
	out := make(rangeSet, 0, len(s)+1)
	for _, cur := range s {
		if cur.End <= r.Start || cur.Start >= r.End {
			out = append(out, cur)
			continue
		}
		if cur.Start < r.Start {
			out = append(out, surface.LineRange{Start: cur.Start, End: r.Start})
		}
		if cur.End > r.End {
			out = append(out, surface.LineRange{Start: r.End, End: cur.End})
		}
	}
	return out
}

// DecorationTracker keeps the faded (not yet streamed) and active (currently
// streaming) regions of a surface. The two regions never overlap.
type DecorationTracker struct {
	surf   surface.Surface
	faded  rangeSet
	active rangeSet
}

// NewDecorationTracker tracks decorations for surf.
func NewDecorationTracker(surf surface.Surface) *DecorationTracker {
	return &DecorationTracker{surf: surf}
}

// Init fades every line of the document.
func (d *DecorationTracker) Init(lineCount int) {
	d.active = nil
	d.faded = rangeSet(nil).add(surface.LineRange{Start: 0, End: lineCount})
	d.push()
}

// Advance marks line as active and fades everything below it.
func (d *DecorationTracker) Advance(line, lineCount int) {
	d.active = rangeSet(nil).add(surface.LineRange{Start: line, End: line + 1})
	d.faded = d.faded.
		remove(surface.LineRange{Start: 0, End: line + 1}).
		add(surface.LineRange{Start: line + 1, End: lineCount}).
		remove(surface.LineRange{Start: lineCount, End: math.MaxInt})
	d.push()
}

// Clear removes both regions.
func (d *DecorationTracker) Clear() {
	d.active = nil
	d.faded = nil
	d.push()
}

// Faded returns the not-yet-streamed ranges.
func (d *DecorationTracker) Faded() []surface.LineRange {
	return append([]surface.LineRange(nil), d.faded...)
}

// Active returns the currently streaming ranges.
func (d *DecorationTracker) Active() []surface.LineRange {
	return append([]surface.LineRange(nil), d.active...)
}

func (d *DecorationTracker) push() {
	d.surf.Decorate(surface.StyleFaded, d.Faded())
	d.surf.Decorate(surface.StyleActive, d.Active())
}
