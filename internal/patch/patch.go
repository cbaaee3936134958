// Package patch renders unified diffs between two versions of a file.
//
// Line matching is done by diffmatchpatch in line mode; the hunks are
// rendered through sourcegraph's diff printer so the output is a standard
// patch that `git apply` and `patch -p1` accept.
package patch

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// DefaultContext is the number of unchanged lines shown around a change.
const DefaultContext = 3

type opKind byte

const (
	opEqual  opKind = ' '
	opDelete opKind = '-'
	opInsert opKind = '+'
)

// lineOp is one line of a line diff. text keeps its "\n" terminator, except
// for a final line that has none.
type lineOp struct {
	kind opKind
	text string
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lineDiff returns the line operations turning before into after. Within a
// run of changes, deletions precede insertions.
func lineDiff(before, after string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops, dels, ins []lineOp
	flush := func() {
		ops = append(ops, dels...)
		ops = append(ops, ins...)
		dels, ins = dels[:0], ins[:0]
	}
	for _, d := range diffs {
		for _, line := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffDelete:
				dels = append(dels, lineOp{opDelete, line})
			case diffmatchpatch.DiffInsert:
				ins = append(ins, lineOp{opInsert, line})
			default:
				flush()
				ops = append(ops, lineOp{opEqual, line})
			}
		}
	}
	flush()
	return ops
}

// Unified returns a unified diff from before to after with a/ and b/
// prefixed headers for path. It returns "" when the contents are equal.
func Unified(path, before, after string) string {
	return UnifiedContext(path, before, after, DefaultContext)
}

// UnifiedContext is Unified with a custom number of context lines.
func UnifiedContext(path, before, after string, context int) string {
	if before == after {
		return ""
	}
	if context < 0 {
		context = 0
	}
	ops := lineDiff(before, after)
	hunks := buildHunks(ops, context)
	if len(hunks) == 0 {
		return ""
	}

	path = strings.TrimPrefix(path, "/")
	out, err := godiff.PrintFileDiff(&godiff.FileDiff{
		OrigName: "a/" + path,
		NewName:  "b/" + path,
		Hunks:    hunks,
	})
	if err != nil {
		// Printing into a bytes.Buffer does not fail.
		return ""
	}
	return string(out)
}

// buildHunks groups changed lines with their context. Changes separated by
// at most 2*context unchanged lines share a hunk.
func buildHunks(ops []lineOp, context int) []*godiff.Hunk {
	var changes []int
	for i, op := range ops {
		if op.kind != opEqual {
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var hunks []*godiff.Hunk
	start := max(changes[0]-context, 0)
	end := changes[0] + 1
	for _, idx := range changes[1:] {
		if idx-end <= 2*context {
			end = idx + 1
			continue
		}
		hunks = append(hunks, renderHunk(ops, start, min(end+context, len(ops))))
		start = idx - context
		end = idx + 1
	}
	hunks = append(hunks, renderHunk(ops, start, min(end+context, len(ops))))
	return hunks
}

func renderHunk(ops []lineOp, start, end int) *godiff.Hunk {
	var origBefore, newBefore int32
	for _, op := range ops[:start] {
		if op.kind != opInsert {
			origBefore++
		}
		if op.kind != opDelete {
			newBefore++
		}
	}

	h := &godiff.Hunk{}
	var body strings.Builder
	for i := start; i < end; i++ {
		op := ops[i]
		if op.kind != opInsert {
			h.OrigLines++
		}
		if op.kind != opDelete {
			h.NewLines++
		}

		body.WriteByte(byte(op.kind))
		body.WriteString(op.text)
		if !strings.HasSuffix(op.text, "\n") && i < end-1 {
			// Only an original-side line can lack a newline mid-hunk,
			// because insertions are ordered after deletions.
			body.WriteByte('\n')
			h.OrigNoNewlineAt = int32(body.Len())
		}
	}
	h.Body = []byte(body.String())

	h.OrigStartLine = origBefore
	if h.OrigLines > 0 {
		h.OrigStartLine++
	}
	h.NewStartLine = newBefore
	if h.NewLines > 0 {
		h.NewStartLine++
	}
	return h
}

// FirstChangedLine returns the zero-based line in after where it first
// differs from before, or -1 when they are equal.
func FirstChangedLine(before, after string) int {
	if before == after {
		return -1
	}
	line := 0
	for _, op := range lineDiff(before, after) {
		switch op.kind {
		case opEqual:
			line++
		default:
			return line
		}
	}
	return line
}

// Stats counts added and removed lines between before and after.
func Stats(before, after string) (added, removed int) {
	for _, op := range lineDiff(before, after) {
		switch op.kind {
		case opInsert:
			added++
		case opDelete:
			removed++
		}
	}
	return added, removed
}
