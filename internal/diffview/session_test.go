package diffview_test

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/diffview/internal/diagnostics"
	"github.com/opencode-ai/diffview/internal/diffview"
	"github.com/opencode-ai/diffview/internal/formatter"
	"github.com/opencode-ai/diffview/internal/surface"
)

// scriptedDiagnostics returns before on the first snapshot and after on
// every later one.
type scriptedDiagnostics struct {
	before, after diagnostics.Snapshot
	calls         int
	touched       []string
}

func (d *scriptedDiagnostics) Snapshot(ctx context.Context) (diagnostics.Snapshot, error) {
	d.calls++
	if d.calls == 1 {
		return d.before, nil
	}
	return d.after, nil
}

func (d *scriptedDiagnostics) Touch(ctx context.Context, path string) error {
	d.touched = append(d.touched, path)
	return nil
}

// appendingFormatter appends a trailing comment on every save.
type appendingFormatter struct{}

func (appendingFormatter) Format(ctx context.Context, path string) (*formatter.FormatResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, append(data, []byte("// formatted\n")...), 0644); err != nil {
		return nil, err
	}
	return &formatter.FormatResult{FilePath: path, Success: true, Changed: true}, nil
}

// crowdingHost fails OpenDiff after turning the provisioned file into a
// non-empty directory, so nothing it provisioned can be removed.
type crowdingHost struct {
	*surface.MemoryHost
}

var errNoSurface = errors.New("no surface")

func (h crowdingHost) OpenDiff(ctx context.Context, absPath, original string) (surface.Surface, error) {
	if err := os.Remove(absPath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(absPath, "keep"), 0755); err != nil {
		return nil, err
	}
	return nil, errNoSurface
}

func numbered(prefix string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(prefix)
		b.WriteString(strings.Repeat("x", i))
		b.WriteString("\n")
	}
	return b.String()
}

func fadedLines(surf surface.Surface) int {
	n := 0
	for _, r := range surf.Decorations(surface.StyleFaded) {
		n += r.Len()
	}
	return n
}

var _ = Describe("Session", func() {
	var (
		ctx     context.Context
		root    string
		host    *surface.MemoryHost
		diags   *scriptedDiagnostics
		session *diffview.Session
	)

	readFile := func(rel string) string {
		data, err := os.ReadFile(filepath.Join(root, rel))
		Expect(err).NotTo(HaveOccurred())
		return string(data)
	}
	writeFile := func(rel, content string) {
		path := filepath.Join(root, rel)
		Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		root = GinkgoT().TempDir()
		host = surface.NewMemoryHost(surface.WithVisibleLines(5))
		diags = &scriptedDiagnostics{before: diagnostics.Snapshot{}, after: diagnostics.Snapshot{}}
		session = diffview.New(root, host, diags)
	})

	Describe("modifying a file", func() {
		BeforeEach(func() {
			writeFile("a.txt", "a\nb\n")
		})

		It("approves an unchanged proposal without user edits", func() {
			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			Expect(session.OriginalContent()).To(Equal("a\nb\n"))
			Expect(session.EditType()).To(Equal(diffview.EditModify))

			Expect(session.Update(ctx, "a\nb\n", true)).To(Succeed())
			res, err := session.SaveChanges(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.UserEdits).To(BeEmpty())
			Expect(res.AutoFormattingEdits).To(BeEmpty())
			Expect(res.NewProblemsMessage).To(BeEmpty())
			Expect(res.FinalContent).To(Equal("a\nb\n"))
			Expect(readFile("a.txt")).To(Equal("a\nb\n"))
		})

		It("reports edits the reviewer made before approving", func() {
			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			Expect(session.Update(ctx, "a\nb\n", true)).To(Succeed())
			Expect(host.EditSurface(session.Surface().ID(), "a\nB\n")).To(Succeed())

			res, err := session.SaveChanges(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.UserEdits).To(ContainSubstring("--- a/a.txt\n+++ b/a.txt\n"))
			Expect(res.UserEdits).To(ContainSubstring("-b\n+B\n"))
			Expect(res.FinalContent).To(Equal("a\nB\n"))
			Expect(readFile("a.txt")).To(Equal("a\nB\n"))
		})

		It("brings the file view forward and closes the surface on save", func() {
			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			surf := session.Surface()
			Expect(session.Update(ctx, "a\nc\n", true)).To(Succeed())
			_, err := session.SaveChanges(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(surf.Closed()).To(BeTrue())
			Expect(host.Foreground()).To(Equal(filepath.Join(root, "a.txt")))
			Expect(diags.touched).To(ConsistOf(filepath.Join(root, "a.txt")))
		})

		It("unifies line endings to the reviewed content before comparing", func() {
			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			Expect(session.Update(ctx, "a\nb", true)).To(Succeed())
			Expect(host.EditSurface(session.Surface().ID(), "a\r\nb\r\n\r\n")).To(Succeed())

			res, err := session.SaveChanges(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.UserEdits).To(BeEmpty())
			Expect(res.FinalContent).To(Equal("a\r\nb\r\n"))
		})

		It("reports format-on-save changes separately", func() {
			host = surface.NewMemoryHost(surface.WithFormatter(appendingFormatter{}))
			session = diffview.New(root, host, diags)

			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			Expect(session.Update(ctx, "a\nb\nc\n", true)).To(Succeed())
			res, err := session.SaveChanges(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.UserEdits).To(BeEmpty())
			Expect(res.AutoFormattingEdits).To(ContainSubstring("+// formatted\n"))
			Expect(res.FinalContent).To(Equal("a\nb\nc\n// formatted\n"))
		})

		It("appends only new error diagnostics to the result", func() {
			path := filepath.Join(root, "a.txt")
			existing := diagnostics.Diagnostic{
				Range:    diagnostics.Range{Start: diagnostics.Position{Line: 0}},
				Severity: diagnostics.SeverityError,
				Source:   "lint",
				Message:  "already broken",
			}
			diags.before = diagnostics.Snapshot{path: {existing}}
			diags.after = diagnostics.Snapshot{path: {
				{Range: diagnostics.Range{Start: diagnostics.Position{Line: 2}}, Severity: diagnostics.SeverityWarning, Message: "style"},
				{Range: diagnostics.Range{Start: diagnostics.Position{Line: 1}}, Severity: diagnostics.SeverityError, Source: "lint", Message: "undefined: x"},
				existing,
			}}

			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			Expect(session.Update(ctx, "a\nx\n", true)).To(Succeed())
			res, err := session.SaveChanges(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.NewProblemsMessage).To(Equal(diffview.NewProblemsHeader + "a.txt\n- [lint Error] Line 2: undefined: x"))
		})

		It("overwrites the original as lines stream in and shrinks the faded region", func() {
			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			surf := session.Surface()
			Expect(surf.Decorations(surface.StyleFaded)).To(Equal([]surface.LineRange{{Start: 0, End: 3}}))
			Expect(fadedLines(surf)).To(Equal(3))

			Expect(session.Update(ctx, "x\ny", false)).To(Succeed())
			Expect(session.StreamedLineCount()).To(Equal(1))
			Expect(surf.Text()).To(Equal("x\nb\n"))
			Expect(surf.Decorations(surface.StyleActive)).To(Equal([]surface.LineRange{{Start: 0, End: 1}}))
			Expect(surf.Decorations(surface.StyleFaded)).To(Equal([]surface.LineRange{{Start: 1, End: 3}}))
			Expect(fadedLines(surf)).To(Equal(2))

			Expect(session.Update(ctx, "x\ny\nz", false)).To(Succeed())
			Expect(session.StreamedLineCount()).To(Equal(2))
			Expect(surf.Text()).To(Equal("x\ny\n"))
			Expect(surf.Decorations(surface.StyleActive)).To(Equal([]surface.LineRange{{Start: 1, End: 2}}))
			Expect(fadedLines(surf)).To(Equal(1))

			Expect(session.Update(ctx, "x\ny\nz\n", true)).To(Succeed())
			Expect(surf.Text()).To(Equal("x\ny\nz\n"))
			Expect(surf.Decorations(surface.StyleActive)).To(BeEmpty())
			Expect(surf.Decorations(surface.StyleFaded)).To(BeEmpty())
		})

		It("keeps the surface at the original length while streaming a same-length rewrite", func() {
			writeFile("ten.txt", numbered("o", 10))
			Expect(session.Open(ctx, "ten.txt")).To(Succeed())
			surf := session.Surface()
			Expect(surf.LineCount()).To(Equal(11))

			prev := fadedLines(surf)
			for _, n := range []int{3, 6, 9} {
				Expect(session.Update(ctx, numbered("n", n)+"partial", false)).To(Succeed())
				Expect(surf.LineCount()).To(Equal(11))
				Expect(surf.Text()).To(Equal(numbered("n", n) + strings.Join(strings.SplitAfter(numbered("o", 10), "\n")[n:], "")))
				Expect(fadedLines(surf)).To(BeNumerically("<", prev))
				prev = fadedLines(surf)
			}
		})

		It("follows the active line only when it leaves the visible range", func() {
			writeFile("long.txt", numbered("o", 30))
			Expect(session.Open(ctx, "long.txt")).To(Succeed())
			surf := session.Surface()

			Expect(session.Update(ctx, numbered("n", 3)+"partial", false)).To(Succeed())
			Expect(surf.VisibleRange().Start).To(Equal(0))

			Expect(session.Update(ctx, numbered("n", 12)+"partial", false)).To(Succeed())
			Expect(surf.VisibleRange().Contains(11)).To(BeTrue())
		})

		It("trims provisional lines on the final update and keeps the trailing newline", func() {
			writeFile("ten.txt", numbered("o", 10))
			Expect(session.Open(ctx, "ten.txt")).To(Succeed())
			surf := session.Surface()

			Expect(session.Update(ctx, numbered("n", 10)+"tail", false)).To(Succeed())
			Expect(session.StreamedLineCount()).To(Equal(10))

			final := strings.TrimSuffix(numbered("n", 6), "\n")
			Expect(session.Update(ctx, final, true)).To(Succeed())
			Expect(surf.Text()).To(Equal(final + "\n"))
			Expect(strings.Count(surf.Text(), "\n")).To(Equal(6))
			Expect(session.StreamedContent()).To(Equal(final + "\n"))
		})

		It("strips byte-order marks from streamed content", func() {
			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			Expect(session.Update(ctx, "\uFEFF\uFEFFa\nb\n", true)).To(Succeed())
			Expect(session.Surface().Text()).To(Equal("a\nb\n"))
		})

		It("flushes an unsaved view before taking the snapshot", func() {
			path := filepath.Join(root, "a.txt")
			Expect(host.OpenView(path)).To(Succeed())
			Expect(host.EditView(path, "edited\n")).To(Succeed())

			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			Expect(session.OriginalContent()).To(Equal("edited\n"))
			Expect(session.WasOpenElsewhere()).To(BeTrue())
			Expect(host.HasView(path)).To(BeFalse())
		})

		It("restores the original bytes and the prior view on revert", func() {
			path := filepath.Join(root, "a.txt")
			Expect(host.OpenView(path)).To(Succeed())

			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			surf := session.Surface()
			Expect(session.Update(ctx, "q\nr\ns", false)).To(Succeed())
			Expect(host.EditSurface(surf.ID(), "human\n")).To(Succeed())
			Expect(surf.Save(ctx, surface.SaveOptions{})).To(Succeed())

			Expect(session.RevertChanges(ctx)).To(Succeed())
			Expect(readFile("a.txt")).To(Equal("a\nb\n"))
			Expect(surf.Closed()).To(BeTrue())
			Expect(host.HasView(path)).To(BeTrue())
			Expect(host.Foreground()).To(Equal(path))
			Expect(session.IsActive()).To(BeFalse())
		})

		It("fails loudly once the surface is closed by the user", func() {
			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			Expect(session.Update(ctx, "a\n", false)).To(Succeed())
			Expect(host.CloseExternally(session.Surface().ID())).To(Succeed())

			Expect(session.Update(ctx, "a\nb\nc", false)).To(MatchError(diffview.ErrSurfaceUnavailable))
			_, err := session.SaveChanges(ctx)
			Expect(err).To(MatchError(diffview.ErrSurfaceUnavailable))
			Expect(session.RevertChanges(ctx)).To(MatchError(diffview.ErrSurfaceUnavailable))
			Expect(session.IsActive()).To(BeFalse())
			Expect(readFile("a.txt")).To(Equal("a\nb\n"))
		})

		It("writes the original back when the surface closes after a save", func() {
			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			surf := session.Surface()
			Expect(session.Update(ctx, "q\nr\n", true)).To(Succeed())
			Expect(host.EditSurface(surf.ID(), "human\n")).To(Succeed())
			Expect(surf.Save(ctx, surface.SaveOptions{SkipFormat: true})).To(Succeed())
			Expect(readFile("a.txt")).To(Equal("human\n"))
			Expect(host.CloseExternally(surf.ID())).To(Succeed())

			Expect(session.RevertChanges(ctx)).To(MatchError(diffview.ErrSurfaceUnavailable))
			Expect(readFile("a.txt")).To(Equal("a\nb\n"))
			Expect(session.IsActive()).To(BeFalse())
		})

		It("returns disk errors unmodified", func() {
			err := session.Open(ctx, "missing.txt")
			Expect(err).To(HaveOccurred())
			Expect(err).To(MatchError(fs.ErrNotExist))
			_, statErr := os.Stat(filepath.Join(root, "missing.txt"))
			Expect(os.IsNotExist(statErr)).To(BeTrue())
			Expect(session.IsActive()).To(BeFalse())
		})
	})

	Describe("creating a file", func() {
		BeforeEach(func() {
			Expect(session.SetEditType(diffview.EditCreate)).To(Succeed())
		})

		It("removes the file and every created directory on reject", func() {
			Expect(session.Open(ctx, "a/b/c/file.txt")).To(Succeed())
			Expect(session.CreatedDirectories()).To(HaveLen(3))
			Expect(session.OriginalContent()).To(BeEmpty())
			Expect(readFile("a/b/c/file.txt")).To(BeEmpty())

			Expect(session.Update(ctx, "hello\nworld\n", true)).To(Succeed())
			Expect(session.RevertChanges(ctx)).To(Succeed())

			for _, dir := range []string{"a/b/c", "a/b", "a"} {
				_, err := os.Stat(filepath.Join(root, dir))
				Expect(os.IsNotExist(err)).To(BeTrue(), dir)
			}
			Expect(session.IsActive()).To(BeFalse())
		})

		It("leaves directories that existed before", func() {
			Expect(os.MkdirAll(filepath.Join(root, "keep"), 0755)).To(Succeed())
			Expect(session.Open(ctx, "keep/new/file.txt")).To(Succeed())
			Expect(session.CreatedDirectories()).To(Equal([]string{filepath.Join(root, "keep", "new")}))

			Expect(session.RevertChanges(ctx)).To(Succeed())
			Expect(filepath.Join(root, "keep")).To(BeADirectory())
			Expect(filepath.Join(root, "keep", "new")).NotTo(BeADirectory())
		})

		It("writes the new file on approve", func() {
			Expect(session.Open(ctx, "pkg/new.go")).To(Succeed())
			Expect(session.Update(ctx, "package pkg", false)).To(Succeed())
			Expect(session.Update(ctx, "package pkg\n", true)).To(Succeed())

			res, err := session.SaveChanges(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.FinalContent).To(Equal("package pkg\n"))
			Expect(res.UserEdits).To(BeEmpty())
			Expect(readFile("pkg/new.go")).To(Equal("package pkg\n"))
		})

		It("refuses to create over an existing file", func() {
			writeFile("exists.txt", "keep me\n")
			Expect(session.Open(ctx, "exists.txt")).To(MatchError(diffview.ErrTargetExists))
			Expect(readFile("exists.txt")).To(Equal("keep me\n"))
		})

		It("logs provisioned paths it cannot remove when the surface fails to open", func() {
			var logs bytes.Buffer
			session = diffview.New(root, crowdingHost{host}, diags,
				diffview.WithLogger(zerolog.New(&logs)))
			Expect(session.SetEditType(diffview.EditCreate)).To(Succeed())

			Expect(session.Open(ctx, "d/file.txt")).To(MatchError(errNoSurface))
			Expect(session.IsActive()).To(BeFalse())
			Expect(logs.String()).To(ContainSubstring("failed to remove provisioned file"))
			Expect(logs.String()).To(ContainSubstring("failed to remove provisioned directories"))
			Expect(filepath.Join(root, "d", "file.txt", "keep")).To(BeADirectory())
		})

		It("still cleans up when the surface was closed", func() {
			Expect(session.Open(ctx, "x/y/file.txt")).To(Succeed())
			Expect(host.CloseExternally(session.Surface().ID())).To(Succeed())

			Expect(session.RevertChanges(ctx)).To(MatchError(diffview.ErrSurfaceUnavailable))
			Expect(filepath.Join(root, "x")).NotTo(BeADirectory())
		})
	})

	Describe("lifecycle", func() {
		BeforeEach(func() {
			writeFile("a.txt", "a\n")
		})

		It("rejects operations outside an active session", func() {
			Expect(session.Update(ctx, "x", true)).To(MatchError(diffview.ErrNotActive))
			_, err := session.SaveChanges(ctx)
			Expect(err).To(MatchError(diffview.ErrNotActive))
			Expect(session.RevertChanges(ctx)).To(MatchError(diffview.ErrNotActive))
		})

		It("rejects out-of-order calls", func() {
			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			Expect(session.Open(ctx, "a.txt")).To(MatchError(diffview.ErrAlreadyActive))
			Expect(session.SetEditType(diffview.EditCreate)).To(MatchError(diffview.ErrAlreadyActive))

			_, err := session.SaveChanges(ctx)
			Expect(err).To(MatchError(diffview.ErrNotFinal))

			Expect(session.Update(ctx, "1\n2\n3\n", false)).To(Succeed())
			Expect(session.Update(ctx, "1\n", false)).To(MatchError(diffview.ErrStreamRegressed))

			Expect(session.Update(ctx, "1\n2\n", true)).To(Succeed())
			Expect(session.Update(ctx, "1\n2\n", true)).To(MatchError(diffview.ErrAlreadyFinal))

			_, err = session.SaveChanges(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = session.SaveChanges(ctx)
			Expect(err).To(MatchError(diffview.ErrAlreadySaved))
			Expect(session.RevertChanges(ctx)).To(MatchError(diffview.ErrAlreadySaved))
		})

		It("clears every field on reset so the session can be reused", func() {
			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			surf := session.Surface()
			Expect(session.Update(ctx, "b\n", true)).To(Succeed())

			session.Reset()
			Expect(surf.Closed()).To(BeTrue())
			Expect(session.IsActive()).To(BeFalse())
			Expect(session.RelPath()).To(BeEmpty())
			Expect(session.OriginalContent()).To(BeEmpty())
			Expect(session.StreamedContent()).To(BeEmpty())
			Expect(session.StreamedLineCount()).To(BeZero())
			Expect(session.CreatedDirectories()).To(BeEmpty())
			Expect(session.Surface()).To(BeNil())
			Expect(readFile("a.txt")).To(Equal("a\n"))

			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			Expect(session.Update(ctx, "c\n", true)).To(Succeed())
			res, err := session.SaveChanges(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.FinalContent).To(Equal("c\n"))
		})

		It("allows reverting after zero updates", func() {
			Expect(session.Open(ctx, "a.txt")).To(Succeed())
			Expect(session.RevertChanges(ctx)).To(Succeed())
			Expect(readFile("a.txt")).To(Equal("a\n"))
		})
	})
})
