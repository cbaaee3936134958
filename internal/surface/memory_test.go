package surface

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/diffview/internal/formatter"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLineRange(t *testing.T) {
	r := LineRange{Start: 2, End: 5}
	assert.Equal(t, 3, r.Len())
	assert.True(t, r.Contains(2))
	assert.True(t, r.Contains(4))
	assert.False(t, r.Contains(5))
	assert.False(t, r.Empty())

	assert.True(t, LineRange{Start: 3, End: 3}.Empty())
	assert.Equal(t, 0, LineRange{Start: 4, End: 1}.Len())
}

func TestOpenDiffReadsDisk(t *testing.T) {
	path := writeTemp(t, "a.txt", "one\ntwo\n")
	h := NewMemoryHost()

	s, err := h.OpenDiff(context.Background(), path, "one\ntwo\n")
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, path, s.Path())
	assert.Equal(t, "one\ntwo\n", s.Text())
	assert.Equal(t, 3, s.LineCount())
	assert.False(t, s.IsDirty())

	_, err = h.OpenDiff(context.Background(), filepath.Join(t.TempDir(), "missing"), "")
	assert.True(t, os.IsNotExist(err))
}

func TestReplaceLines(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		start, end int
		insert     string
		want       string
	}{
		{"insert at top", "a\nb\n", 0, 0, "x\n", "x\na\nb\n"},
		{"replace first line", "a\nb\n", 0, 1, "x\n", "x\nb\n"},
		{"replace all lines", "a\nb\nc", 0, 3, "z", "z"},
		{"delete middle", "a\nb\nc\n", 1, 2, "", "a\nc\n"},
		{"end beyond document", "a\nb", 1, 10, "q\n", "a\nq\n"},
		{"append at end", "a\n", 1, 1, "b\n", "a\nb\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "f.txt", tt.text)
			h := NewMemoryHost()
			s, err := h.OpenDiff(context.Background(), path, tt.text)
			require.NoError(t, err)

			require.NoError(t, s.ReplaceLines(tt.start, tt.end, tt.insert))
			assert.Equal(t, tt.want, s.Text())
			assert.Equal(t, tt.want != tt.text, s.IsDirty())
		})
	}
}

func TestSaveWritesDisk(t *testing.T) {
	path := writeTemp(t, "f.txt", "a\n")
	h := NewMemoryHost()
	s, err := h.OpenDiff(context.Background(), path, "a\n")
	require.NoError(t, err)

	require.NoError(t, s.ReplaceLines(0, 1, "b\n"))
	require.True(t, s.IsDirty())
	require.NoError(t, s.Save(context.Background(), SaveOptions{}))
	assert.False(t, s.IsDirty())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "b\n", string(data))
}

type newlineFormatter struct{ calls int }

func (f *newlineFormatter) Format(ctx context.Context, path string) (*formatter.FormatResult, error) {
	f.calls++
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := []byte(string(data) + "\n")
	if err := os.WriteFile(path, out, 0644); err != nil {
		return nil, err
	}
	return &formatter.FormatResult{FilePath: path, Success: true, Changed: true}, nil
}

func TestSaveRunsFormatter(t *testing.T) {
	path := writeTemp(t, "f.txt", "a\n")
	f := &newlineFormatter{}
	h := NewMemoryHost(WithFormatter(f))
	s, err := h.OpenDiff(context.Background(), path, "a\n")
	require.NoError(t, err)

	require.NoError(t, s.ReplaceLines(0, 1, "b\n"))
	require.NoError(t, s.Save(context.Background(), SaveOptions{}))
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, "b\n\n", s.Text(), "surface reloads formatted content")

	require.NoError(t, s.Save(context.Background(), SaveOptions{SkipFormat: true}))
	assert.Equal(t, 1, f.calls)
}

func TestClosedSurfaceRejectsEdits(t *testing.T) {
	path := writeTemp(t, "f.txt", "a\n")
	h := NewMemoryHost()
	s, err := h.OpenDiff(context.Background(), path, "a\n")
	require.NoError(t, err)

	require.NoError(t, h.CloseExternally(s.ID()))
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.ReplaceLines(0, 1, "b\n"), ErrClosed)
	assert.ErrorIs(t, s.Save(context.Background(), SaveOptions{}), ErrClosed)
	assert.ErrorIs(t, h.CloseExternally(s.ID()), ErrClosed)

	// Closing twice through the host is harmless.
	assert.NoError(t, h.Close(context.Background(), s))
}

func TestVisibleRangeFollowsScroll(t *testing.T) {
	text := ""
	for i := 0; i < 100; i++ {
		text += "line\n"
	}
	path := writeTemp(t, "f.txt", text)
	h := NewMemoryHost(WithVisibleLines(10))
	s, err := h.OpenDiff(context.Background(), path, text)
	require.NoError(t, err)

	assert.Equal(t, LineRange{Start: 0, End: 10}, s.VisibleRange())
	s.ScrollIntoView(50)
	r := s.VisibleRange()
	assert.True(t, r.Contains(50))
	assert.Equal(t, 10, r.Len())
}

func TestViews(t *testing.T) {
	path := writeTemp(t, "f.txt", "a\n")
	h := NewMemoryHost()
	ctx := context.Background()

	assert.False(t, h.HasView(path))
	require.NoError(t, h.OpenView(path))
	assert.True(t, h.HasView(path))

	require.NoError(t, h.EditView(path, "changed\n"))
	require.NoError(t, h.SaveView(ctx, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "changed\n", string(data))

	require.NoError(t, h.CloseView(ctx, path))
	assert.False(t, h.HasView(path))

	require.NoError(t, h.ShowView(ctx, path))
	assert.True(t, h.HasView(path))
	assert.Equal(t, path, h.Foreground())
	text, ok := h.ViewText(path)
	assert.True(t, ok)
	assert.Equal(t, "changed\n", text)
}

func TestListenerReceivesChanges(t *testing.T) {
	path := writeTemp(t, "f.txt", "a\n")

	var mu sync.Mutex
	var kinds []ChangeKind
	h := NewMemoryHost(WithListener(func(c Change) {
		mu.Lock()
		kinds = append(kinds, c.Kind)
		mu.Unlock()
	}))
	ctx := context.Background()

	s, err := h.OpenDiff(ctx, path, "a\n")
	require.NoError(t, err)
	require.NoError(t, s.ReplaceLines(0, 1, "b\n"))
	s.Decorate(StyleFaded, []LineRange{{Start: 0, End: 1}})
	require.NoError(t, h.EditSurface(s.ID(), "c\n"))
	require.NoError(t, h.Close(ctx, s))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ChangeKind{ChangeOpened, ChangeEdited, ChangeDecorated, ChangeEdited, ChangeClosed}, kinds)
}

func TestSurfaceLookup(t *testing.T) {
	path := writeTemp(t, "f.txt", "a\n")
	h := NewMemoryHost()
	s, err := h.OpenDiff(context.Background(), path, "")
	require.NoError(t, err)

	got, ok := h.Surface(s.ID())
	require.True(t, ok)
	assert.Equal(t, s.ID(), got.ID())

	got, ok = h.SurfaceFor(path)
	require.True(t, ok)
	assert.Equal(t, s.ID(), got.ID())

	require.NoError(t, h.Close(context.Background(), s))
	_, ok = h.Surface(s.ID())
	assert.False(t, ok)
}
