package surface

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// ChangeKind identifies a mutation observed on a MemoryHost.
type ChangeKind string

const (
	ChangeOpened    ChangeKind = "opened"
	ChangeEdited    ChangeKind = "edited"
	ChangeSaved     ChangeKind = "saved"
	ChangeDecorated ChangeKind = "decorated"
	ChangeScrolled  ChangeKind = "scrolled"
	ChangeClosed    ChangeKind = "closed"
	ChangeViewShown ChangeKind = "view.shown"
)

// Change describes a single mutation of a surface or view.
type Change struct {
	Kind      ChangeKind  `json:"kind"`
	SurfaceID string      `json:"surfaceID,omitempty"`
	Path      string      `json:"path"`
	Line      int         `json:"line,omitempty"`
	Style     Style       `json:"style,omitempty"`
	Ranges    []LineRange `json:"ranges,omitempty"`
	// Human is set when the change came from a person rather than a session.
	Human bool `json:"human,omitempty"`
}

// Listener receives changes after they are applied. Listeners are called
// without any host lock held and may call back into the host.
type Listener func(Change)

// DefaultVisibleLines is the height of the simulated viewport.
const DefaultVisibleLines = 40

type view struct {
	text  string
	dirty bool
}

// MemoryHost is a Host backed by in-memory buffers. Saves go to disk.
type MemoryHost struct {
	mu           sync.Mutex
	formatter    Formatter
	listeners    []Listener
	visibleLines int

	views      map[string]*view
	surfaces   map[string]*memorySurface
	foreground string
}

// HostOption configures a MemoryHost.
type HostOption func(*MemoryHost)

// WithFormatter runs f on every non-skipped surface save.
func WithFormatter(f Formatter) HostOption {
	return func(h *MemoryHost) { h.formatter = f }
}

// WithListener registers a change listener.
func WithListener(l Listener) HostOption {
	return func(h *MemoryHost) { h.listeners = append(h.listeners, l) }
}

// WithVisibleLines sets the viewport height used by VisibleRange.
func WithVisibleLines(n int) HostOption {
	return func(h *MemoryHost) {
		if n > 0 {
			h.visibleLines = n
		}
	}
}

// NewMemoryHost creates an empty host.
func NewMemoryHost(opts ...HostOption) *MemoryHost {
	h := &MemoryHost{
		visibleLines: DefaultVisibleLines,
		views:        make(map[string]*view),
		surfaces:     make(map[string]*memorySurface),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddListener registers l after construction.
func (h *MemoryHost) AddListener(l Listener) {
	h.mu.Lock()
	h.listeners = append(h.listeners, l)
	h.mu.Unlock()
}

func (h *MemoryHost) notify(changes ...Change) {
	h.mu.Lock()
	listeners := append([]Listener(nil), h.listeners...)
	h.mu.Unlock()
	for _, c := range changes {
		for _, l := range listeners {
			l(c)
		}
	}
}

// OpenDiff opens a review surface over the current on-disk content of absPath.
func (h *MemoryHost) OpenDiff(ctx context.Context, absPath, original string) (Surface, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	s := &memorySurface{
		host:        h,
		id:          ulid.Make().String(),
		path:        absPath,
		original:    original,
		text:        string(data),
		decorations: make(map[Style][]LineRange),
	}
	h.mu.Lock()
	h.surfaces[s.id] = s
	h.mu.Unlock()

	log.Debug().Str("surface", s.id).Str("path", absPath).Msg("diff surface opened")
	h.notify(Change{Kind: ChangeOpened, SurfaceID: s.id, Path: absPath})
	return s, nil
}

// Close discards the surface. Unsaved text is lost.
func (h *MemoryHost) Close(ctx context.Context, s Surface) error {
	ms, ok := s.(*memorySurface)
	if !ok || ms.host != h {
		return fmt.Errorf("surface %s not owned by this host", s.ID())
	}
	h.mu.Lock()
	if ms.closed {
		h.mu.Unlock()
		return nil
	}
	ms.closed = true
	delete(h.surfaces, ms.id)
	h.mu.Unlock()

	h.notify(Change{Kind: ChangeClosed, SurfaceID: ms.id, Path: ms.path})
	return nil
}

// Surface looks up an open surface by ID.
func (h *MemoryHost) Surface(id string) (Surface, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.surfaces[id]
	if !ok {
		return nil, false
	}
	return s, true
}

// SurfaceFor returns the open surface for absPath, if any.
func (h *MemoryHost) SurfaceFor(absPath string) (Surface, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.surfaces {
		if s.path == absPath {
			return s, true
		}
	}
	return nil, false
}

// EditSurface replaces the whole surface text as a human edit would.
func (h *MemoryHost) EditSurface(id, text string) error {
	h.mu.Lock()
	s, ok := h.surfaces[id]
	if !ok {
		h.mu.Unlock()
		return ErrClosed
	}
	if s.text != text {
		s.text = text
		s.dirty = true
	}
	h.mu.Unlock()

	h.notify(Change{Kind: ChangeEdited, SurfaceID: id, Path: s.path, Human: true})
	return nil
}

// CloseExternally closes a surface as if the user dismissed it.
func (h *MemoryHost) CloseExternally(id string) error {
	h.mu.Lock()
	s, ok := h.surfaces[id]
	h.mu.Unlock()
	if !ok {
		return ErrClosed
	}
	return h.Close(context.Background(), s)
}

// OpenView opens a plain view of absPath from disk.
func (h *MemoryHost) OpenView(absPath string) error {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.views[absPath] = &view{text: string(data)}
	h.mu.Unlock()
	return nil
}

// EditView changes the text of an open view without saving it.
func (h *MemoryHost) EditView(absPath, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.views[absPath]
	if !ok {
		return fmt.Errorf("no view open for %s", absPath)
	}
	v.text = text
	v.dirty = true
	return nil
}

// ViewText returns the text of an open view.
func (h *MemoryHost) ViewText(absPath string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.views[absPath]
	if !ok {
		return "", false
	}
	return v.text, true
}

// Foreground returns the path of the view shown last.
func (h *MemoryHost) Foreground() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.foreground
}

// HasView reports whether a plain editor view of absPath is open.
func (h *MemoryHost) HasView(absPath string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.views[absPath]
	return ok
}

// SaveView writes a dirty view of absPath to disk. Clean or missing views
// are left alone.
func (h *MemoryHost) SaveView(ctx context.Context, absPath string) error {
	h.mu.Lock()
	v, ok := h.views[absPath]
	if !ok || !v.dirty {
		h.mu.Unlock()
		return nil
	}
	text := v.text
	h.mu.Unlock()

	if err := writeFile(absPath, text); err != nil {
		return err
	}
	h.mu.Lock()
	v.dirty = false
	h.mu.Unlock()
	return nil
}

// CloseView drops the view of absPath without saving it.
func (h *MemoryHost) CloseView(ctx context.Context, absPath string) error {
	h.mu.Lock()
	delete(h.views, absPath)
	if h.foreground == absPath {
		h.foreground = ""
	}
	h.mu.Unlock()
	return nil
}

// ShowView brings a view of absPath to the foreground, opening it from disk
// if needed.
func (h *MemoryHost) ShowView(ctx context.Context, absPath string) error {
	if !h.HasView(absPath) {
		if err := h.OpenView(absPath); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.foreground = absPath
	h.mu.Unlock()

	h.notify(Change{Kind: ChangeViewShown, Path: absPath})
	return nil
}

func writeFile(path, text string) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, []byte(text), mode)
}

type memorySurface struct {
	host *MemoryHost

	id       string
	path     string
	original string

	text        string
	dirty       bool
	closed      bool
	top         int
	decorations map[Style][]LineRange
}

func (s *memorySurface) ID() string   { return s.id }
func (s *memorySurface) Path() string { return s.path }

// Original returns the text shown on the left side of the diff.
func (s *memorySurface) Original() string { return s.original }

func (s *memorySurface) Text() string {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	return s.text
}

// LineCount counts a trailing newline as starting an empty last line.
func (s *memorySurface) LineCount() int {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	return lineCount(s.text)
}

func lineCount(text string) int {
	return strings.Count(text, "\n") + 1
}

// lineOffset returns the byte offset at which line starts, clamped to len(text).
func lineOffset(text string, line int) int {
	if line <= 0 {
		return 0
	}
	off := 0
	for i := 0; i < line; i++ {
		idx := strings.IndexByte(text[off:], '\n')
		if idx < 0 {
			return len(text)
		}
		off += idx + 1
	}
	return off
}

// ReplaceLines clamps start and end to the text, so a range past the last
// line appends.
func (s *memorySurface) ReplaceLines(start, end int, text string) error {
	s.host.mu.Lock()
	if s.closed {
		s.host.mu.Unlock()
		return ErrClosed
	}
	if end < start {
		s.host.mu.Unlock()
		return fmt.Errorf("invalid line range [%d, %d)", start, end)
	}
	from := lineOffset(s.text, start)
	to := lineOffset(s.text, end)
	updated := s.text[:from] + text + s.text[to:]
	if updated != s.text {
		s.text = updated
		s.dirty = true
	}
	s.host.mu.Unlock()

	s.host.notify(Change{Kind: ChangeEdited, SurfaceID: s.id, Path: s.path, Line: start})
	return nil
}

func (s *memorySurface) IsDirty() bool {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	return s.dirty
}

func (s *memorySurface) Save(ctx context.Context, opts SaveOptions) error {
	s.host.mu.Lock()
	if s.closed {
		s.host.mu.Unlock()
		return ErrClosed
	}
	text := s.text
	formatter := s.host.formatter
	s.host.mu.Unlock()

	if err := writeFile(s.path, text); err != nil {
		return err
	}
	s.host.mu.Lock()
	if s.text == text {
		s.dirty = false
	}
	s.host.mu.Unlock()

	if !opts.SkipFormat && formatter != nil {
		res, err := formatter.Format(ctx, s.path)
		if err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("format on save failed")
		} else if res != nil && res.Changed {
			data, err := os.ReadFile(s.path)
			if err != nil {
				return err
			}
			s.host.mu.Lock()
			s.text = string(data)
			s.dirty = false
			s.host.mu.Unlock()
		}
	}

	s.host.notify(Change{Kind: ChangeSaved, SurfaceID: s.id, Path: s.path})
	return nil
}

func (s *memorySurface) ScrollIntoView(line int) {
	s.host.mu.Lock()
	top := line - s.host.visibleLines/2
	if top < 0 {
		top = 0
	}
	s.top = top
	s.host.mu.Unlock()

	s.host.notify(Change{Kind: ChangeScrolled, SurfaceID: s.id, Path: s.path, Line: line})
}

func (s *memorySurface) VisibleRange() LineRange {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	end := s.top + s.host.visibleLines
	if n := lineCount(s.text); end > n {
		end = n
	}
	return LineRange{Start: s.top, End: end}
}

func (s *memorySurface) Decorate(style Style, ranges []LineRange) {
	cp := append([]LineRange(nil), ranges...)
	s.host.mu.Lock()
	s.decorations[style] = cp
	s.host.mu.Unlock()

	s.host.notify(Change{Kind: ChangeDecorated, SurfaceID: s.id, Path: s.path, Style: style, Ranges: cp})
}

func (s *memorySurface) Decorations(style Style) []LineRange {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	return append([]LineRange(nil), s.decorations[style]...)
}

func (s *memorySurface) Closed() bool {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	return s.closed
}
