package diffview

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/diffview/internal/diagnostics"
	"github.com/opencode-ai/diffview/internal/logging"
	"github.com/opencode-ai/diffview/internal/patch"
	"github.com/opencode-ai/diffview/internal/surface"
)

// EditType says whether a session creates a new file or modifies one.
type EditType int

const (
	EditModify EditType = iota
	EditCreate
)

func (t EditType) String() string {
	if t == EditCreate {
		return "create"
	}
	return "modify"
}

// ParseEditType parses "create" or "modify".
func ParseEditType(s string) (EditType, error) {
	switch strings.ToLower(s) {
	case "create":
		return EditCreate, nil
	case "modify", "":
		return EditModify, nil
	}
	return 0, fmt.Errorf("unknown edit type %q", s)
}

var (
	ErrSurfaceUnavailable = errors.New("diff surface unavailable: it was closed or never opened")
	ErrNotActive          = errors.New("edit session is not active")
	ErrAlreadyActive      = errors.New("edit session is already active")
	ErrAlreadyFinal       = errors.New("final update already applied")
	ErrNotFinal           = errors.New("no final update has been applied")
	ErrAlreadySaved       = errors.New("changes already saved")
	ErrStreamRegressed    = errors.New("streamed content has fewer lines than the previous update")
	ErrTargetExists       = errors.New("file to create already exists")
)

// NewProblemsHeader prefixes SaveResult.NewProblemsMessage.
const NewProblemsHeader = "\n\nNew problems detected after saving the file:\n"

// SaveResult is the outcome of a committed edit.
type SaveResult struct {
	// NewProblemsMessage lists diagnostics introduced by the edit, or is empty.
	NewProblemsMessage string `json:"newProblemsMessage,omitempty"`
	// UserEdits is a patch from the proposed content to what the reviewer
	// left in the surface, or empty if they match.
	UserEdits string `json:"userEdits,omitempty"`
	// AutoFormattingEdits is a patch of what format-on-save changed.
	AutoFormattingEdits string `json:"autoFormattingEdits,omitempty"`
	// FinalContent is the normalized content now on disk.
	FinalContent string `json:"finalContent"`
}

// Option configures a Session.
type Option func(*Session)

// WithSeverities sets which diagnostic severities count as new problems.
func WithSeverities(sev ...diagnostics.Severity) Option {
	return func(s *Session) {
		if len(sev) > 0 {
			s.severities = sev
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session streams one proposed edit of one file onto a review surface and
// then commits or rolls it back. A Session is not safe for concurrent use.
type Session struct {
	root       string
	host       surface.Host
	diags      diagnostics.Provider
	severities []diagnostics.Severity
	logger     zerolog.Logger

	editType      EditType
	relPath       string
	absPath       string
	original      string
	streamed      string
	streamedLines []string
	createdDirs   []string
	wasOpen       bool
	preDiags      diagnostics.Snapshot
	active        bool
	final         bool
	saved         bool

	surf        surface.Surface
	decorations *DecorationTracker
}

// New creates an idle session editing files below root.
func New(root string, host surface.Host, diags diagnostics.Provider, opts ...Option) *Session {
	if diags == nil {
		diags = diagnostics.None
	}
	s := &Session{
		root:       root,
		host:       host,
		diags:      diags,
		severities: diagnostics.DefaultSeverities,
		logger:     logging.Component("diffview"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEditType chooses between creating and modifying. It must be called
// before Open.
func (s *Session) SetEditType(t EditType) error {
	if s.active {
		return ErrAlreadyActive
	}
	s.editType = t
	return nil
}

// RelPath returns the path as passed to Open.
func (s *Session) RelPath() string { return s.relPath }

// AbsPath returns the resolved path of the file under review.
func (s *Session) AbsPath() string { return s.absPath }

// EditType reports whether the session modifies or creates its file.
func (s *Session) EditType() EditType { return s.editType }

// OriginalContent returns the file content captured at Open. It is empty
// for created files.
func (s *Session) OriginalContent() string { return s.original }

// StreamedContent returns the content passed to the last Update.
func (s *Session) StreamedContent() string { return s.streamed }

// StreamedLineCount returns the number of complete lines applied so far.
func (s *Session) StreamedLineCount() int { return len(s.streamedLines) }

// CreatedDirectories returns a copy of the directories Open provisioned,
// deepest last.
func (s *Session) CreatedDirectories() []string { return append([]string(nil), s.createdDirs...) }

// WasOpenElsewhere reports whether the file had an editor view before Open.
func (s *Session) WasOpenElsewhere() bool { return s.wasOpen }

// IsActive reports whether an edit is in progress.
func (s *Session) IsActive() bool { return s.active }

// IsFinal reports whether the final Update has been applied.
func (s *Session) IsFinal() bool { return s.final }

// PreEditDiagnostics returns the diagnostics captured at Open.
func (s *Session) PreEditDiagnostics() diagnostics.Snapshot { return s.preDiags }

// Surface returns the live review surface, or nil when none is open.
func (s *Session) Surface() surface.Surface { return s.surf }

func (s *Session) resolve(relPath string) string {
	if filepath.IsAbs(relPath) {
		return filepath.Clean(relPath)
	}
	return filepath.Join(s.root, relPath)
}

// Open snapshots the file and diagnostics, provisions the file when
// creating, and opens the review surface. Disk errors are returned as is.
func (s *Session) Open(ctx context.Context, relPath string) error {
	if s.active {
		return ErrAlreadyActive
	}
	abs := s.resolve(relPath)
	log := s.logger.With().Str("path", relPath).Str("type", s.editType.String()).Logger()

	if s.host.HasView(abs) {
		if err := s.host.SaveView(ctx, abs); err != nil {
			return fmt.Errorf("flush open view: %w", err)
		}
	}

	pre, err := s.diags.Snapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("pre-edit diagnostics unavailable")
		pre = diagnostics.Snapshot{}
	}

	var (
		original string
		created  []string
	)
	switch s.editType {
	case EditModify:
		data, err := os.ReadFile(abs)
		if err != nil {
			return err
		}
		original = string(data)
	case EditCreate:
		if _, err := os.Stat(abs); err == nil {
			return fmt.Errorf("%w: %s", ErrTargetExists, relPath)
		}
		created, err = CreateDirectoriesForFile(abs)
		if err != nil {
			if rmErr := RemoveDirectories(created); rmErr != nil {
				log.Warn().Err(rmErr).Msg("failed to remove provisioned directories")
			}
			return err
		}
	}

	createdFile := false
	rollback := func() {
		if createdFile {
			if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Warn().Err(err).Msg("failed to remove provisioned file")
			}
		}
		if err := RemoveDirectories(created); err != nil {
			log.Warn().Err(err).Msg("failed to remove provisioned directories")
		}
	}

	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(abs, nil, 0644); err != nil {
			rollback()
			return err
		}
		createdFile = true
	}

	wasOpen := s.host.HasView(abs)
	if wasOpen {
		if err := s.host.CloseView(ctx, abs); err != nil {
			rollback()
			return fmt.Errorf("close existing view: %w", err)
		}
	}

	surf, err := s.host.OpenDiff(ctx, abs, original)
	if err != nil {
		rollback()
		if wasOpen {
			s.host.ShowView(ctx, abs)
		}
		return fmt.Errorf("open diff surface: %w", err)
	}

	s.relPath = relPath
	s.absPath = abs
	s.original = original
	s.createdDirs = created
	s.wasOpen = wasOpen
	s.preDiags = pre
	s.surf = surf
	s.active = true

	s.decorations = NewDecorationTracker(surf)
	s.decorations.Init(surf.LineCount())
	surf.ScrollIntoView(0)

	log.Info().
		Str("surface", surf.ID()).
		Int("createdDirs", len(created)).
		Bool("wasOpen", wasOpen).
		Msg("edit session opened")
	return nil
}

func (s *Session) requireSurface() error {
	if s.surf == nil || s.surf.Closed() {
		return ErrSurfaceUnavailable
	}
	return nil
}

func surfaceErr(err error) error {
	if errors.Is(err, surface.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
	}
	return err
}

func commonPrefix(a, b []string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// Update applies the accumulated proposed content. On non-final calls the
// last line is treated as incomplete and held back. Streamed lines overwrite
// the document from the top through the streamed boundary; original lines
// below the boundary stay in place. Only lines that changed since the
// previous call are rewritten.
func (s *Session) Update(ctx context.Context, content string, final bool) error {
	if !s.active {
		return ErrNotActive
	}
	if s.final {
		return ErrAlreadyFinal
	}
	if err := s.requireSurface(); err != nil {
		return err
	}

	lines := strings.Split(content, "\n")
	if !final {
		lines = lines[:len(lines)-1]
		if len(lines) < len(s.streamedLines) {
			return ErrStreamRegressed
		}
	}

	p := commonPrefix(s.streamedLines, lines)
	if p < len(lines) || p < len(s.streamedLines) {
		text := ""
		if len(lines) > p {
			text = strings.Join(lines[p:], "\n") + "\n"
		}
		if p == 0 {
			text = StripBOMs(text)
		}
		if err := s.surf.ReplaceLines(p, max(len(lines), len(s.streamedLines)), text); err != nil {
			return surfaceErr(err)
		}
	}
	s.streamedLines = lines
	s.streamed = content

	if n := len(lines); n > 0 {
		line := n - 1
		s.decorations.Advance(line, s.surf.LineCount())
		if !s.surf.VisibleRange().Contains(line) {
			s.surf.ScrollIntoView(line)
		}
	}

	if !final {
		return nil
	}

	if lc := s.surf.LineCount(); len(lines) < lc {
		if err := s.surf.ReplaceLines(len(lines), lc, ""); err != nil {
			return surfaceErr(err)
		}
	}
	if strings.HasSuffix(s.original, "\n") && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content = StripBOMs(content)
	if err := s.surf.ReplaceLines(0, s.surf.LineCount(), content); err != nil {
		return surfaceErr(err)
	}
	s.streamed = content
	s.decorations.Clear()
	if line := patch.FirstChangedLine(s.original, content); line >= 0 {
		s.surf.ScrollIntoView(line)
	}
	s.final = true

	s.logger.Debug().Str("path", s.relPath).Int("lines", len(lines)).Msg("final content applied")
	return nil
}

// SaveChanges commits what the reviewer left in the surface and reports how
// it differs from the proposal. New-problem detection never fails the call.
func (s *Session) SaveChanges(ctx context.Context) (*SaveResult, error) {
	if !s.active {
		return nil, ErrNotActive
	}
	if s.saved {
		return nil, ErrAlreadySaved
	}
	if err := s.requireSurface(); err != nil {
		return nil, err
	}
	if !s.final {
		return nil, ErrNotFinal
	}

	pre := s.surf.Text()
	if s.surf.IsDirty() {
		if err := s.surf.Save(ctx, surface.SaveOptions{}); err != nil {
			return nil, fmt.Errorf("save %s: %w", s.relPath, surfaceErr(err))
		}
	}
	post := s.surf.Text()

	if err := s.host.ShowView(ctx, s.absPath); err != nil {
		return nil, fmt.Errorf("show %s: %w", s.relPath, err)
	}
	if err := s.host.Close(ctx, s.surf); err != nil {
		return nil, fmt.Errorf("close surface: %w", err)
	}
	s.surf = nil
	s.saved = true

	eol := DetectEOL(pre)
	proposed := NormalizeForCompare(s.streamed, eol)
	normPre := NormalizeForCompare(pre, eol)
	normPost := NormalizeForCompare(post, eol)

	res := &SaveResult{
		NewProblemsMessage: s.newProblems(ctx),
		FinalContent:       normPost,
	}
	hint := filepath.ToSlash(s.relPath)
	if proposed != normPre {
		res.UserEdits = patch.Unified(hint, proposed, normPre)
	}
	if normPre != normPost {
		res.AutoFormattingEdits = patch.Unified(hint, normPre, normPost)
	}

	s.logger.Info().
		Str("path", s.relPath).
		Bool("userEdits", res.UserEdits != "").
		Bool("autoFormatted", res.AutoFormattingEdits != "").
		Bool("newProblems", res.NewProblemsMessage != "").
		Msg("edit saved")
	return res, nil
}

func (s *Session) newProblems(ctx context.Context) string {
	if t, ok := s.diags.(diagnostics.Toucher); ok {
		if err := t.Touch(ctx, s.absPath); err != nil {
			s.logger.Debug().Err(err).Str("path", s.relPath).Msg("diagnostics touch failed")
		}
	}
	post, err := s.diags.Snapshot(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.relPath).Msg("post-save diagnostics unavailable")
		return ""
	}
	msg := diagnostics.FormatProblems(diagnostics.NewProblems(s.preDiags, post), s.severities, s.root)
	if msg == "" {
		return ""
	}
	return NewProblemsHeader + msg
}

// RevertChanges restores the state from before Open and resets the session.
// For a created file the file and the directories made for it are removed;
// for a modified file the original content is written back.
func (s *Session) RevertChanges(ctx context.Context) error {
	if !s.active {
		return ErrNotActive
	}
	if s.saved {
		return ErrAlreadySaved
	}
	defer s.Reset()

	if s.editType == EditCreate {
		return s.revertCreate(ctx)
	}
	return s.revertModify(ctx)
}

func (s *Session) revertCreate(ctx context.Context) error {
	surfErr := s.requireSurface()
	if surfErr == nil {
		if s.surf.IsDirty() {
			if err := s.surf.Save(ctx, surface.SaveOptions{SkipFormat: true}); err != nil {
				return surfaceErr(err)
			}
		}
		if err := s.host.Close(ctx, s.surf); err != nil {
			return fmt.Errorf("close surface: %w", err)
		}
	}

	// The created file and directories are removed even without a surface.
	if err := os.Remove(s.absPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := RemoveDirectories(s.createdDirs); err != nil {
		return err
	}
	s.logger.Info().Str("path", s.relPath).Int("removedDirs", len(s.createdDirs)).Msg("created file reverted")
	return surfErr
}

func (s *Session) revertModify(ctx context.Context) error {
	if err := s.requireSurface(); err != nil {
		// Without a surface the original is restored on disk directly.
		if werr := os.WriteFile(s.absPath, []byte(s.original), 0644); werr != nil {
			return werr
		}
		s.logger.Warn().Str("path", s.relPath).Msg("surface gone, original written to disk")
		return err
	}
	if err := s.surf.ReplaceLines(0, s.surf.LineCount(), s.original); err != nil {
		return surfaceErr(err)
	}
	if err := s.surf.Save(ctx, surface.SaveOptions{SkipFormat: true}); err != nil {
		return surfaceErr(err)
	}
	if s.wasOpen {
		if err := s.host.ShowView(ctx, s.absPath); err != nil {
			return fmt.Errorf("reopen %s: %w", s.relPath, err)
		}
	}
	if err := s.host.Close(ctx, s.surf); err != nil {
		return fmt.Errorf("close surface: %w", err)
	}
	s.logger.Info().Str("path", s.relPath).Msg("modified file reverted")
	return nil
}

// Reset releases the surface and clears all per-edit state.
func (s *Session) Reset() {
	if s.surf != nil && !s.surf.Closed() {
		if err := s.host.Close(context.Background(), s.surf); err != nil {
			s.logger.Warn().Err(err).Str("path", s.relPath).Msg("failed to close surface on reset")
		}
	}
	s.editType = EditModify
	s.relPath = ""
	s.absPath = ""
	s.original = ""
	s.streamed = ""
	s.streamedLines = nil
	s.createdDirs = nil
	s.wasOpen = false
	s.preDiags = nil
	s.active = false
	s.final = false
	s.saved = false
	s.surf = nil
	s.decorations = nil
}
