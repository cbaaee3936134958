// Package review runs many edit sessions side by side, each identified by a
// ULID, and records their outcome.
package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/diffview/internal/diagnostics"
	"github.com/opencode-ai/diffview/internal/diffview"
	"github.com/opencode-ai/diffview/internal/event"
	"github.com/opencode-ai/diffview/internal/logging"
	"github.com/opencode-ai/diffview/internal/patch"
	"github.com/opencode-ai/diffview/internal/storage"
	"github.com/opencode-ai/diffview/internal/surface"
	"github.com/opencode-ai/diffview/internal/watch"
	"github.com/opencode-ai/diffview/pkg/types"
)

var (
	ErrNotFound   = errors.New("review not found")
	ErrPathDenied = errors.New("path is not allowed for review")
	ErrPathBusy   = errors.New("path already has an open review")
)

// Options configures a Service. Root and Host are required.
type Options struct {
	Root        string
	Host        surface.Host
	Diagnostics diagnostics.Provider
	History     *storage.History
	Watcher     *watch.Watcher
	Bus         *event.Bus

	// Deny lists doublestar globs, relative to Root, that may not be reviewed.
	Deny           []string
	Severities     []diagnostics.Severity
	FuzzyThreshold float64
}

// OpenRequest starts a review.
type OpenRequest struct {
	Path   string `json:"path"`
	Create bool   `json:"create,omitempty"`
}

// EditResult is the review state after a search/replace edit, with how each
// block matched.
type EditResult struct {
	Review  *types.Review `json:"review"`
	Matches []Match       `json:"matches"`
}

type entry struct {
	mu      sync.Mutex
	session *diffview.Session
	review  types.Review
	untrack func()
}

// Service owns the open reviews of one project root.
type Service struct {
	opts   Options
	bus    *event.Bus
	logger zerolog.Logger

	mu        sync.RWMutex
	reviews   map[string]*entry
	byPath    map[string]string
	bySurface map[string]string
}

// NewService validates opts and creates a service.
func NewService(opts Options) (*Service, error) {
	if opts.Root == "" || opts.Host == nil {
		return nil, errors.New("review: root and host are required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	opts.Root = root
	for _, pattern := range opts.Deny {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", pattern, doublestar.ErrBadPattern)
		}
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = DefaultFuzzyThreshold
	}
	bus := opts.Bus
	if bus == nil {
		bus = event.Default()
	}
	return &Service{
		opts:      opts,
		bus:       bus,
		logger:    logging.Component("review"),
		reviews:   make(map[string]*entry),
		byPath:    make(map[string]string),
		bySurface: make(map[string]string),
	}, nil
}

// Root returns the absolute project root.
func (s *Service) Root() string { return s.opts.Root }

func now() int64 { return time.Now().UnixMilli() }

// resolve checks relPath against the root and deny globs and returns the
// cleaned relative path and the absolute path.
func (s *Service) resolve(relPath string) (string, string, error) {
	if relPath == "" {
		return "", "", fmt.Errorf("%w: empty path", ErrPathDenied)
	}
	abs := relPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.opts.Root, relPath)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(s.opts.Root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s is outside %s", ErrPathDenied, relPath, s.opts.Root)
	}
	slashed := filepath.ToSlash(rel)
	for _, pattern := range s.opts.Deny {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return "", "", fmt.Errorf("%w: %s matches %q", ErrPathDenied, slashed, pattern)
		}
	}
	return rel, abs, nil
}

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.reviews[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (s *Service) publish(t event.EventType, data any) {
	s.bus.Publish(event.Event{Type: t, Data: data})
}

// snapshot refreshes e.review from its session. Caller holds e.mu.
func (e *entry) snapshot() *types.Review {
	if sess := e.session; sess != nil && sess.IsActive() {
		e.review.StreamedLines = sess.StreamedLineCount()
		e.review.CreatedDirectories = sess.CreatedDirectories()
		e.review.WasOpenElsewhere = sess.WasOpenElsewhere()
		if surf := sess.Surface(); surf != nil && !surf.Closed() {
			e.review.SurfaceID = surf.ID()
		} else {
			e.review.SurfaceID = ""
		}
	}
	r := e.review
	r.CreatedDirectories = append([]string(nil), e.review.CreatedDirectories...)
	return &r
}

// Open starts a review of req.Path and opens its surface.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*types.Review, error) {
	rel, abs, err := s.resolve(req.Path)
	if err != nil {
		return nil, err
	}

	id := ulid.Make().String()
	s.mu.Lock()
	if other, busy := s.byPath[abs]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (review %s)", ErrPathBusy, rel, other)
	}
	s.byPath[abs] = id
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.byPath, abs)
		for surf, rid := range s.bySurface {
			if rid == id {
				delete(s.bySurface, surf)
			}
		}
		s.mu.Unlock()
	}

	sess := diffview.New(s.opts.Root, s.opts.Host, s.opts.Diagnostics,
		diffview.WithSeverities(s.opts.Severities...),
		diffview.WithLogger(s.logger.With().Str("review", id).Logger()),
	)
	editType := diffview.EditModify
	if req.Create {
		editType = diffview.EditCreate
	}
	if err := sess.SetEditType(editType); err != nil {
		release()
		return nil, err
	}
	if err := sess.Open(ctx, rel); err != nil {
		release()
		return nil, err
	}

	ts := now()
	e := &entry{
		session: sess,
		review: types.Review{
			ID:       id,
			Path:     filepath.ToSlash(rel),
			EditType: editType.String(),
			Status:   types.ReviewOpen,
			Time:     types.ReviewTime{Created: ts, Updated: ts},
		},
	}

	if s.opts.Watcher != nil {
		untrack, err := s.opts.Watcher.Track(abs, func(path string, op fsnotify.Op) {
			s.fileGone(id, path, op)
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("path", rel).Msg("file not watched")
		} else {
			e.untrack = untrack
		}
	}

	e.mu.Lock()
	info := e.snapshot()
	e.mu.Unlock()

	s.mu.Lock()
	s.reviews[id] = e
	if info.SurfaceID != "" {
		s.bySurface[info.SurfaceID] = id
	}
	s.mu.Unlock()

	s.logger.Info().Str("review", id).Str("path", info.Path).Str("type", info.EditType).Msg("review opened")
	s.publish(event.ReviewOpened, event.ReviewData{Info: info})
	return info, nil
}

// Update streams content into the review's surface.
func (s *Service) Update(ctx context.Context, id, content string, final bool) (*types.Review, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.updateLocked(ctx, e, content, final)
}

func (s *Service) updateLocked(ctx context.Context, e *entry, content string, final bool) (*types.Review, error) {
	if e.session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, e.review.ID)
	}
	if err := e.session.Update(ctx, content, final); err != nil {
		return nil, err
	}
	e.review.Time.Updated = now()
	typ := event.ReviewUpdated
	if final {
		e.review.Status = types.ReviewFinal
		typ = event.ReviewFinalized
	}
	info := e.snapshot()
	s.publish(typ, event.ReviewData{Info: info})
	return info, nil
}

// Edit applies search/replace blocks to the original content and streams
// the result as the final update.
func (s *Service) Edit(ctx context.Context, id string, blocks []Replacement) (*EditResult, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	content, matches, err := ApplyReplacements(e.session.OriginalContent(), blocks, s.opts.FuzzyThreshold)
	if err != nil {
		return nil, err
	}
	info, err := s.updateLocked(ctx, e, content, true)
	if err != nil {
		return nil, err
	}
	return &EditResult{Review: info, Matches: matches}, nil
}

// Approve saves the review and records it in history.
func (s *Service) Approve(ctx context.Context, id string) (*types.ReviewResult, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	original := e.session.OriginalContent()
	abs := e.session.AbsPath()
	// Snapshot before the surface closes
	e.snapshot()

	if e.untrack != nil {
		e.untrack()
	}
	res, err := e.session.SaveChanges(ctx)
	if err != nil {
		e.retrack(s, abs)
		return nil, err
	}

	result := &types.ReviewResult{
		NewProblemsMessage:  res.NewProblemsMessage,
		UserEdits:           res.UserEdits,
		AutoFormattingEdits: res.AutoFormattingEdits,
		FinalContent:        res.FinalContent,
	}
	e.session.Reset()
	info := s.finish(ctx, e, types.ReviewApproved, result, original, res.FinalContent, nil)

	s.publish(event.FileEdited, event.FileEditedData{File: abs})
	s.publish(event.ReviewApproved, event.ReviewApprovedData{Info: info, Result: result})
	return result, nil
}

// Reject reverts the review and records it in history. The review is
// closed even when the revert fails; the error is returned and recorded.
func (s *Service) Reject(ctx context.Context, id string) (*types.Review, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	original := e.session.OriginalContent()
	e.snapshot()
	if e.untrack != nil {
		e.untrack()
	}
	revertErr := e.session.RevertChanges(ctx)

	info := s.finish(ctx, e, types.ReviewRejected, nil, original, original, revertErr)
	data := event.ReviewRejectedData{Info: info}
	if revertErr != nil {
		data.Error = revertErr.Error()
	}
	s.publish(event.ReviewRejected, data)
	return info, revertErr
}

// retrack restores file watching after a failed save. Caller holds e.mu.
func (e *entry) retrack(s *Service, abs string) {
	if s.opts.Watcher == nil {
		return
	}
	id := e.review.ID
	untrack, err := s.opts.Watcher.Track(abs, func(path string, op fsnotify.Op) {
		s.fileGone(id, path, op)
	})
	if err == nil {
		e.untrack = untrack
	}
}

// finish removes e from the service and writes its history record. Caller
// holds e.mu.
func (s *Service) finish(ctx context.Context, e *entry, status types.ReviewStatus, result *types.ReviewResult, before, after string, cause error) *types.Review {
	ts := now()
	e.review.Status = status
	e.review.SurfaceID = ""
	e.review.Time.Updated = ts
	e.review.Time.Closed = &ts
	e.session = nil
	info := e.snapshot()

	s.mu.Lock()
	delete(s.reviews, info.ID)
	for path, id := range s.byPath {
		if id == info.ID {
			delete(s.byPath, path)
		}
	}
	for surf, id := range s.bySurface {
		if id == info.ID {
			delete(s.bySurface, surf)
		}
	}
	s.mu.Unlock()

	if s.opts.History != nil {
		rec := &types.ReviewRecord{Review: *info, Result: result}
		rec.Additions, rec.Deletions = patch.Stats(before, after)
		if cause != nil {
			rec.Error = cause.Error()
		}
		if err := s.opts.History.Record(ctx, rec); err != nil {
			s.logger.Error().Err(err).Str("review", info.ID).Msg("failed to record review history")
		}
	}

	s.logger.Info().Str("review", info.ID).Str("path", info.Path).Str("status", string(status)).Msg("review closed")
	return info
}

// fileGone closes the surface of a review whose file was removed, so the
// next update fails with diffview.ErrSurfaceUnavailable.
func (s *Service) fileGone(id, path string, op fsnotify.Op) {
	e, err := s.lookup(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return
	}
	if _, err := os.Stat(path); err == nil {
		// Replaced by a rename onto the same name; the file is still there.
		return
	}
	if surf := e.session.Surface(); surf != nil && !surf.Closed() {
		if err := s.opts.Host.Close(context.Background(), surf); err != nil {
			s.logger.Warn().Err(err).Str("review", id).Msg("failed to close surface of removed file")
		}
	}
	info := e.snapshot()
	s.logger.Warn().Str("review", id).Str("path", path).Str("op", op.String()).Msg("file under review removed")
	s.publish(event.FileRemoved, event.FileRemovedData{File: path, ReviewID: id})
	s.publish(event.ReviewClosed, event.ReviewData{Info: info})
}

// Get returns an open review, or a closed one from history.
func (s *Service) Get(ctx context.Context, id string) (*types.Review, error) {
	if e, err := s.lookup(id); err == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.snapshot(), nil
	}
	if s.opts.History != nil {
		rec, err := s.opts.History.Get(ctx, id)
		if err == nil {
			return &rec.Review, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns the open reviews, oldest first.
func (s *Service) List() []types.Review {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.reviews))
	for _, e := range s.reviews {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]types.Review, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, *e.snapshot())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns closed reviews, most recent first.
func (s *Service) History(ctx context.Context, filter storage.HistoryFilter) ([]types.ReviewRecord, error) {
	if s.opts.History == nil {
		return nil, nil
	}
	return s.opts.History.List(ctx, filter)
}

// Surface returns the live surface of an open review.
func (s *Service) Surface(id string) (surface.Surface, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	surf := e.session.Surface()
	if surf == nil || surf.Closed() {
		return nil, diffview.ErrSurfaceUnavailable
	}
	return surf, nil
}

// ReviewForSurface maps a surface ID to its review ID.
func (s *Service) ReviewForSurface(surfaceID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySurface[surfaceID]
	return id, ok
}

// OnSurfaceChange republishes host changes as surface.changed events. A
// surface opened for a path under review is bound to that review here, so
// events raised while the review is still opening carry its ID.
func (s *Service) OnSurfaceChange(c surface.Change) {
	if c.Kind == surface.ChangeOpened && c.SurfaceID != "" {
		s.mu.Lock()
		if id, ok := s.byPath[c.Path]; ok {
			s.bySurface[c.SurfaceID] = id
		}
		s.mu.Unlock()
	}
	if c.Kind == surface.ChangeDecorated {
		return
	}
	reviewID, _ := s.ReviewForSurface(c.SurfaceID)
	s.publish(event.SurfaceChanged, event.SurfaceChangedData{
		ReviewID:  reviewID,
		SurfaceID: c.SurfaceID,
		Kind:      string(c.Kind),
		Path:      c.Path,
		Line:      c.Line,
		Human:     c.Human,
	})
}

// Close rejects every open review. Used on shutdown so no provisional
// content is left on disk.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for _, r := range s.List() {
		if _, err := s.Reject(ctx, r.ID); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("review %s: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}
