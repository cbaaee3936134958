package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/diffview/pkg/types"
)

// History persists closed reviews under review/<project>/<id>.json.
type History struct {
	store   *Storage
	project string
}

// NewHistory scopes review records to the project rooted at root.
func NewHistory(store *Storage, root string) *History {
	return &History{store: store, project: ProjectKey(root)}
}

// ProjectKey is a stable directory name for a project root.
func ProjectKey(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Base(abs) + "-" + hex.EncodeToString(sum[:])[:12]
}

func (h *History) key(id string) []string {
	return []string{"review", h.project, id}
}

// Record stores rec, replacing any earlier record with the same ID.
func (h *History) Record(ctx context.Context, rec *types.ReviewRecord) error {
	return h.store.Put(ctx, h.key(rec.ID), rec)
}

// Get returns the record for id, or ErrNotFound.
func (h *History) Get(ctx context.Context, id string) (*types.ReviewRecord, error) {
	var rec types.ReviewRecord
	if err := h.store.Get(ctx, h.key(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// HistoryFilter narrows List results. Zero values match everything.
type HistoryFilter struct {
	// Path is a doublestar glob matched against the record's relative path.
	Path   string
	Status types.ReviewStatus
	Limit  int
}

// List returns matching records, most recently closed first.
func (h *History) List(ctx context.Context, filter HistoryFilter) ([]types.ReviewRecord, error) {
	var out []types.ReviewRecord
	err := h.store.Scan(ctx, []string{"review", h.project}, func(key string, data json.RawMessage) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec types.ReviewRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil // skip corrupt records
		}
		if filter.Status != "" && rec.Status != filter.Status {
			return nil
		}
		if filter.Path != "" {
			ok, err := doublestar.Match(filter.Path, filepath.ToSlash(rec.Path))
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := closedAt(out[i]), closedAt(out[j])
		if ti != tj {
			return ti > tj
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Delete removes the record for id.
func (h *History) Delete(ctx context.Context, id string) error {
	return h.store.Delete(ctx, h.key(id))
}

// Prune deletes all but the keep most recently closed records and returns
// how many were removed.
func (h *History) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	all, err := h.List(ctx, HistoryFilter{})
	if err != nil {
		return 0, err
	}
	if len(all) <= keep {
		return 0, nil
	}
	removed := 0
	for _, rec := range all[keep:] {
		if err := h.Delete(ctx, rec.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func closedAt(rec types.ReviewRecord) int64 {
	if rec.Time.Closed != nil {
		return *rec.Time.Closed
	}
	return rec.Time.Updated
}
