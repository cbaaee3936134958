package event

import "github.com/opencode-ai/diffview/pkg/types"

// ReviewData is the data for review.opened, review.updated,
// review.finalized and review.closed events.
type ReviewData struct {
	Info *types.Review `json:"info"`
}

// ReviewApprovedData is the data for review.approved events.
type ReviewApprovedData struct {
	Info   *types.Review       `json:"info"`
	Result *types.ReviewResult `json:"result"`
}

// ReviewRejectedData is the data for review.rejected events.
type ReviewRejectedData struct {
	Info  *types.Review `json:"info"`
	Error string        `json:"error,omitempty"`
}

// SurfaceChangedData is the data for surface.changed events.
type SurfaceChangedData struct {
	ReviewID  string `json:"reviewID,omitempty"`
	SurfaceID string `json:"surfaceID"`
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	Line      int    `json:"line,omitempty"`
	Human     bool   `json:"human,omitempty"`
}

// FileEditedData is the data for file.edited events.
type FileEditedData struct {
	File string `json:"file"`
}

// FileRemovedData is the data for file.removed events.
type FileRemovedData struct {
	File     string `json:"file"`
	ReviewID string `json:"reviewID,omitempty"`
}
