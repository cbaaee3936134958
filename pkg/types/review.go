// Package types provides the wire types shared by the diffview server,
// MCP tools and CLI.
package types

// ReviewStatus is the lifecycle state of a review.
type ReviewStatus string

const (
	ReviewOpen      ReviewStatus = "open"
	ReviewFinal     ReviewStatus = "final"
	ReviewApproved  ReviewStatus = "approved"
	ReviewRejected  ReviewStatus = "rejected"
	ReviewAbandoned ReviewStatus = "abandoned"
)

// Review is the externally visible state of one edit under review.
type Review struct {
	ID                 string       `json:"id"`
	Path               string       `json:"path"`
	EditType           string       `json:"editType"` // "create"|"modify"
	Status             ReviewStatus `json:"status"`
	SurfaceID          string       `json:"surfaceID,omitempty"`
	StreamedLines      int          `json:"streamedLines"`
	WasOpenElsewhere   bool         `json:"wasOpenElsewhere,omitempty"`
	CreatedDirectories []string     `json:"createdDirectories,omitempty"`
	Time               ReviewTime   `json:"time"`
}

// ReviewTime contains timestamps for a review, in Unix milliseconds.
type ReviewTime struct {
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
	Closed  *int64 `json:"closed,omitempty"`
}

// ReviewResult is what an approved review reports back to the proposer.
type ReviewResult struct {
	NewProblemsMessage  string `json:"newProblemsMessage,omitempty"`
	UserEdits           string `json:"userEdits,omitempty"`
	AutoFormattingEdits string `json:"autoFormattingEdits,omitempty"`
	FinalContent        string `json:"finalContent"`
}

// ReviewRecord is the persisted history entry of a closed review.
type ReviewRecord struct {
	Review
	Result    *ReviewResult `json:"result,omitempty"`
	Additions int           `json:"additions"`
	Deletions int           `json:"deletions"`
	Error     string        `json:"error,omitempty"`
}
