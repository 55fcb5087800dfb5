// Package models defines the shared types exchanged between the analysis
// pipeline, the HTTP API and the CLI.
package models

import "time"

// Status is the lifecycle state of an analysis.
type Status string

const (
	StatusStarting         Status = "Starting"
	StatusReadingChanges   Status = "ReadingChanges"
	StatusLoadingDocuments Status = "LoadingDocuments"
	StatusCallingAI        Status = "CallingAI"
	StatusComplete         Status = "Complete"
	StatusError            Status = "Error"

	// Pseudo-statuses reported by status lookups. Never stored.
	StatusNotFound   Status = "NotFound"
	StatusNotStarted Status = "NotStarted"
)

// Terminal reports whether no further transitions can follow s.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Rank orders statuses along the pipeline. Terminal statuses share the top rank.
func (s Status) Rank() int {
	switch s {
	case StatusStarting:
		return 1
	case StatusReadingChanges:
		return 2
	case StatusLoadingDocuments:
		return 3
	case StatusCallingAI:
		return 4
	case StatusComplete, StatusError:
		return 5
	}
	return 0
}

// AnalysisRecord is the cached state of one analysis.
type AnalysisRecord struct {
	ID            string          `json:"id"`
	Status        Status          `json:"status"`
	Result        *AnalysisResult `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	Target        string          `json:"target,omitempty"`
	ModelUsed     string          `json:"modelUsed,omitempty"`
	FallbackModel string          `json:"fallbackModel,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

// Advance returns a copy of r moved to status. Backward moves and moves out of a
// terminal state are ignored; ok reports whether the transition happened.
func (r AnalysisRecord) Advance(status Status) (AnalysisRecord, bool) {
	if r.Status.Terminal() || status.Rank() < r.Status.Rank() {
		return r, false
	}
	r.Status = status
	return r, true
}

// Complete returns a copy of r in the Complete state carrying result.
func (r AnalysisRecord) Complete(result *AnalysisResult, at time.Time) (AnalysisRecord, bool) {
	if r.Status.Terminal() {
		return r, false
	}
	r.Status = StatusComplete
	r.Result = result
	r.Error = ""
	r.CompletedAt = &at
	return r, true
}

// Fail returns a copy of r in the Error state carrying msg.
func (r AnalysisRecord) Fail(msg string, at time.Time) (AnalysisRecord, bool) {
	if r.Status.Terminal() {
		return r, false
	}
	if msg == "" {
		msg = "analysis failed"
	}
	r.Status = StatusError
	r.Result = nil
	r.Error = msg
	r.CompletedAt = &at
	return r, true
}

// AnalysisResult is the structured outcome of a completed analysis.
type AnalysisResult struct {
	Items     []FeedbackItem `json:"items"`
	Raw       string         `json:"raw,omitempty"`
	Summary   string         `json:"summary"`
	NoChanges bool           `json:"noChanges,omitempty"`
}

// StatusResponse is the payload returned by status lookups and pushed to
// subscribers.
type StatusResponse struct {
	Status        Status          `json:"status"`
	Result        *AnalysisResult `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	IsComplete    bool            `json:"isComplete"`
	ModelUsed     string          `json:"modelUsed,omitempty"`
	FallbackModel string          `json:"fallbackModel,omitempty"`
}

// Response builds the status payload for r.
func (r AnalysisRecord) Response() StatusResponse {
	return StatusResponse{
		Status:        r.Status,
		Result:        r.Result,
		Error:         r.Error,
		IsComplete:    r.Status.Terminal(),
		ModelUsed:     r.ModelUsed,
		FallbackModel: r.FallbackModel,
	}
}

// CachedContent is the extracted diff or file kept alongside a record.
type CachedContent struct {
	Content       string `json:"content"`
	IsFileContent bool   `json:"isFileContent"`
}
