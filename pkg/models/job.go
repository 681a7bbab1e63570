// Package models contains shared data models used across the ProductLens codebase.
package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a research job.
type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusScraping    JobStatus = "scraping"
	JobStatusClassifying JobStatus = "classifying"
	JobStatusAnalyzing   JobStatus = "analyzing"
	JobStatusGenerating  JobStatus = "generating"
	JobStatusDone        JobStatus = "done"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

// Progress values written on each transition. Intermediate values are
// written with stage text only, between two status transitions.
const (
	ProgressQueued      = 0
	ProgressScraping    = 10
	ProgressScraped     = 30
	ProgressClassifying = 35
	ProgressClassified  = 55
	ProgressAnalyzing   = 60
	ProgressAnalyzed    = 80
	ProgressGenerating  = 85
	ProgressDone        = 100
	ProgressFailed      = 0
)

// Stage labels shown to polling clients.
const (
	StageQueued     = "Queued — waiting for worker"
	StageScraping   = "Scraping reviews from Reddit, HN, G2..."
	StageClassify   = "Filtering spam, classifying quality..."
	StageAnalyzing  = "Running 4 parallel AI agents..."
	StageGenerating = "Minting PDF..."
	StageComplete   = "Complete"
	StageFailed     = "Failed"
	StageCancelled  = "Analysis stopped by user."
)

// CancellationMessage is the error text recorded on user cancellation.
const CancellationMessage = "user cancellation"

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:      {JobStatusScraping},
	JobStatusScraping:    {JobStatusClassifying},
	JobStatusClassifying: {JobStatusAnalyzing},
	JobStatusAnalyzing:   {JobStatusGenerating},
	JobStatusGenerating:  {JobStatusDone},
}

// IsTerminal reports whether no further transitions are permitted from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusScraping, JobStatusClassifying, JobStatusAnalyzing,
		JobStatusGenerating, JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is an edge of the job state machine.
// FAILED and CANCELLED are reachable from every non-terminal state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	if next == JobStatusFailed || next == JobStatusCancelled {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ActiveStatuses returns every non-terminal status.
func ActiveStatuses() []JobStatus {
	return []JobStatus{
		JobStatusQueued,
		JobStatusScraping,
		JobStatusClassifying,
		JobStatusAnalyzing,
		JobStatusGenerating,
	}
}

// Job is one end-to-end request to research a product. The API creates it
// with status queued; the client polls GET /status/{job_id} until it reaches
// done, failed or cancelled.
type Job struct {
	ID          string          `db:"job_id"       json:"job_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Status      JobStatus       `db:"status"       json:"status"`
	Stage       string          `db:"stage"        json:"stage"`
	ProgressPct int             `db:"progress_pct" json:"progress_pct"`
	Error       *string         `db:"error"        json:"error,omitempty"`
	ReportPath  *string         `db:"report_path"  json:"report_path,omitempty"`
	ResultJSON  json.RawMessage `db:"result_json"  json:"result_json,omitempty"`
	MAU         *int64          `db:"mau"          json:"mau,omitempty"`
	ARPU        *float64        `db:"arpu"         json:"arpu,omitempty"`
	CreatedAt   time.Time       `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"   json:"updated_at"`
}

// HasResult reports whether the analysis payload has been stored.
func (j *Job) HasResult() bool {
	return len(j.ResultJSON) > 0 && string(j.ResultJSON) != "null"
}
