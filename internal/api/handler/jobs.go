package handler

import (
	"context"

	"github.com/kiranshivaraju/productlens/internal/store"
	"github.com/kiranshivaraju/productlens/pkg/models"
)

// JobStore is the subset of store.Store the job handlers use.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, id string, opts ...store.JobUpdateOption) (bool, error)
}

// Dispatcher schedules an orchestrator run for a created job.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// StatusResponse is the polling view of a job.
type StatusResponse struct {
	JobID       string           `json:"job_id"`
	Status      models.JobStatus `json:"status"`
	Stage       string           `json:"stage"`
	ProgressPct int              `json:"progress_pct"`
	Error       *string          `json:"error"`
	ReportURL   *string          `json:"report_url"`
}

func statusFromJob(j *models.Job) StatusResponse {
	resp := StatusResponse{
		JobID:       j.ID,
		Status:      j.Status,
		Stage:       j.Stage,
		ProgressPct: j.ProgressPct,
		Error:       j.Error,
	}
	if j.Status == models.JobStatusDone {
		url := "/report/" + j.ID
		resp.ReportURL = &url
	}
	return resp
}
