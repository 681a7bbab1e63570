package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/productlens/internal/api/response"
	"github.com/kiranshivaraju/productlens/internal/store"
	"github.com/kiranshivaraju/productlens/pkg/models"
)

// NewStatusHandler returns an http.HandlerFunc for GET /status/{jobID}.
func NewStatusHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadJob(w, r, st)
		if !ok {
			return
		}
		response.JSON(w, statusFromJob(job))
	}
}

// NewCancelHandler returns an http.HandlerFunc for POST /cancel/{jobID}.
// Terminal jobs are rejected with 400; the first terminal write wins.
func NewCancelHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		applied, err := st.UpdateJob(r.Context(), jobID,
			store.WithStatus(models.JobStatusCancelled),
			store.WithStage(models.StageCancelled),
			store.WithError(models.CancellationMessage),
			store.IfActive(),
		)
		if err != nil {
			slog.Error("cancelling job", "error", err, "job_id", jobID)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to cancel job", nil)
			return
		}

		job, ok := loadJob(w, r, st)
		if !ok {
			return
		}
		if !applied {
			response.Error(w, http.StatusBadRequest, "JOB_ALREADY_FINISHED", "Job already finished",
				map[string]string{"status": string(job.Status)})
			return
		}

		slog.Info("job cancelled", "job_id", jobID)
		response.JSON(w, statusFromJob(job))
	}
}

// loadJob fetches the job named by the jobID URL param, writing 404 or
// 500 itself when it cannot.
func loadJob(w http.ResponseWriter, r *http.Request, st JobStore) (*models.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	job, err := st.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return nil, false
	}
	if err != nil {
		slog.Error("loading job", "error", err, "job_id", jobID)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
		return nil, false
	}
	return job, true
}
