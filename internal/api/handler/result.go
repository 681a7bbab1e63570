package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/productlens/internal/api/response"
	"github.com/kiranshivaraju/productlens/internal/cache"
	"github.com/kiranshivaraju/productlens/pkg/models"
)

// resultTTL bounds how long a finished result stays in Redis.
const resultTTL = time.Hour

// ResultCache is the subset of cache.Cache used for finished results.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NewResultHandler returns an http.HandlerFunc for GET /result/{jobID}.
// A nil cache reads straight from the store.
func NewResultHandler(st JobStore, c ResultCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		key := cache.ResultKey(jobID)

		if c != nil {
			if cached, found, err := c.Get(r.Context(), key); err == nil && found {
				response.Raw(w, http.StatusOK, cached)
				return
			} else if err != nil {
				slog.Warn("result cache read failed", "error", err, "job_id", jobID)
			}
		}

		job, ok := loadJob(w, r, st)
		if !ok {
			return
		}
		if !job.HasResult() {
			response.Error(w, http.StatusBadRequest, "RESULT_NOT_READY", "No result yet",
				map[string]string{"status": string(job.Status)})
			return
		}

		if c != nil {
			if err := c.Set(r.Context(), key, job.ResultJSON, resultTTL); err != nil {
				slog.Warn("result cache write failed", "error", err, "job_id", jobID)
			}
		}
		response.Raw(w, http.StatusOK, job.ResultJSON)
	}
}

// NewReportHandler returns an http.HandlerFunc for GET /report/{jobID}. It
// redirects to the analysis service, which serves the rendered file.
func NewReportHandler(st JobStore, analysisURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadJob(w, r, st)
		if !ok {
			return
		}
		if job.Status != models.JobStatusDone {
			response.Error(w, http.StatusBadRequest, "REPORT_NOT_READY", "Report not ready",
				map[string]string{"status": string(job.Status)})
			return
		}
		http.Redirect(w, r, analysisURL+"/report/"+job.ID, http.StatusTemporaryRedirect)
	}
}
