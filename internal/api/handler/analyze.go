package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/productlens/internal/api/response"
	"github.com/kiranshivaraju/productlens/internal/store"
	"github.com/kiranshivaraju/productlens/pkg/models"
)

var validate = validator.New()

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	ProductName        string   `json:"product_name" validate:"required,max=200"`
	MonthlyActiveUsers *int64   `json:"monthly_active_users,omitempty" validate:"omitempty,gte=0"`
	AvgRevenuePerUser  *float64 `json:"avg_revenue_per_user,omitempty" validate:"omitempty,gte=0"`
}

// Validate trims the product name and checks field constraints.
func (r *AnalyzeRequest) Validate() error {
	r.ProductName = strings.TrimSpace(r.ProductName)
	return validate.Struct(r)
}

type analyzeResponse struct {
	JobID   string           `json:"job_id"`
	Status  models.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /analyze. It
// creates a queued job, hands it to the dispatcher and returns at once.
func NewAnalyzeHandler(st JobStore, d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if err := req.Validate(); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", validationDetails(err))
			return
		}

		now := time.Now().UTC()
		job := &models.Job{
			ID:          uuid.NewString(),
			ProductName: req.ProductName,
			Status:      models.JobStatusQueued,
			Stage:       models.StageQueued,
			ProgressPct: models.ProgressQueued,
			MAU:         req.MonthlyActiveUsers,
			ARPU:        req.AvgRevenuePerUser,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := st.CreateJob(r.Context(), job); err != nil {
			slog.Error("creating job", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create job", nil)
			return
		}

		if err := d.Dispatch(r.Context(), job.ID); err != nil {
			slog.Error("dispatching job", "error", err, "job_id", job.ID)
			_, _ = st.UpdateJob(r.Context(), job.ID,
				store.WithStatus(models.JobStatusFailed),
				store.WithStage(models.StageFailed),
				store.WithError(fmt.Sprintf("dispatch failed: %v", err)),
				store.IfActive())
			response.Error(w, http.StatusServiceUnavailable, "DISPATCH_FAILED", "Job could not be scheduled", nil)
			return
		}

		slog.Info("job created", "job_id", job.ID, "product_name", job.ProductName)
		response.Accepted(w, analyzeResponse{
			JobID:   job.ID,
			Status:  models.JobStatusQueued,
			Message: fmt.Sprintf("Job queued. Poll /status/%s for updates.", job.ID),
		})
	}
}

// validationDetails maps validator errors to {field: rule}.
func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[jsonFieldName(fe.Field())] = fe.Tag()
	}
	return out
}

func jsonFieldName(field string) string {
	switch field {
	case "ProductName":
		return "product_name"
	case "MonthlyActiveUsers":
		return "monthly_active_users"
	case "AvgRevenuePerUser":
		return "avg_revenue_per_user"
	}
	return field
}
