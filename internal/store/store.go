package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kiranshivaraju/productlens/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All job persistence goes through here.
// Every operation touches a single row; implementations must be safe for
// concurrent use.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// GetJobStatus is the checkpoint read used to detect cancellation.
	GetJobStatus(ctx context.Context, id string) (models.JobStatus, error)
	// UpdateJob applies a partial patch and bumps updated_at. It reports
	// whether a row was changed; an unknown id or an unmet IfStatusIn guard
	// is not an error.
	UpdateJob(ctx context.Context, id string, opts ...JobUpdateOption) (bool, error)

	Close() error
}

// JobUpdate is the resolved form of a set of JobUpdateOptions.
// Nil fields are left untouched.
type JobUpdate struct {
	Status      *models.JobStatus
	Stage       *string
	ProgressPct *int
	Error       *string
	ReportPath  *string
	ResultJSON  json.RawMessage
	// ExpectedStatuses turns the update into a compare-and-set: it is only
	// applied while the current status is one of these.
	ExpectedStatuses []models.JobStatus
}

// IsEmpty reports whether the patch changes no column.
func (u JobUpdate) IsEmpty() bool {
	return u.Status == nil && u.Stage == nil && u.ProgressPct == nil &&
		u.Error == nil && u.ReportPath == nil && u.ResultJSON == nil
}

// Matches reports whether a job in status s satisfies the guard.
func (u JobUpdate) Matches(s models.JobStatus) bool {
	if len(u.ExpectedStatuses) == 0 {
		return true
	}
	for _, e := range u.ExpectedStatuses {
		if e == s {
			return true
		}
	}
	return false
}

type JobUpdateOption func(*JobUpdate)

// ApplyUpdateOptions folds opts into a JobUpdate.
func ApplyUpdateOptions(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithStatus(s models.JobStatus) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Status = &s
	}
}

func WithStage(stage string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Stage = &stage
	}
}

func WithProgress(pct int) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ProgressPct = &pct
	}
}

// WithError records the failure cause. The first recorded error is kept;
// later ones are ignored by every implementation.
func WithError(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Error = &msg
	}
}

func WithReportPath(path string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ReportPath = &path
	}
}

func WithResult(result json.RawMessage) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ResultJSON = result
	}
}

// IfStatusIn guards the update on the job's current status.
func IfStatusIn(statuses ...models.JobStatus) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ExpectedStatuses = append(u.ExpectedStatuses, statuses...)
	}
}

// IfActive guards the update on the job not being terminal.
func IfActive() JobUpdateOption {
	return IfStatusIn(models.ActiveStatuses()...)
}

func statusStrings(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
