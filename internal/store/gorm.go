package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/productlens/pkg/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// jobRecord is the GORM row model for the jobs table. Column names match
// migrations/000001_create_jobs.up.sql so both backends share one schema.
type jobRecord struct {
	ID          string   `gorm:"column:job_id;primaryKey"`
	ProductName string   `gorm:"column:product_name;not null"`
	Status      string   `gorm:"column:status;not null;index"`
	Stage       string   `gorm:"column:stage;not null"`
	ProgressPct int      `gorm:"column:progress_pct;not null;default:0"`
	Error       *string  `gorm:"column:error"`
	ReportPath  *string  `gorm:"column:report_path"`
	ResultJSON  []byte   `gorm:"column:result_json"`
	MAU         *int64   `gorm:"column:mau"`
	ARPU        *float64 `gorm:"column:arpu"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (jobRecord) TableName() string { return "jobs" }

func (r *jobRecord) toModel() *models.Job {
	return &models.Job{
		ID:          r.ID,
		ProductName: r.ProductName,
		Status:      models.JobStatus(r.Status),
		Stage:       r.Stage,
		ProgressPct: r.ProgressPct,
		Error:       r.Error,
		ReportPath:  r.ReportPath,
		ResultJSON:  r.ResultJSON,
		MAU:         r.MAU,
		ARPU:        r.ARPU,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func recordFromModel(j *models.Job) *jobRecord {
	return &jobRecord{
		ID:          j.ID,
		ProductName: j.ProductName,
		Status:      string(j.Status),
		Stage:       j.Stage,
		ProgressPct: j.ProgressPct,
		Error:       j.Error,
		ReportPath:  j.ReportPath,
		ResultJSON:  j.ResultJSON,
		MAU:         j.MAU,
		ARPU:        j.ARPU,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// GormStore implements Store on top of GORM. It backs the single-binary
// sqlite:// deployment and tests that want real SQL without Docker.
type GormStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) a SQLite database at path and migrates the
// jobs table. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*GormStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite allows one writer; every :memory: connection is its own database.
	sqlDB.SetMaxOpenConns(1)

	return NewGormStore(db)
}

// NewGormStore wraps an existing GORM connection and migrates the jobs table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&jobRecord{}); err != nil {
		return nil, fmt.Errorf("migrate jobs: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateJob(ctx context.Context, job *models.Job) error {
	if err := s.db.WithContext(ctx).Create(recordFromModel(job)).Error; err != nil {
		if isGormDuplicate(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *GormStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var rec jobRecord
	err := s.db.WithContext(ctx).Where("job_id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec.toModel(), nil
}

func (s *GormStore) GetJobStatus(ctx context.Context, id string) (models.JobStatus, error) {
	var rec jobRecord
	err := s.db.WithContext(ctx).Select("status").Where("job_id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return models.JobStatus(rec.Status), nil
}

func (s *GormStore) UpdateJob(ctx context.Context, id string, opts ...JobUpdateOption) (bool, error) {
	u := ApplyUpdateOptions(opts...)
	if u.IsEmpty() {
		return false, nil
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if u.Status != nil {
		updates["status"] = string(*u.Status)
	}
	if u.Stage != nil {
		updates["stage"] = *u.Stage
	}
	if u.ProgressPct != nil {
		updates["progress_pct"] = *u.ProgressPct
	}
	if u.Error != nil {
		updates["error"] = gorm.Expr("COALESCE(error, ?)", *u.Error)
	}
	if u.ReportPath != nil {
		updates["report_path"] = *u.ReportPath
	}
	if u.ResultJSON != nil {
		updates["result_json"] = []byte(u.ResultJSON)
	}

	q := s.db.WithContext(ctx).Model(&jobRecord{}).Where("job_id = ?", id)
	if len(u.ExpectedStatuses) > 0 {
		q = q.Where("status IN ?", statusStrings(u.ExpectedStatuses))
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update job: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func isGormDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*GormStore)(nil)
