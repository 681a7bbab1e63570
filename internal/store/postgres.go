package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/productlens/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (job_id, product_name, status, stage, progress_pct, mau, arpu, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.ProductName, string(job.Status), job.Stage, job.ProgressPct,
		job.MAU, job.ARPU, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var (
		j      models.Job
		status string
		result []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, product_name, status, stage, progress_pct, error, report_path, result_json,
		        mau, arpu, created_at, updated_at
		 FROM jobs WHERE job_id = $1`, id,
	).Scan(&j.ID, &j.ProductName, &status, &j.Stage, &j.ProgressPct, &j.Error, &j.ReportPath,
		&result, &j.MAU, &j.ARPU, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	j.Status = models.JobStatus(status)
	j.ResultJSON = result
	return &j, nil
}

func (s *PostgresStore) GetJobStatus(ctx context.Context, id string) (models.JobStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE job_id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return models.JobStatus(status), nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id string, opts ...JobUpdateOption) (bool, error) {
	u := ApplyUpdateOptions(opts...)
	if u.IsEmpty() {
		return false, nil
	}

	query := `UPDATE jobs SET updated_at = $2`
	args := []any{id, time.Now().UTC()}
	argIdx := 3

	if u.Status != nil {
		query += fmt.Sprintf(", status = $%d", argIdx)
		args = append(args, string(*u.Status))
		argIdx++
	}
	if u.Stage != nil {
		query += fmt.Sprintf(", stage = $%d", argIdx)
		args = append(args, *u.Stage)
		argIdx++
	}
	if u.ProgressPct != nil {
		query += fmt.Sprintf(", progress_pct = $%d", argIdx)
		args = append(args, *u.ProgressPct)
		argIdx++
	}
	if u.Error != nil {
		query += fmt.Sprintf(", error = COALESCE(error, $%d)", argIdx)
		args = append(args, *u.Error)
		argIdx++
	}
	if u.ReportPath != nil {
		query += fmt.Sprintf(", report_path = $%d", argIdx)
		args = append(args, *u.ReportPath)
		argIdx++
	}
	if u.ResultJSON != nil {
		query += fmt.Sprintf(", result_json = $%d::jsonb", argIdx)
		args = append(args, string(u.ResultJSON))
		argIdx++
	}

	query += " WHERE job_id = $1"
	if len(u.ExpectedStatuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, statusStrings(u.ExpectedStatuses))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
