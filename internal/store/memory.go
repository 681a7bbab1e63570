package store

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/productlens/pkg/models"
)

// MemoryStore keeps jobs in a process-local map. Jobs are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) GetJobStatus(_ context.Context, id string) (models.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return "", ErrNotFound
	}
	return j.Status, nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, id string, opts ...JobUpdateOption) (bool, error) {
	u := ApplyUpdateOptions(opts...)
	if u.IsEmpty() {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || !u.Matches(j.Status) {
		return false, nil
	}

	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.Stage != nil {
		j.Stage = *u.Stage
	}
	if u.ProgressPct != nil {
		j.ProgressPct = *u.ProgressPct
	}
	if u.Error != nil && j.Error == nil {
		msg := *u.Error
		j.Error = &msg
	}
	if u.ReportPath != nil {
		p := *u.ReportPath
		j.ReportPath = &p
	}
	if u.ResultJSON != nil {
		j.ResultJSON = append([]byte(nil), u.ResultJSON...)
	}
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.ReportPath != nil {
		p := *j.ReportPath
		c.ReportPath = &p
	}
	if j.ResultJSON != nil {
		c.ResultJSON = append([]byte(nil), j.ResultJSON...)
	}
	if j.MAU != nil {
		m := *j.MAU
		c.MAU = &m
	}
	if j.ARPU != nil {
		a := *j.ARPU
		c.ARPU = &a
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
