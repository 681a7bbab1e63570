// Package dispatch hands newly created jobs to the orchestrator, either in
// process or through a Redis list consumed by a worker pool.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/productlens/internal/cache"
)

// DefaultQueue is the Redis list jobs are pushed to.
const DefaultQueue = "jobs"

// Runner executes one job to completion. *pipeline.Orchestrator satisfies it.
type Runner interface {
	RunJob(ctx context.Context, jobID string) error
}

// Dispatcher schedules a job without waiting for it to run.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// message is the queue payload.
type message struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// InlineDispatcher runs each job in its own goroutine in this process.
type InlineDispatcher struct {
	runner Runner
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewInlineDispatcher(runner Runner, logger *slog.Logger) *InlineDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineDispatcher{runner: runner, logger: logger}
}

// Dispatch starts the run and returns immediately. The run outlives the
// caller's context.
func (d *InlineDispatcher) Dispatch(ctx context.Context, jobID string) error {
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		runJob(runCtx, d.runner, d.logger, jobID)
	}()
	return nil
}

// Drain waits for in-flight runs or until ctx is done.
func (d *InlineDispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining jobs: %w", ctx.Err())
	}
}

// QueueDispatcher pushes job ids onto a Redis list for cmd/worker.
type QueueDispatcher struct {
	queue cache.Queue
	name  string
}

func NewQueueDispatcher(queue cache.Queue, name string) *QueueDispatcher {
	if name == "" {
		name = DefaultQueue
	}
	return &QueueDispatcher{queue: queue, name: name}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(message{JobID: jobID, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding queue message: %w", err)
	}
	if err := d.queue.Enqueue(ctx, d.name, payload); err != nil {
		return fmt.Errorf("enqueueing job %s: %w", jobID, err)
	}
	return nil
}

// runJob executes one job and logs the outcome. A panic is contained to
// the job that raised it.
func runJob(ctx context.Context, runner Runner, logger *slog.Logger, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in job run", "error", r, "job_id", jobID)
		}
	}()

	if err := runner.RunJob(ctx, jobID); err != nil {
		logger.Error("job run failed", "error", err, "job_id", jobID)
		return
	}
	logger.Info("job run finished", "job_id", jobID)
}

var (
	_ Dispatcher = (*InlineDispatcher)(nil)
	_ Dispatcher = (*QueueDispatcher)(nil)
)
