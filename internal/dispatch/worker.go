package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/productlens/internal/cache"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollTimeout = 5 * time.Second
	errorBackoff       = 2 * time.Second
)

// Worker pulls job ids off a queue and runs them with bounded concurrency.
type Worker struct {
	queue       cache.Queue
	runner      Runner
	name        string
	concurrency int
	pollTimeout time.Duration
	logger      *slog.Logger
}

type WorkerOption func(*Worker)

func WithQueueName(name string) WorkerOption {
	return func(w *Worker) { w.name = name }
}

// WithPollTimeout sets how long each blocking dequeue waits.
func WithPollTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollTimeout = d }
}

func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

func NewWorker(queue cache.Queue, runner Runner, concurrency int, opts ...WorkerOption) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	w := &Worker{
		queue:       queue,
		runner:      runner,
		name:        DefaultQueue,
		concurrency: concurrency,
		pollTimeout: defaultPollTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes jobs until ctx is cancelled. In-flight jobs are allowed to
// finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "queue", w.name, "concurrency", w.concurrency)

	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		slot := i
		g.Go(func() error {
			return w.loop(gCtx, slot)
		})
	}

	err := g.Wait()
	w.logger.Info("worker stopped", "queue", w.name)
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) error {
	log := w.logger.With("worker", slot)
	for {
		if ctx.Err() != nil {
			return nil
		}

		payload, found, err := w.queue.Dequeue(ctx, w.name, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errorBackoff):
			}
			continue
		}
		if !found {
			continue
		}

		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil || msg.JobID == "" {
			log.Error("dropping malformed queue message", "error", err, "payload", string(payload))
			continue
		}

		log.Info("picked job", "job_id", msg.JobID, "queued_for", time.Since(msg.EnqueuedAt).String())
		runJob(context.WithoutCancel(ctx), w.runner, log, msg.JobID)
	}
}
