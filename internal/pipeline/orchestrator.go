// Package pipeline drives a job through the four remote stages, persisting
// every transition so polling clients and the cancel endpoint see progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/productlens/internal/config"
	"github.com/kiranshivaraju/productlens/internal/observability"
	"github.com/kiranshivaraju/productlens/internal/stage"
	"github.com/kiranshivaraju/productlens/internal/store"
	"github.com/kiranshivaraju/productlens/pkg/models"
)

// ErrNoReviews is returned when the scrape stage finds nothing for a
// product. It is fatal for the job.
var ErrNoReviews = errors.New("no reviews found")

// ErrInvalidTransition means the pipeline tried to move a job along an edge
// the state machine does not have.
var ErrInvalidTransition = errors.New("invalid job transition")

// errStopped means the job left the path this run was driving, normally
// because it was cancelled. The run ends without further writes.
var errStopped = errors.New("job no longer active")

const (
	stageScrape   = "scrape"
	stageClassify = "classify"
	stageAnalyze  = "analyze"
	stageRender   = "render"
)

// Stages are the remote collaborators, called strictly in order.
type Stages struct {
	Scraper    stage.Scraper
	Classifier stage.Classifier
	Analyzer   stage.Analyzer
	Renderer   stage.Renderer
}

// StagesFromClients adapts the HTTP clients to Stages.
func StagesFromClients(c stage.Clients) Stages {
	return Stages{
		Scraper:    c.Scraper,
		Classifier: c.Classifier,
		Analyzer:   c.Analyzer,
		Renderer:   c.Renderer,
	}
}

// Input is everything a run needs besides the store.
type Input struct {
	JobID       string
	ProductName string
	MAU         *int64
	ARPU        *float64
}

// InputFromJob builds the run input from a stored job.
func InputFromJob(j *models.Job) Input {
	return Input{
		JobID:       j.ID,
		ProductName: j.ProductName,
		MAU:         j.MAU,
		ARPU:        j.ARPU,
	}
}

// Orchestrator runs jobs. It keeps no per-job state, so one instance can
// drive any number of jobs concurrently.
type Orchestrator struct {
	store  store.Store
	stages Stages
	cfg    config.PipelineConfig
	obs    *observability.Provider
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A nil obs or logger falls back
// to no-op telemetry and slog.Default.
func NewOrchestrator(st store.Store, stages Stages, cfg config.PipelineConfig, obs *observability.Provider, logger *slog.Logger) *Orchestrator {
	if obs == nil {
		obs = observability.Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:  st,
		stages: stages,
		cfg:    cfg,
		obs:    obs,
		logger: logger,
	}
}

// RunJob loads the job and runs it.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}
	return o.Run(ctx, InputFromJob(job))
}

// Run drives one job from QUEUED to a terminal state. Stage failures are
// recorded on the job as FAILED and also returned for logging. A run that
// finds the job cancelled returns nil. Panics are recovered and recorded.
func (o *Orchestrator) Run(ctx context.Context, in Input) (err error) {
	ctx, span := o.obs.Tracer.StartJob(ctx, in.JobID, in.ProductName)
	defer span.End()
	o.obs.Metrics.RecordJobStarted(ctx)

	log := o.logger.With("job_id", in.JobID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in pipeline run", "error", r)
			err = fmt.Errorf("panic: %v", r)
			o.fail(ctx, log, in.JobID, err)
			observability.RecordError(span, err)
		}
	}()

	err = o.run(ctx, log, in)
	switch {
	case err == nil:
		o.obs.Metrics.RecordJobFinished(ctx, string(models.JobStatusDone))
		return nil
	case errors.Is(err, errStopped):
		log.Info("pipeline stopped, job no longer active")
		o.obs.Metrics.RecordJobFinished(ctx, string(models.JobStatusCancelled))
		return nil
	default:
		o.fail(ctx, log, in.JobID, err)
		observability.RecordError(span, err)
		return err
	}
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, in Input) error {
	id := in.JobID

	// Scrape
	if err := o.checkpoint(ctx, id); err != nil {
		return err
	}
	if err := o.advance(ctx, log, id, models.JobStatusQueued, models.JobStatusScraping,
		models.StageScraping, models.ProgressScraping); err != nil {
		return err
	}

	var raw []stage.Review
	err := o.callStage(ctx, id, stageScrape, func(ctx context.Context) error {
		resp, err := o.stages.Scraper.Scrape(ctx, stage.ScrapeRequest{ProductName: in.ProductName, JobID: id})
		if err != nil {
			return err
		}
		raw = resp.Reviews
		return nil
	})
	if err != nil {
		return err
	}
	o.obs.Metrics.RecordReviews(ctx, stageScrape, len(raw))
	if len(raw) == 0 {
		return ErrNoReviews
	}
	o.note(ctx, log, id, models.JobStatusScraping,
		fmt.Sprintf("Scraped %d raw items. Classifying...", len(raw)), models.ProgressScraped)

	// Classify
	if err := o.checkpoint(ctx, id); err != nil {
		return err
	}
	if err := o.advance(ctx, log, id, models.JobStatusScraping, models.JobStatusClassifying,
		models.StageClassify, models.ProgressClassifying); err != nil {
		return err
	}

	var classified []stage.Review
	err = o.callStage(ctx, id, stageClassify, func(ctx context.Context) error {
		resp, err := o.stages.Classifier.Classify(ctx, stage.ClassifyRequest{
			Reviews:     raw,
			JobID:       id,
			ProductName: in.ProductName,
		})
		if err != nil {
			return err
		}
		classified = resp.Reviews
		return nil
	})
	if err != nil {
		return err
	}
	o.obs.Metrics.RecordReviews(ctx, stageClassify, len(classified))

	reviews, degraded := SelectReviews(raw, classified, o.cfg.MinClassified, o.cfg.FallbackReviews)
	if degraded {
		o.obs.Metrics.RecordDegraded(ctx)
		log.Warn("too few classified reviews, using raw items",
			"classified", len(classified), "min", o.cfg.MinClassified, "substituted", len(reviews))
	}
	o.note(ctx, log, id, models.JobStatusClassifying,
		fmt.Sprintf("%d quality reviews. Running analysis...", len(reviews)), models.ProgressClassified)

	// Analyze
	if err := o.checkpoint(ctx, id); err != nil {
		return err
	}
	if err := o.advance(ctx, log, id, models.JobStatusClassifying, models.JobStatusAnalyzing,
		models.StageAnalyzing, models.ProgressAnalyzing); err != nil {
		return err
	}

	var result []byte
	err = o.callStage(ctx, id, stageAnalyze, func(ctx context.Context) error {
		res, err := o.stages.Analyzer.Analyze(ctx, stage.AnalyzeRequest{
			ProductName: in.ProductName,
			Reviews:     reviews,
			JobID:       id,
			MAU:         in.MAU,
			ARPU:        in.ARPU,
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return err
	}
	o.note(ctx, log, id, models.JobStatusAnalyzing, "Generating PDF report...", models.ProgressAnalyzed)

	// Render
	if err := o.checkpoint(ctx, id); err != nil {
		return err
	}
	if err := o.advance(ctx, log, id, models.JobStatusAnalyzing, models.JobStatusGenerating,
		models.StageGenerating, models.ProgressGenerating); err != nil {
		return err
	}

	var reportPath string
	err = o.callStage(ctx, id, stageRender, func(ctx context.Context) error {
		resp, err := o.stages.Renderer.Render(ctx, stage.RenderRequest{
			JobID:          id,
			ProductName:    in.ProductName,
			AnalysisResult: result,
			Reviews:        reviews,
		})
		if err != nil {
			return err
		}
		reportPath = resp.ReportPath
		return nil
	})
	if err != nil {
		return err
	}

	applied, err := o.store.UpdateJob(ctx, id,
		store.WithStatus(models.JobStatusDone),
		store.WithStage(models.StageComplete),
		store.WithProgress(models.ProgressDone),
		store.WithReportPath(reportPath),
		store.WithResult(result),
		store.IfStatusIn(models.JobStatusGenerating),
	)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	if !applied {
		return errStopped
	}
	log.Info("pipeline complete", "status", models.JobStatusDone, "report_path", reportPath)
	return nil
}

// SelectReviews picks the analysis input. When fewer than minClassified
// reviews survive classification, the first fallback raw reviews are used
// instead and degraded is true.
func SelectReviews(raw, classified []stage.Review, minClassified, fallback int) (reviews []stage.Review, degraded bool) {
	if len(classified) >= minClassified {
		return classified, false
	}
	n := min(fallback, len(raw))
	return raw[:n], true
}

// checkpoint re-reads the job status and stops the run once the job is terminal.
func (o *Orchestrator) checkpoint(ctx context.Context, id string) error {
	status, err := o.store.GetJobStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("checking job status: %w", err)
	}
	if status.IsTerminal() {
		return errStopped
	}
	return nil
}

// advance moves the job from one status to the next. The write only lands
// while the job is still in from, so a concurrent cancel always wins.
func (o *Orchestrator) advance(ctx context.Context, log *slog.Logger, id string, from, to models.JobStatus, stageText string, progress int) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	applied, err := o.store.UpdateJob(ctx, id,
		store.WithStatus(to),
		store.WithStage(stageText),
		store.WithProgress(progress),
		store.IfStatusIn(from),
	)
	if err != nil {
		return fmt.Errorf("updating job to %s: %w", to, err)
	}
	if !applied {
		return errStopped
	}
	log.Info("job transition", "status", to, "stage", stageText, "progress_pct", progress)
	return nil
}

// note updates the stage text and progress without changing status.
// Failures are logged only; the next transition overwrites both fields.
func (o *Orchestrator) note(ctx context.Context, log *slog.Logger, id string, status models.JobStatus, stageText string, progress int) {
	_, err := o.store.UpdateJob(ctx, id,
		store.WithStage(stageText),
		store.WithProgress(progress),
		store.IfStatusIn(status),
	)
	if err != nil {
		log.Warn("failed to update stage text", "error", err, "stage", stageText)
	}
}

// fail records err on the job unless it is already terminal.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, id string, cause error) {
	ctx = context.WithoutCancel(ctx)
	applied, err := o.store.UpdateJob(ctx, id,
		store.WithStatus(models.JobStatusFailed),
		store.WithStage(models.StageFailed),
		store.WithProgress(models.ProgressFailed),
		store.WithError(strings.ToValidUTF8(cause.Error(), "\uFFFD")),
		store.IfActive(),
	)
	if err != nil {
		log.Error("failed to record job failure", "error", err, "cause", cause)
		return
	}
	if applied {
		o.obs.Metrics.RecordJobFinished(ctx, string(models.JobStatusFailed))
		log.Error("pipeline failed", "status", models.JobStatusFailed, "error", cause)
	}
}

func (o *Orchestrator) callStage(ctx context.Context, jobID, name string, fn func(context.Context) error) error {
	ctx, span := o.obs.Tracer.StartStage(ctx, jobID, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	o.obs.Metrics.RecordStage(ctx, name, time.Since(start), err)
	observability.RecordError(span, err)
	return err
}
