package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/certify-api/internal/dto"
	"github.com/noah-isme/certify-api/internal/models"
	"github.com/noah-isme/certify-api/internal/repository"
	appErrors "github.com/noah-isme/certify-api/pkg/errors"
	"github.com/noah-isme/certify-api/pkg/jobs"
)

type generationJobStore interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	GetByID(ctx context.Context, id string) (*models.GenerationJob, error)
	Update(ctx context.Context, id string, params repository.UpdateGenerationJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.GenerationJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type batchGenerator interface {
	Generate(ctx context.Context, req dto.GenerateRequest, batchSize int, sink ProgressSink) (*GenerationResult, error)
}

// GenerationJobService manages asynchronous generation jobs: accepted
// requests are persisted, queued, and observable by polling.
type GenerationJobService struct {
	repo   generationJobStore
	queue  jobDispatcher
	logger *zap.Logger
}

// NewGenerationJobService constructs the service.
func NewGenerationJobService(repo generationJobStore, queue jobDispatcher, logger *zap.Logger) *GenerationJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationJobService{repo: repo, queue: queue, logger: logger}
}

// CreateJob persists the request and enqueues processing.
func (s *GenerationJobService) CreateJob(ctx context.Context, req dto.GenerateRequest, actorID string) (*dto.GenerationJobResponse, error) {
	if len(req.StudentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_ids is required")
	}
	job := &models.GenerationJob{
		Params:         models.GenerationJobParams{TemplateRef: req.TemplateRef, StudentIDs: req.StudentIDs},
		Status:         models.GenerationStatusQueued,
		TotalRequested: len(req.StudentIDs),
		CreatedBy:      actorID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create generation job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "certificate_generation"}); err != nil {
		status := models.GenerationStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		progress := 100
		_ = s.repo.Update(ctx, job.ID, repository.UpdateGenerationJobParams{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue generation job")
	}
	return &dto.GenerationJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// GetStatus exposes job metadata to pollers.
func (s *GenerationJobService) GetStatus(ctx context.Context, id string) (*dto.GenerationStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation job")
	}
	resp := &dto.GenerationStatusResponse{
		ID:             job.ID,
		Status:         job.Status,
		Progress:       job.Progress,
		TotalRequested: job.TotalRequested,
		TotalGenerated: job.TotalGenerated,
		Failures:       job.Failures,
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// RecoverPendingJobs replays queued jobs (e.g. after process restart).
func (s *GenerationJobService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued generation jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "certificate_generation"}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending job", "job_id", job.ID, "error", err)
		}
	}
}

// GenerationWorker bridges queue jobs to the generation pipeline.
type GenerationWorker struct {
	repo       generationJobStore
	generator  batchGenerator
	metrics    *MetricsService
	logger     *zap.Logger
	maxRetries int
}

// NewGenerationWorker constructs a worker.
func NewGenerationWorker(repo generationJobStore, generator batchGenerator, maxRetries int, logger *zap.Logger) *GenerationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &GenerationWorker{
		repo:       repo,
		generator:  generator,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// SetMetrics attaches a metrics service for the in-flight job gauge.
func (w *GenerationWorker) SetMetrics(metrics *MetricsService) {
	w.metrics = metrics
}

// Handle processes a queue job end to end.
func (w *GenerationWorker) Handle(ctx context.Context, job jobs.Job) error {
	w.metrics.JobStarted()
	defer w.metrics.JobFinished()

	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	processing := models.GenerationStatusProcessing
	progress := 0
	if err := w.repo.Update(ctx, job.ID, repository.UpdateGenerationJobParams{
		Status:   &processing,
		Progress: &progress,
	}); err != nil {
		return err
	}

	req := dto.GenerateRequest{TemplateRef: record.Params.TemplateRef, StudentIDs: record.Params.StudentIDs}
	sink := &jobProgressSink{repo: w.repo, jobID: job.ID, logger: w.logger}
	result, err := w.generator.Generate(ctx, req, 0, sink)
	if err != nil {
		msg := appErrors.FromError(err).Message
		if job.Attempt >= w.maxRetries {
			failed := models.GenerationStatusFailed
			progress = 100
			now := time.Now().UTC()
			if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateGenerationJobParams{
				Status:       &failed,
				Progress:     &progress,
				ErrorMessage: &msg,
				FinishedAt:   &now,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("failed to mark job failed", "job_id", job.ID, "error", updateErr)
			}
		} else {
			queued := models.GenerationStatusQueued
			reset := 0
			if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateGenerationJobParams{
				Status:       &queued,
				Progress:     &reset,
				ErrorMessage: &msg,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("failed to mark job queued", "job_id", job.ID, "error", updateErr)
			}
		}
		return err
	}

	finished := models.GenerationStatusFinished
	progress = 100
	now := time.Now().UTC()
	generated := result.Generated
	clear := ""
	failures := models.GenerationFailureList(result.Failures)
	if failures == nil {
		failures = models.GenerationFailureList{}
	}
	if err := w.repo.Update(ctx, job.ID, repository.UpdateGenerationJobParams{
		Status:         &finished,
		Progress:       &progress,
		TotalGenerated: &generated,
		Failures:       failures,
		ErrorMessage:   &clear,
		FinishedAt:     &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark job finished", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}

// jobProgressSink mirrors batch progress into the job row so pollers see
// movement. Only batch boundaries touch the database.
type jobProgressSink struct {
	repo   generationJobStore
	jobID  string
	logger *zap.Logger
}

// Publish implements ProgressSink.
func (s *jobProgressSink) Publish(event ProgressEvent) error {
	if event.Kind != EventBatchComplete || event.Total == 0 {
		return nil
	}
	done := event.Generated + event.Failed
	progress := done * 100 / event.Total
	generated := event.Generated
	if err := s.repo.Update(context.Background(), s.jobID, repository.UpdateGenerationJobParams{
		Progress:       &progress,
		TotalGenerated: &generated,
	}); err != nil {
		s.logger.Sugar().Warnw("failed to update job progress", "job_id", s.jobID, "error", err)
	}
	return nil
}
