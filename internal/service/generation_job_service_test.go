package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/certify-api/internal/dto"
	"github.com/noah-isme/certify-api/internal/models"
	"github.com/noah-isme/certify-api/internal/repository"
	"github.com/noah-isme/certify-api/pkg/jobs"
)

type jobRepoStub struct {
	jobs map[string]*models.GenerationJob
}

func newJobRepoStub() *jobRepoStub {
	return &jobRepoStub{jobs: map[string]*models.GenerationJob{}}
}

func (r *jobRepoStub) Create(ctx context.Context, job *models.GenerationJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *jobRepoStub) GetByID(ctx context.Context, id string) (*models.GenerationJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return job, nil
}

func (r *jobRepoStub) Update(ctx context.Context, id string, params repository.UpdateGenerationJobParams) error {
	job, ok := r.jobs[id]
	if !ok {
		return errors.New("not found")
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.TotalGenerated != nil {
		job.TotalGenerated = *params.TotalGenerated
	}
	if params.Failures != nil {
		job.Failures = params.Failures
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *jobRepoStub) ListQueued(ctx context.Context, limit int) ([]models.GenerationJob, error) {
	var queued []models.GenerationJob
	for _, job := range r.jobs {
		if job.Status == models.GenerationStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type generatorStub struct {
	result *GenerationResult
	err    error
}

func (g generatorStub) Generate(ctx context.Context, req dto.GenerateRequest, batchSize int, sink ProgressSink) (*GenerationResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func TestGenerationJobServiceCreateJob(t *testing.T) {
	repo := newJobRepoStub()
	queue := &queueStub{}
	svc := NewGenerationJobService(repo, queue, zap.NewNop())

	resp, err := svc.CreateJob(context.Background(), dto.GenerateRequest{StudentIDs: []string{"s1", "s2"}}, "admin-1")
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, models.GenerationStatusQueued, resp.Status)
	assert.Equal(t, 2, repo.jobs[resp.ID].TotalRequested)
}

func TestGenerationJobServiceCreateJobEnqueueFailure(t *testing.T) {
	repo := newJobRepoStub()
	queue := &queueStub{err: errors.New("queue stopped")}
	svc := NewGenerationJobService(repo, queue, zap.NewNop())

	_, err := svc.CreateJob(context.Background(), dto.GenerateRequest{StudentIDs: []string{"s1"}}, "admin-1")
	require.Error(t, err)
	for _, job := range repo.jobs {
		assert.Equal(t, models.GenerationStatusFailed, job.Status)
	}
}

func TestGenerationJobServiceGetStatus(t *testing.T) {
	repo := newJobRepoStub()
	msg := "template not found"
	repo.jobs["job-1"] = &models.GenerationJob{
		ID:             "job-1",
		Status:         models.GenerationStatusFailed,
		Progress:       100,
		TotalRequested: 5,
		ErrorMessage:   &msg,
	}
	svc := NewGenerationJobService(repo, &queueStub{}, zap.NewNop())

	resp, err := svc.GetStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, msg, *resp.Error)
}

func TestGenerationWorkerHandleSuccess(t *testing.T) {
	repo := newJobRepoStub()
	repo.jobs["job-1"] = &models.GenerationJob{
		ID:             "job-1",
		Params:         models.GenerationJobParams{StudentIDs: []string{"s1", "s2"}},
		Status:         models.GenerationStatusQueued,
		TotalRequested: 2,
	}
	generator := generatorStub{result: &GenerationResult{
		Total:     2,
		Generated: 1,
		Failed:    1,
		Failures:  []models.GenerationFailure{{StudentID: "s2", Reason: "render failed"}},
	}}
	worker := NewGenerationWorker(repo, generator, 2, zap.NewNop())

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1"}))
	job := repo.jobs["job-1"]
	assert.Equal(t, models.GenerationStatusFinished, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 1, job.TotalGenerated)
	require.Len(t, job.Failures, 1)
	assert.Equal(t, "s2", job.Failures[0].StudentID)
}

func TestGenerationWorkerHandleFailureExhaustsRetries(t *testing.T) {
	repo := newJobRepoStub()
	repo.jobs["job-1"] = &models.GenerationJob{
		ID:     "job-1",
		Params: models.GenerationJobParams{StudentIDs: []string{"s1"}},
		Status: models.GenerationStatusQueued,
	}
	worker := NewGenerationWorker(repo, generatorStub{err: errors.New("boom")}, 2, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)
	assert.Equal(t, models.GenerationStatusFailed, repo.jobs["job-1"].Status)
}

func TestJobProgressSinkUpdatesOnBatchComplete(t *testing.T) {
	repo := newJobRepoStub()
	repo.jobs["job-1"] = &models.GenerationJob{ID: "job-1", Status: models.GenerationStatusProcessing}
	sink := &jobProgressSink{repo: repo, jobID: "job-1", logger: zap.NewNop()}

	require.NoError(t, sink.Publish(ProgressEvent{Kind: EventStudentSuccess, Generated: 1, Total: 4}))
	assert.Equal(t, 0, repo.jobs["job-1"].Progress)

	require.NoError(t, sink.Publish(ProgressEvent{Kind: EventBatchComplete, Generated: 2, Failed: 0, Total: 4}))
	assert.Equal(t, 50, repo.jobs["job-1"].Progress)
	assert.Equal(t, 2, repo.jobs["job-1"].TotalGenerated)
}
