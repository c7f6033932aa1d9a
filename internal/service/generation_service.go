package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/certify-api/internal/dto"
	"github.com/noah-isme/certify-api/internal/models"
	"github.com/noah-isme/certify-api/internal/render"
	appErrors "github.com/noah-isme/certify-api/pkg/errors"
)

// Progress event kinds emitted during a generation run.
const (
	EventStart          = "start"
	EventBatchStart     = "batch_start"
	EventStudentStart   = "student_start"
	EventStudentSuccess = "student_success"
	EventStudentError   = "student_error"
	EventBatchComplete  = "batch_complete"
	EventComplete       = "complete"
	EventError          = "error"
)

// ProgressEvent is one unit of generation progress. Fields are populated
// per kind; zero values mean "not applicable".
type ProgressEvent struct {
	Kind              string `json:"event"`
	StudentID         string `json:"student_id,omitempty"`
	StudentName       string `json:"student_name,omitempty"`
	CertificateID     string `json:"certificate_id,omitempty"`
	CertificateNumber string `json:"certificate_number,omitempty"`
	Version           int    `json:"version,omitempty"`
	Message           string `json:"message,omitempty"`
	BatchIndex        int    `json:"batch_index,omitempty"`
	BatchCount        int    `json:"batch_count,omitempty"`
	Generated         int    `json:"generated"`
	Failed            int    `json:"failed"`
	Total             int    `json:"total"`
}

// ProgressSink receives ordered progress events. A sink error aborts the
// run after the current batch is persisted; the streaming handler uses
// this to stop work when the client disconnects.
type ProgressSink interface {
	Publish(event ProgressEvent) error
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements ProgressSink.
func (NopSink) Publish(ProgressEvent) error { return nil }

type generationStudentStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]models.Student, error)
}

type generationCertificateStore interface {
	BulkInsertVersioned(ctx context.Context, certs []*models.Certificate) error
}

type templateSource interface {
	Resolve(ctx context.Context, ref string) (*models.Template, error)
	Background(ctx context.Context, template *models.Template) ([]byte, error)
}

// GenerationResult summarises one run.
type GenerationResult struct {
	Total        int
	Generated    int
	Failed       int
	Failures     []models.GenerationFailure
	Certificates []models.Certificate
}

// GenerationServiceConfig tunes batching and page geometry.
type GenerationServiceConfig struct {
	BatchSize    int
	QRSizePixels int
	PageWidthPt  float64
	PageHeightPt float64
}

// GenerationService runs the certificate pipeline: resolve the template
// once, fetch its background once, then render, upload and persist
// per-student artifacts in batches. Template and background failures
// abort the run; everything after that is isolated per student.
type GenerationService struct {
	students  generationStudentStore
	templates templateSource
	certs     generationCertificateStore
	storage   blobStore
	numbers   render.NumberSource
	fallback  render.NumberSource
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       GenerationServiceConfig
}

// NewGenerationService constructs the service. The primary number source
// may be nil; the local fallback generator is always available.
func NewGenerationService(students generationStudentStore, templates templateSource, certs generationCertificateStore, storage blobStore, numbers render.NumberSource, logger *zap.Logger, cfg GenerationServiceConfig) *GenerationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	return &GenerationService{
		students:  students,
		templates: templates,
		certs:     certs,
		storage:   storage,
		numbers:   numbers,
		fallback:  render.NewFallbackNumberGenerator(),
		logger:    logger,
		cfg:       cfg,
	}
}

// SetMetrics attaches a metrics service. All recorders tolerate a nil
// receiver, so this is optional.
func (s *GenerationService) SetMetrics(metrics *MetricsService) {
	s.metrics = metrics
}

// Generate runs the pipeline for the requested students. batchSize
// overrides the configured default when positive (the streaming endpoint
// uses small batches to keep events flowing). Events are published to
// sink in order; pass NopSink when progress is not observed.
func (s *GenerationService) Generate(ctx context.Context, req dto.GenerateRequest, batchSize int, sink ProgressSink) (*GenerationResult, error) {
	if sink == nil {
		sink = NopSink{}
	}
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	if len(req.StudentIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_ids is required")
	}

	template, err := s.templates.Resolve(ctx, req.TemplateRef)
	if err != nil {
		_ = sink.Publish(ProgressEvent{Kind: EventError, Message: appErrors.FromError(err).Message})
		return nil, err
	}
	background, err := s.templates.Background(ctx, template)
	if err != nil {
		_ = sink.Publish(ProgressEvent{Kind: EventError, Message: appErrors.FromError(err).Message})
		return nil, err
	}

	students, err := s.students.GetByIDs(ctx, req.StudentIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students")
	}
	if len(students) == 0 {
		return nil, appErrors.ErrStudentsNotFound
	}

	result := &GenerationResult{Total: len(req.StudentIDs)}
	for _, missing := range missingIDs(req.StudentIDs, students) {
		result.Failures = append(result.Failures, models.GenerationFailure{StudentID: missing, Reason: "student not found"})
		result.Failed++
	}

	batches := chunkStudents(students, batchSize)
	if err := sink.Publish(ProgressEvent{Kind: EventStart, Total: result.Total, BatchCount: len(batches)}); err != nil {
		return result, err
	}

	renderer := render.NewRenderer(render.Options{
		PageWidthPt:  s.cfg.PageWidthPt,
		PageHeightPt: s.cfg.PageHeightPt,
		QRSizePixels: s.cfg.QRSizePixels,
	})

	var pending []pendingArtifact
	for batchIndex, batch := range batches {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := sink.Publish(ProgressEvent{
			Kind: EventBatchStart, BatchIndex: batchIndex + 1, BatchCount: len(batches),
			Generated: result.Generated, Failed: result.Failed, Total: result.Total,
		}); err != nil {
			return result, err
		}

		pending = s.processBatch(ctx, renderer, template, background, batch, sink, result, pending)

		if err := sink.Publish(ProgressEvent{
			Kind: EventBatchComplete, BatchIndex: batchIndex + 1, BatchCount: len(batches),
			Generated: result.Generated, Failed: result.Failed, Total: result.Total,
		}); err != nil {
			return result, err
		}
	}

	if err := s.persistArtifacts(ctx, pending, sink, result); err != nil {
		return result, err
	}

	_ = sink.Publish(ProgressEvent{
		Kind: EventComplete, Generated: result.Generated, Failed: result.Failed, Total: result.Total,
	})
	return result, nil
}

// persistArtifacts inserts metadata for every uploaded artifact in one
// transaction that also revokes prior versions. An insert failure is
// fatal to the job: the uploaded blobs are orphaned (paths logged) and
// a job-level error event replaces completion.
func (s *GenerationService) persistArtifacts(ctx context.Context, pending []pendingArtifact, sink ProgressSink, result *GenerationResult) error {
	if len(pending) == 0 {
		return nil
	}

	certs := make([]*models.Certificate, len(pending))
	for i := range pending {
		certs[i] = pending[i].cert
	}
	if err := s.certs.BulkInsertVersioned(ctx, certs); err != nil {
		for _, p := range pending {
			if p.cert.FilePath != nil {
				s.logger.Error("orphaned certificate blob after metadata failure",
					zap.String("student_id", p.student.ID), zap.String("path", *p.cert.FilePath), zap.Error(err))
			}
		}
		insertErr := appErrors.Wrap(err, appErrors.ErrMetadataInsert.Code, appErrors.ErrMetadataInsert.Status, "certificate metadata insert failed")
		s.metrics.RecordFailure(insertErr.Code)
		_ = sink.Publish(ProgressEvent{
			Kind: EventError, Message: insertErr.Message,
			Generated: result.Generated, Failed: result.Failed, Total: result.Total,
		})
		return insertErr
	}

	s.metrics.RecordGenerated(len(pending))
	for _, p := range pending {
		result.Certificates = append(result.Certificates, *p.cert)
	}
	return nil
}

// pendingArtifact pairs a student with its rendered, uploaded artifact
// while the job waits for metadata persistence.
type pendingArtifact struct {
	student models.Student
	cert    *models.Certificate
}

// processBatch renders and uploads one batch. Each student's events are
// contiguous: start then success or error, in list order. Metadata is
// not persisted here; artifacts accumulate until every batch is done.
func (s *GenerationService) processBatch(ctx context.Context, renderer *render.Renderer, template *models.Template, background []byte, batch []models.Student, sink ProgressSink, result *GenerationResult, pending []pendingArtifact) []pendingArtifact {
	for _, student := range batch {
		_ = sink.Publish(ProgressEvent{
			Kind: EventStudentStart, StudentID: student.ID, StudentName: student.CandidateName,
			Generated: result.Generated, Failed: result.Failed, Total: result.Total,
		})

		cert, err := s.generateOne(ctx, renderer, template, background, student)
		if err != nil {
			s.recordFailure(sink, result, student, err)
			continue
		}
		pending = append(pending, pendingArtifact{student: student, cert: cert})
		result.Generated++
		_ = sink.Publish(ProgressEvent{
			Kind: EventStudentSuccess, StudentID: student.ID, StudentName: student.CandidateName,
			CertificateNumber: cert.CertificateNumber,
			Generated:         result.Generated,
			Failed:            result.Failed,
			Total:             result.Total,
		})
	}
	return pending
}

func (s *GenerationService) generateOne(ctx context.Context, renderer *render.Renderer, template *models.Template, background []byte, student models.Student) (*models.Certificate, error) {
	number, err := s.certificateNumber(ctx, student)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate certificate number")
	}

	issuedAt := time.Now().UTC()
	renderStart := time.Now()
	artifact, err := renderer.Render(&student, template, background, number, issuedAt)
	s.metrics.ObserveRender(time.Since(renderStart))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRenderFailed.Code, appErrors.ErrRenderFailed.Status, "certificate render failed")
	}

	storedPath, err := s.storage.Save(artifact.Filename, artifact.Bytes)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUploadFailed.Code, appErrors.ErrUploadFailed.Status, "certificate upload failed")
	}

	return &models.Certificate{
		StudentID:         student.ID,
		TemplateID:        template.ID,
		CertificateNumber: number,
		FilePath:          &storedPath,
		QRPayload:         artifact.QRPayload,
		IssuedAt:          issuedAt,
	}, nil
}

// certificateNumber returns the student's pre-assigned number when one
// was supplied on the roster, minting a fresh one otherwise.
func (s *GenerationService) certificateNumber(ctx context.Context, student models.Student) (string, error) {
	if student.CertificateNumber != nil && strings.TrimSpace(*student.CertificateNumber) != "" {
		return strings.TrimSpace(*student.CertificateNumber), nil
	}
	return s.nextNumber(ctx)
}

// nextNumber prefers the primary number source and falls back to the
// local generator when it fails or is absent.
func (s *GenerationService) nextNumber(ctx context.Context) (string, error) {
	if s.numbers != nil {
		number, err := s.numbers.Next(ctx)
		if err == nil && number != "" {
			return number, nil
		}
		if err != nil {
			s.logger.Warn("certificate number source failed, using fallback", zap.Error(err))
		}
	}
	return s.fallback.Next(ctx)
}

func (s *GenerationService) recordFailure(sink ProgressSink, result *GenerationResult, student models.Student, err error) {
	appErr := appErrors.FromError(err)
	s.metrics.RecordFailure(appErr.Code)
	result.Failed++
	result.Failures = append(result.Failures, models.GenerationFailure{StudentID: student.ID, Reason: appErr.Message})
	s.logger.Warn("certificate generation failed for student",
		zap.String("student_id", student.ID), zap.Error(err))
	_ = sink.Publish(ProgressEvent{
		Kind: EventStudentError, StudentID: student.ID, StudentName: student.CandidateName,
		Message: appErr.Message, Generated: result.Generated, Failed: result.Failed, Total: result.Total,
	})
}

func chunkStudents(students []models.Student, size int) [][]models.Student {
	if size <= 0 {
		size = len(students)
	}
	var batches [][]models.Student
	for start := 0; start < len(students); start += size {
		end := start + size
		if end > len(students) {
			end = len(students)
		}
		batches = append(batches, students[start:end])
	}
	return batches
}

func missingIDs(requested []string, found []models.Student) []string {
	present := make(map[string]struct{}, len(found))
	for _, s := range found {
		present[s.ID] = struct{}{}
	}
	var missing []string
	for _, id := range requested {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
