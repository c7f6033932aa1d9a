package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/certify-api/internal/dto"
	"github.com/noah-isme/certify-api/internal/models"
	appErrors "github.com/noah-isme/certify-api/pkg/errors"
)

type studentStoreStub struct {
	students []models.Student
	err      error
}

func (s *studentStoreStub) GetByIDs(ctx context.Context, ids []string) ([]models.Student, error) {
	if s.err != nil {
		return nil, s.err
	}
	byID := make(map[string]models.Student, len(s.students))
	for _, st := range s.students {
		byID[st.ID] = st
	}
	var out []models.Student
	for _, id := range ids {
		if st, ok := byID[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

type templateSourceStub struct {
	template      *models.Template
	background    []byte
	resolveErr    error
	backgroundErr error
}

func (t *templateSourceStub) Resolve(ctx context.Context, ref string) (*models.Template, error) {
	if t.resolveErr != nil {
		return nil, t.resolveErr
	}
	return t.template, nil
}

func (t *templateSourceStub) Background(ctx context.Context, template *models.Template) ([]byte, error) {
	if t.backgroundErr != nil {
		return nil, t.backgroundErr
	}
	return t.background, nil
}

type certStoreStub struct {
	inserted []*models.Certificate
	err      error
	version  int
	calls    int
}

func (c *certStoreStub) BulkInsertVersioned(ctx context.Context, certs []*models.Certificate) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	for _, cert := range certs {
		c.version++
		cert.ID = cert.StudentID + "-cert"
		cert.Version = c.version
		c.inserted = append(c.inserted, cert)
	}
	return nil
}

type blobStoreStub struct {
	saved    map[string][]byte
	failWhen string
}

func newBlobStoreStub() *blobStoreStub {
	return &blobStoreStub{saved: map[string][]byte{}}
}

func (b *blobStoreStub) Save(filename string, data []byte) (string, error) {
	if b.failWhen != "" && strings.Contains(filename, b.failWhen) {
		return "", errors.New("storage unavailable")
	}
	b.saved[filename] = data
	return filename, nil
}

func (b *blobStoreStub) Download(filename string) ([]byte, error) {
	data, ok := b.saved[filename]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (b *blobStoreStub) Delete(filename string) error {
	delete(b.saved, filename)
	return nil
}

type recordingSink struct {
	events []ProgressEvent
}

func (r *recordingSink) Publish(event ProgressEvent) error {
	r.events = append(r.events, event)
	return nil
}

func testStudents(names ...string) []models.Student {
	students := make([]models.Student, 0, len(names))
	for _, name := range names {
		students = append(students, models.Student{
			ID:               name,
			CandidateName:    strings.ToUpper(name),
			JobRole:          "Field Technician",
			District:         "Pune",
			State:            "Maharashtra",
			EnrollmentNumber: "ENR-" + name,
		})
	}
	return students
}

func newGenerationServiceForTest(students []models.Student, templates *templateSourceStub, certs *certStoreStub, blobs *blobStoreStub) *GenerationService {
	return NewGenerationService(
		&studentStoreStub{students: students},
		templates,
		certs,
		blobs,
		nil,
		zap.NewNop(),
		GenerationServiceConfig{BatchSize: 2},
	)
}

func studentIDs(students []models.Student) []string {
	ids := make([]string, 0, len(students))
	for _, s := range students {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestGenerateAllSucceed(t *testing.T) {
	students := testStudents("s1", "s2", "s3")
	templates := &templateSourceStub{template: &models.Template{ID: "tpl-1", Title: "Standard"}}
	certs := &certStoreStub{}
	blobs := newBlobStoreStub()
	svc := newGenerationServiceForTest(students, templates, certs, blobs)

	sink := &recordingSink{}
	result, err := svc.Generate(context.Background(), dto.GenerateRequest{StudentIDs: studentIDs(students)}, 0, sink)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Generated)
	assert.Equal(t, 0, result.Failed)
	assert.Len(t, certs.inserted, 3)
	assert.Equal(t, 1, certs.calls)
	assert.Len(t, blobs.saved, 3)
	assert.Equal(t, result.Total, result.Generated+result.Failed)

	require.NotEmpty(t, sink.events)
	assert.Equal(t, EventStart, sink.events[0].Kind)
	assert.Equal(t, EventComplete, sink.events[len(sink.events)-1].Kind)
}

func TestGenerateUploadFailureIsIsolated(t *testing.T) {
	students := testStudents("alpha", "bravo", "charlie", "delta")
	templates := &templateSourceStub{template: &models.Template{ID: "tpl-1"}}
	certs := &certStoreStub{}
	blobs := newBlobStoreStub()
	blobs.failWhen = "BRAVO"
	svc := newGenerationServiceForTest(students, templates, certs, blobs)

	sink := &recordingSink{}
	result, err := svc.Generate(context.Background(), dto.GenerateRequest{StudentIDs: studentIDs(students)}, 0, sink)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 3, result.Generated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "bravo", result.Failures[0].StudentID)
	assert.Len(t, certs.inserted, 3)
	assert.Equal(t, result.Total, result.Generated+result.Failed)
}

func TestGenerateTemplateUnavailableFailsFast(t *testing.T) {
	students := testStudents("s1", "s2")
	templates := &templateSourceStub{
		template:      &models.Template{ID: "tpl-1"},
		backgroundErr: appErrors.ErrTemplateUnavailable,
	}
	certs := &certStoreStub{}
	blobs := newBlobStoreStub()
	svc := newGenerationServiceForTest(students, templates, certs, blobs)

	sink := &recordingSink{}
	_, err := svc.Generate(context.Background(), dto.GenerateRequest{StudentIDs: studentIDs(students)}, 0, sink)
	require.Error(t, err)
	assert.Empty(t, certs.inserted)
	assert.Empty(t, blobs.saved)
	require.Len(t, sink.events, 1)
	assert.Equal(t, EventError, sink.events[0].Kind)
}

func TestGenerateMissingStudentsRecorded(t *testing.T) {
	students := testStudents("known")
	templates := &templateSourceStub{template: &models.Template{ID: "tpl-1"}}
	certs := &certStoreStub{}
	svc := newGenerationServiceForTest(students, templates, certs, newBlobStoreStub())

	result, err := svc.Generate(context.Background(), dto.GenerateRequest{StudentIDs: []string{"known", "ghost"}}, 0, NopSink{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Generated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "ghost", result.Failures[0].StudentID)
}

func TestGenerateNoStudentsFound(t *testing.T) {
	templates := &templateSourceStub{template: &models.Template{ID: "tpl-1"}}
	svc := newGenerationServiceForTest(nil, templates, &certStoreStub{}, newBlobStoreStub())

	_, err := svc.Generate(context.Background(), dto.GenerateRequest{StudentIDs: []string{"ghost"}}, 0, NopSink{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrStudentsNotFound.Code, appErr.Code)
}

func TestGenerateMetadataFailureFailsJob(t *testing.T) {
	students := testStudents("s1", "s2", "s3")
	templates := &templateSourceStub{template: &models.Template{ID: "tpl-1"}}
	certs := &certStoreStub{err: errors.New("db down")}
	blobs := newBlobStoreStub()
	svc := newGenerationServiceForTest(students, templates, certs, blobs)

	sink := &recordingSink{}
	result, err := svc.Generate(context.Background(), dto.GenerateRequest{StudentIDs: studentIDs(students)}, 0, sink)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrMetadataInsert.Code, appErr.Code)
	assert.Empty(t, result.Certificates)
	assert.Empty(t, certs.inserted)

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, EventError, last.Kind)
	for _, event := range sink.events {
		assert.NotEqual(t, EventComplete, event.Kind)
	}
}

func TestGenerateBatchEventsOrdered(t *testing.T) {
	students := testStudents("s1", "s2", "s3", "s4", "s5")
	templates := &templateSourceStub{template: &models.Template{ID: "tpl-1"}}
	certs := &certStoreStub{}
	svc := newGenerationServiceForTest(students, templates, certs, newBlobStoreStub())

	sink := &recordingSink{}
	result, err := svc.Generate(context.Background(), dto.GenerateRequest{StudentIDs: studentIDs(students)}, 2, sink)
	require.NoError(t, err)
	require.Equal(t, 5, result.Generated)

	var batchStarts, batchCompletes, successes int
	for _, event := range sink.events {
		switch event.Kind {
		case EventBatchStart:
			batchStarts++
		case EventBatchComplete:
			batchCompletes++
		case EventStudentSuccess:
			successes++
		}
	}
	assert.Equal(t, 3, batchStarts)
	assert.Equal(t, 3, batchCompletes)
	assert.Equal(t, 5, successes)
	assert.Equal(t, 1, certs.calls)

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, EventComplete, last.Kind)
	assert.Equal(t, 5, last.Generated)
	assert.Equal(t, 0, last.Failed)
}

func TestGenerateStudentEventsDoNotInterleave(t *testing.T) {
	students := testStudents("s1", "s2", "s3", "s4")
	templates := &templateSourceStub{template: &models.Template{ID: "tpl-1"}}
	svc := newGenerationServiceForTest(students, templates, &certStoreStub{}, newBlobStoreStub())

	sink := &recordingSink{}
	_, err := svc.Generate(context.Background(), dto.GenerateRequest{StudentIDs: studentIDs(students)}, 2, sink)
	require.NoError(t, err)

	var perStudent []ProgressEvent
	for _, event := range sink.events {
		switch event.Kind {
		case EventStudentStart, EventStudentSuccess, EventStudentError:
			perStudent = append(perStudent, event)
		}
	}
	require.Len(t, perStudent, 8)
	for i := 0; i < len(perStudent); i += 2 {
		assert.Equal(t, EventStudentStart, perStudent[i].Kind)
		assert.Equal(t, EventStudentSuccess, perStudent[i+1].Kind)
		assert.Equal(t, perStudent[i].StudentID, perStudent[i+1].StudentID)
	}
	for i, event := range perStudent {
		assert.Equal(t, students[i/2].ID, event.StudentID)
	}
}

func TestGenerateUsesSuppliedNumber(t *testing.T) {
	students := testStudents("s1")
	supplied := "CERT-SUPPLIED-7"
	students[0].CertificateNumber = &supplied
	templates := &templateSourceStub{template: &models.Template{ID: "tpl-1"}}
	certs := &certStoreStub{}
	svc := newGenerationServiceForTest(students, templates, certs, newBlobStoreStub())

	result, err := svc.Generate(context.Background(), dto.GenerateRequest{StudentIDs: studentIDs(students)}, 0, NopSink{})
	require.NoError(t, err)
	require.Len(t, result.Certificates, 1)
	assert.Equal(t, supplied, result.Certificates[0].CertificateNumber)
}
