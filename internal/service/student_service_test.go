package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/certify-api/internal/dto"
	"github.com/noah-isme/certify-api/internal/models"
)

type rosterStoreStub struct {
	students map[string]*models.Student
}

func newRosterStoreStub() *rosterStoreStub {
	return &rosterStoreStub{students: map[string]*models.Student{}}
}

func (r *rosterStoreStub) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	var out []models.Student
	for _, s := range r.students {
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (r *rosterStoreStub) GetByID(ctx context.Context, id string) (*models.Student, error) {
	s, ok := r.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

func (r *rosterStoreStub) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	r.students[student.ID] = student
	return nil
}

func (r *rosterStoreStub) BulkInsert(ctx context.Context, students []models.Student) error {
	for i := range students {
		if students[i].ID == "" {
			students[i].ID = uuid.NewString()
		}
		s := students[i]
		r.students[s.ID] = &s
	}
	return nil
}

func (r *rosterStoreStub) Update(ctx context.Context, student *models.Student) error {
	if _, ok := r.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	r.students[student.ID] = student
	return nil
}

func (r *rosterStoreStub) Delete(ctx context.Context, id string) error {
	if _, ok := r.students[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.students, id)
	return nil
}

func TestStudentServiceCreateRequiresName(t *testing.T) {
	svc := NewStudentService(newRosterStoreStub(), zap.NewNop())
	_, err := svc.Create(context.Background(), dto.StudentRequest{CandidateName: "   "})
	require.Error(t, err)
}

func TestStudentServiceCreateParsesDate(t *testing.T) {
	svc := NewStudentService(newRosterStoreStub(), zap.NewNop())
	student, err := svc.Create(context.Background(), dto.StudentRequest{
		CandidateName:  "John Doe",
		DateOfIssuance: "15/08/2025",
	})
	require.NoError(t, err)
	require.NotNil(t, student.DateOfIssuance)
	assert.Equal(t, 2025, student.DateOfIssuance.Year())
}

func TestStudentServiceUpdateNotFound(t *testing.T) {
	svc := NewStudentService(newRosterStoreStub(), zap.NewNop())
	_, err := svc.Update(context.Background(), "ghost", dto.StudentRequest{CandidateName: "John"})
	require.Error(t, err)
}

func TestStudentServiceBulkUpload(t *testing.T) {
	repo := newRosterStoreStub()
	svc := NewStudentService(repo, zap.NewNop())

	csvData := strings.Join([]string{
		"Candidate Name,Job Role,District,State,Enrollment Number,Date of Issuance",
		"John Doe,Field Technician,Pune,Maharashtra,ENR-1,2025-01-15",
		",Field Technician,Pune,Maharashtra,ENR-2,2025-01-15",
		"Jane Roe,Sewing Machine Operator,Nashik,Maharashtra,ENR-3,15/01/2025",
	}, "\n")

	resp, err := svc.BulkUpload(context.Background(), strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Inserted)
	assert.Equal(t, 1, resp.Skipped)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "line 3")
	assert.Len(t, repo.students, 2)
}

func TestStudentServiceBulkUploadRequiresNameColumn(t *testing.T) {
	svc := NewStudentService(newRosterStoreStub(), zap.NewNop())
	_, err := svc.BulkUpload(context.Background(), strings.NewReader("foo,bar\n1,2\n"))
	require.Error(t, err)
}

func TestStudentServiceBulkUploadEmptyFile(t *testing.T) {
	svc := NewStudentService(newRosterStoreStub(), zap.NewNop())
	_, err := svc.BulkUpload(context.Background(), strings.NewReader(""))
	require.Error(t, err)
}
