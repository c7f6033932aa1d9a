package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/certify-api/internal/dto"
	"github.com/noah-isme/certify-api/internal/models"
	appErrors "github.com/noah-isme/certify-api/pkg/errors"
)

type studentStore interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	GetByID(ctx context.Context, id string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	BulkInsert(ctx context.Context, students []models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
}

// StudentService manages the roster of certificate candidates.
type StudentService struct {
	repo   studentStore
	logger *zap.Logger
}

// NewStudentService constructs the service.
func NewStudentService(repo studentStore, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, logger: logger}
}

// List returns students matching the filter plus pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads one student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create inserts a new roster record.
func (s *StudentService) Create(ctx context.Context, req dto.StudentRequest) (*models.Student, error) {
	student, err := studentFromRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	return student, nil
}

// Update rewrites a roster record.
func (s *StudentService) Update(ctx context.Context, id string, req dto.StudentRequest) (*models.Student, error) {
	student, err := studentFromRequest(req)
	if err != nil {
		return nil, err
	}
	student.ID = id
	if err := s.repo.Update(ctx, student); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}

// Delete removes a roster record.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	return nil
}

// BulkUpload imports roster rows from a CSV file. Rows with a missing
// candidate name are skipped and reported; a malformed file fails the
// import wholesale before anything is written.
func (s *StudentService) BulkUpload(ctx context.Context, r io.Reader) (*dto.BulkUploadResponse, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "csv file is empty or unreadable")
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[normalizeHeader(name)] = i
	}
	if _, ok := columns["candidate_name"]; !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "csv must contain a candidate_name column")
	}

	resp := &dto.BulkUploadResponse{}
	var students []models.Student
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("malformed csv at line %d", line))
		}

		cell := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		name := cell("candidate_name")
		if name == "" {
			resp.Skipped++
			resp.Errors = append(resp.Errors, fmt.Sprintf("line %d: candidate_name is empty", line))
			continue
		}

		student := models.Student{
			Salutation:          cell("salutation"),
			CandidateName:       name,
			GuardianType:        cell("guardian_type"),
			NameOfFatherHusband: cell("name_of_father_husband"),
			Aadhaar:             cell("aadhaar"),
			JobRole:             cell("job_role"),
			TrainingCenter:      cell("training_center"),
			District:            cell("district"),
			State:               cell("state"),
			AssessmentPartner:   cell("assessment_partner"),
			EnrollmentNumber:    cell("enrollment_number"),
		}
		if raw := cell("date_of_issuance"); raw != "" {
			when, err := parseIssuanceDate(raw)
			if err != nil {
				resp.Skipped++
				resp.Errors = append(resp.Errors, fmt.Sprintf("line %d: %v", line, err))
				continue
			}
			student.DateOfIssuance = &when
		}
		if number := cell("certificate_number"); number != "" {
			student.CertificateNumber = &number
		}
		students = append(students, student)
	}

	if len(students) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "csv contains no importable rows")
	}
	if err := s.repo.BulkInsert(ctx, students); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to import students")
	}
	resp.Inserted = len(students)
	return resp, nil
}

func studentFromRequest(req dto.StudentRequest) (*models.Student, error) {
	if strings.TrimSpace(req.CandidateName) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "candidate_name is required")
	}
	student := &models.Student{
		Salutation:          req.Salutation,
		CandidateName:       strings.TrimSpace(req.CandidateName),
		GuardianType:        req.GuardianType,
		NameOfFatherHusband: req.NameOfFatherHusband,
		Aadhaar:             req.Aadhaar,
		JobRole:             req.JobRole,
		TrainingCenter:      req.TrainingCenter,
		District:            req.District,
		State:               req.State,
		AssessmentPartner:   req.AssessmentPartner,
		EnrollmentNumber:    req.EnrollmentNumber,
	}
	if req.DateOfIssuance != "" {
		when, err := parseIssuanceDate(req.DateOfIssuance)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
		}
		student.DateOfIssuance = &when
	}
	if req.CertificateNumber != "" {
		number := req.CertificateNumber
		student.CertificateNumber = &number
	}
	return student, nil
}

func normalizeHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}

// parseIssuanceDate accepts the two formats seen in roster exports.
func parseIssuanceDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if when, err := time.Parse(layout, raw); err == nil {
			return when, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD or DD/MM/YYYY)", raw)
}
