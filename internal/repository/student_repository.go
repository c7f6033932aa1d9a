package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/certify-api/internal/models"
)

const studentColumns = `id, salutation, candidate_name, guardian_type, name_of_father_husband, aadhaar,
       job_role, training_center, district, state, assessment_partner, enrollment_number,
       date_of_issuance, certificate_number, created_at, updated_at`

// StudentRepository manages persistence for roster records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters plus the total count.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(candidate_name) LIKE $%d OR LOWER(enrollment_number) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.District != "" {
		conditions = append(conditions, fmt.Sprintf("district = $%d", len(args)+1))
		args = append(args, filter.District)
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, filter.State)
	}

	where := strings.Join(conditions, " AND ")

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"candidate_name":    "candidate_name",
		"enrollment_number": "enrollment_number",
		"created_at":        "created_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM students WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		studentColumns, where, column, order, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM students WHERE %s", where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}

	return students, total, nil
}

// GetByID retrieves one roster row.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// GetByIDs resolves a set of roster rows preserving the requested order.
func (r *StudentRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = ANY($1)", studentColumns)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("get students by ids: %w", err)
	}
	byID := make(map[string]models.Student, len(students))
	for _, s := range students {
		byID[s.ID] = s
	}
	ordered := make([]models.Student, 0, len(students))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			ordered = append(ordered, s)
		}
	}
	return ordered, nil
}

// Create inserts one roster row.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students
	(id, salutation, candidate_name, guardian_type, name_of_father_husband, aadhaar,
	 job_role, training_center, district, state, assessment_partner, enrollment_number,
	 date_of_issuance, certificate_number, created_at, updated_at)
	VALUES (:id, :salutation, :candidate_name, :guardian_type, :name_of_father_husband, :aadhaar,
	 :job_role, :training_center, :district, :state, :assessment_partner, :enrollment_number,
	 :date_of_issuance, :certificate_number, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// BulkInsert stores a batch of roster rows in one round trip.
func (r *StudentRepository) BulkInsert(ctx context.Context, students []models.Student) error {
	if len(students) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range students {
		if students[i].ID == "" {
			students[i].ID = uuid.NewString()
		}
		students[i].CreatedAt = now
		students[i].UpdatedAt = now
	}
	const query = `INSERT INTO students
	(id, salutation, candidate_name, guardian_type, name_of_father_husband, aadhaar,
	 job_role, training_center, district, state, assessment_partner, enrollment_number,
	 date_of_issuance, certificate_number, created_at, updated_at)
	VALUES (:id, :salutation, :candidate_name, :guardian_type, :name_of_father_husband, :aadhaar,
	 :job_role, :training_center, :district, :state, :assessment_partner, :enrollment_number,
	 :date_of_issuance, :certificate_number, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, students); err != nil {
		return fmt.Errorf("bulk insert students: %w", err)
	}
	return nil
}

// Update rewrites the mutable attributes of a roster row.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET
	 salutation = :salutation, candidate_name = :candidate_name, guardian_type = :guardian_type,
	 name_of_father_husband = :name_of_father_husband, aadhaar = :aadhaar, job_role = :job_role,
	 training_center = :training_center, district = :district, state = :state,
	 assessment_partner = :assessment_partner, enrollment_number = :enrollment_number,
	 date_of_issuance = :date_of_issuance, certificate_number = :certificate_number,
	 updated_at = :updated_at
	 WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, student)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check student update rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a roster row.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM students WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check student delete rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
