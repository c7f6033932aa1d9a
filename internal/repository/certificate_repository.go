package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/certify-api/internal/models"
)

const certificateColumns = `id, student_id, template_id, certificate_number, file_path, qr_payload,
       version, is_revoked, issued_at`

// CertificateRepository manages certificate metadata rows. Rows are
// append-only: regeneration inserts the next version and flags prior
// versions revoked instead of rewriting them.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs a CertificateRepository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// BulkInsertVersioned persists a job's pending metadata in one
// transaction. For every pending row the next version for its
// (student, template) pair is computed and older versions are revoked, so
// supersession stays explicit and auditable. On error nothing is written.
func (r *CertificateRepository) BulkInsertVersioned(ctx context.Context, certs []*models.Certificate) error {
	if len(certs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin certificate insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const nextVersionQuery = `SELECT COALESCE(MAX(version), 0) + 1 FROM certificates
	WHERE student_id = $1 AND template_id = $2`
	const revokeQuery = `UPDATE certificates SET is_revoked = TRUE
	WHERE student_id = $1 AND template_id = $2 AND is_revoked = FALSE`
	const insertQuery = `INSERT INTO certificates
	(id, student_id, template_id, certificate_number, file_path, qr_payload, version, is_revoked, issued_at)
	VALUES (:id, :student_id, :template_id, :certificate_number, :file_path, :qr_payload, :version, :is_revoked, :issued_at)`

	for _, cert := range certs {
		if cert.ID == "" {
			cert.ID = uuid.NewString()
		}
		if cert.IssuedAt.IsZero() {
			cert.IssuedAt = time.Now().UTC()
		}
		if err := tx.GetContext(ctx, &cert.Version, nextVersionQuery, cert.StudentID, cert.TemplateID); err != nil {
			return fmt.Errorf("compute certificate version: %w", err)
		}
		if _, err := tx.ExecContext(ctx, revokeQuery, cert.StudentID, cert.TemplateID); err != nil {
			return fmt.Errorf("revoke prior certificates: %w", err)
		}
		cert.IsRevoked = false
		if _, err := tx.NamedExecContext(ctx, insertQuery, cert); err != nil {
			return fmt.Errorf("insert certificate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit certificate insert: %w", err)
	}
	return nil
}

// GetByID retrieves one certificate row.
func (r *CertificateRepository) GetByID(ctx context.Context, id string) (*models.Certificate, error) {
	query := fmt.Sprintf("SELECT %s FROM certificates WHERE id = $1", certificateColumns)
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, id); err != nil {
		return nil, err
	}
	return &cert, nil
}

// GetDetailsByIDs returns non-revoked certificates with student and
// template context, newest version first.
func (r *CertificateRepository) GetDetailsByIDs(ctx context.Context, ids []string) ([]models.CertificateDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT c.id, c.student_id, c.template_id, c.certificate_number, c.file_path, c.qr_payload,
	       c.version, c.is_revoked, c.issued_at, s.candidate_name, t.title AS template_title
	FROM certificates c
	JOIN students s ON s.id = c.student_id
	JOIN templates t ON t.id = c.template_id
	WHERE c.id = ANY($1) AND c.is_revoked = FALSE
	ORDER BY c.version DESC`
	var details []models.CertificateDetail
	if err := r.db.SelectContext(ctx, &details, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("get certificates by ids: %w", err)
	}
	return details, nil
}

// GetLatestByStudent returns the newest non-revoked certificate for a student.
func (r *CertificateRepository) GetLatestByStudent(ctx context.Context, studentID string) (*models.CertificateDetail, error) {
	const query = `SELECT c.id, c.student_id, c.template_id, c.certificate_number, c.file_path, c.qr_payload,
	       c.version, c.is_revoked, c.issued_at, s.candidate_name, t.title AS template_title
	FROM certificates c
	JOIN students s ON s.id = c.student_id
	JOIN templates t ON t.id = c.template_id
	WHERE c.student_id = $1 AND c.is_revoked = FALSE
	ORDER BY c.version DESC, c.issued_at DESC
	LIMIT 1`
	var detail models.CertificateDetail
	if err := r.db.GetContext(ctx, &detail, query, studentID); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByStudent returns every version issued to a student, newest first.
func (r *CertificateRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Certificate, error) {
	query := fmt.Sprintf("SELECT %s FROM certificates WHERE student_id = $1 ORDER BY issued_at DESC", certificateColumns)
	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, studentID); err != nil {
		return nil, fmt.Errorf("list certificates by student: %w", err)
	}
	return certs, nil
}
