package models

import "time"

// Certificate is one issued artifact's metadata row. Rows are never
// updated in place: regeneration inserts a new version and revokes the
// prior rows for the same (student, template) pair.
type Certificate struct {
	ID                string    `db:"id" json:"id"`
	StudentID         string    `db:"student_id" json:"student_id"`
	TemplateID        string    `db:"template_id" json:"template_id"`
	CertificateNumber string    `db:"certificate_number" json:"certificate_number"`
	FilePath          *string   `db:"file_path" json:"file_path,omitempty"`
	QRPayload         string    `db:"qr_payload" json:"qr_payload"`
	Version           int       `db:"version" json:"version"`
	IsRevoked         bool      `db:"is_revoked" json:"is_revoked"`
	IssuedAt          time.Time `db:"issued_at" json:"issued_at"`
}

// CertificateDetail joins the owning student's name for display and
// bundle filenames.
type CertificateDetail struct {
	Certificate
	CandidateName string `db:"candidate_name" json:"candidate_name"`
	TemplateTitle string `db:"template_title" json:"template_title"`
}
