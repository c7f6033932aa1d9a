package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// CertificateNumberSource mints certificate numbers from a database
// sequence, so numbers stay unique across processes and restarts. The
// generation pipeline falls back to its local generator when the
// database allocation fails.
type CertificateNumberSource struct {
	db *sqlx.DB
}

// NewCertificateNumberSource constructs a CertificateNumberSource.
func NewCertificateNumberSource(db *sqlx.DB) *CertificateNumberSource {
	return &CertificateNumberSource{db: db}
}

// Next allocates the next number, formatted CERT-<year>-<sequence>.
func (s *CertificateNumberSource) Next(ctx context.Context) (string, error) {
	var seq int64
	if err := s.db.GetContext(ctx, &seq, `SELECT nextval('certificate_number_seq')`); err != nil {
		return "", fmt.Errorf("allocate certificate number: %w", err)
	}
	return fmt.Sprintf("CERT-%d-%06d", time.Now().UTC().Year(), seq), nil
}
