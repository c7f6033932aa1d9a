package service

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/certify-api/internal/dto"
	"github.com/noah-isme/certify-api/internal/models"
	appErrors "github.com/noah-isme/certify-api/pkg/errors"
)

type certificateStore interface {
	GetByID(ctx context.Context, id string) (*models.Certificate, error)
	GetDetailsByIDs(ctx context.Context, ids []string) ([]models.CertificateDetail, error)
	GetLatestByStudent(ctx context.Context, studentID string) (*models.CertificateDetail, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Certificate, error)
}

type downloadSigner interface {
	Generate(certificateID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (certificateID, relPath string, expiresAt time.Time, err error)
}

type fileOpener interface {
	Download(filename string) ([]byte, error)
	Open(filename string) (*os.File, error)
}

// CertificateDownload aggregates resolved download data.
type CertificateDownload struct {
	File      *os.File
	Filename  string
	ExpiresAt time.Time
}

// Bundle is a ZIP archive of certificates plus the ids whose files could
// not be located.
type Bundle struct {
	Data    []byte
	Missing []string
}

// CertificateService serves issued certificates: lookup, signed
// downloads and multi-certificate bundles.
type CertificateService struct {
	repo    certificateStore
	signer  downloadSigner
	storage fileOpener
	prefix  string
	logger  *zap.Logger
}

// NewCertificateService constructs the service. prefix is the API prefix
// used when building download URLs.
func NewCertificateService(repo certificateStore, signer downloadSigner, storage fileOpener, prefix string, logger *zap.Logger) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &CertificateService{repo: repo, signer: signer, storage: storage, prefix: prefix, logger: logger}
}

// Latest returns the newest non-revoked certificate for a student with a
// short-lived download link.
func (s *CertificateService) Latest(ctx context.Context, studentID string) (*dto.CertificateResponse, error) {
	detail, err := s.repo.GetLatestByStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no certificate issued for student")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	return s.withDownloadURL(detail), nil
}

// ListByStudent returns every version issued to a student, newest first.
func (s *CertificateService) ListByStudent(ctx context.Context, studentID string) ([]models.Certificate, error) {
	certs, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	return certs, nil
}

// ResolveDownload validates a signed token and opens the stored file.
func (s *CertificateService) ResolveDownload(ctx context.Context, certificateID, token string) (*CertificateDownload, error) {
	tokenCertID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	if tokenCertID != certificateID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token does not match certificate")
	}
	cert, err := s.repo.GetByID(ctx, certificateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	if cert.FilePath == nil || *cert.FilePath != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token does not match stored file")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open certificate file")
	}
	return &CertificateDownload{
		File:      file,
		Filename:  fmt.Sprintf("%s_v%d.pdf", cert.CertificateNumber, cert.Version),
		ExpiresAt: expiresAt,
	}, nil
}

// BuildBundle packs the requested certificates into one ZIP archive.
// Certificates whose files cannot be located are skipped and reported in
// Missing rather than failing the whole bundle.
func (s *CertificateService) BuildBundle(ctx context.Context, certificateIDs []string) (*Bundle, error) {
	if len(certificateIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "certificate_ids is required")
	}
	details, err := s.repo.GetDetailsByIDs(ctx, certificateIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificates")
	}
	if len(details) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no certificates found")
	}

	found := make(map[string]struct{}, len(details))
	bundle := &Bundle{}
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	for _, detail := range details {
		found[detail.ID] = struct{}{}
		if detail.FilePath == nil {
			bundle.Missing = append(bundle.Missing, detail.ID)
			continue
		}
		data, err := s.storage.Download(*detail.FilePath)
		if err != nil {
			s.logger.Warn("bundle skipping unreadable certificate file",
				zap.String("certificate_id", detail.ID), zap.String("path", *detail.FilePath), zap.Error(err))
			bundle.Missing = append(bundle.Missing, detail.ID)
			continue
		}
		entry, err := zw.Create(bundleEntryName(detail))
		if err != nil {
			zw.Close() //nolint:errcheck
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build archive")
		}
		if _, err := entry.Write(data); err != nil {
			zw.Close() //nolint:errcheck
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write archive entry")
		}
	}

	// Ids the query never returned (revoked or unknown) are missing too.
	for _, id := range certificateIDs {
		if _, ok := found[id]; !ok {
			bundle.Missing = append(bundle.Missing, id)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize archive")
	}
	if len(bundle.Missing) == len(certificateIDs) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "none of the requested certificate files are available")
	}
	bundle.Data = buf.Bytes()
	return bundle, nil
}

var bundleNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func bundleEntryName(detail models.CertificateDetail) string {
	name := bundleNameChars.ReplaceAllString(detail.CandidateName, "_")
	if name == "" {
		name = "STUDENT"
	}
	return fmt.Sprintf("%s_%s_v%d.pdf", name, detail.CertificateNumber, detail.Version)
}

func (s *CertificateService) withDownloadURL(detail *models.CertificateDetail) *dto.CertificateResponse {
	resp := &dto.CertificateResponse{CertificateDetail: *detail}
	if detail.FilePath == nil || s.signer == nil {
		return resp
	}
	token, expiresAt, err := s.signer.Generate(detail.ID, *detail.FilePath)
	if err != nil {
		s.logger.Warn("failed to sign download url", zap.String("certificate_id", detail.ID), zap.Error(err))
		return resp
	}
	resp.DownloadURL = fmt.Sprintf("%s/certificates/%s/download?token=%s", s.prefix, detail.ID, token)
	resp.ExpiresAt = expiresAt
	return resp
}
