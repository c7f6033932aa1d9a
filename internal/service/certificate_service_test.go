package service

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/certify-api/internal/models"
	"github.com/noah-isme/certify-api/pkg/storage"
)

type certLookupStub struct {
	certs   map[string]*models.Certificate
	details map[string]models.CertificateDetail
	latest  *models.CertificateDetail
}

func newCertLookupStub() *certLookupStub {
	return &certLookupStub{
		certs:   map[string]*models.Certificate{},
		details: map[string]models.CertificateDetail{},
	}
}

func (c *certLookupStub) GetByID(ctx context.Context, id string) (*models.Certificate, error) {
	cert, ok := c.certs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cert, nil
}

func (c *certLookupStub) GetDetailsByIDs(ctx context.Context, ids []string) ([]models.CertificateDetail, error) {
	var out []models.CertificateDetail
	for _, id := range ids {
		if detail, ok := c.details[id]; ok {
			out = append(out, detail)
		}
	}
	return out, nil
}

func (c *certLookupStub) GetLatestByStudent(ctx context.Context, studentID string) (*models.CertificateDetail, error) {
	if c.latest == nil {
		return nil, sql.ErrNoRows
	}
	return c.latest, nil
}

func (c *certLookupStub) ListByStudent(ctx context.Context, studentID string) ([]models.Certificate, error) {
	var out []models.Certificate
	for _, cert := range c.certs {
		if cert.StudentID == studentID {
			out = append(out, *cert)
		}
	}
	return out, nil
}

func newCertificateServiceForTest(t *testing.T) (*CertificateService, *certLookupStub, *storage.LocalStorage, *storage.SignedURLSigner) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Minute)
	repo := newCertLookupStub()
	svc := NewCertificateService(repo, signer, store, "/api/v1", zap.NewNop())
	return svc, repo, store, signer
}

func certDetail(id, student, name, number string, version int, path string) models.CertificateDetail {
	return models.CertificateDetail{
		Certificate: models.Certificate{
			ID:                id,
			StudentID:         student,
			TemplateID:        "tpl-1",
			CertificateNumber: number,
			FilePath:          &path,
			Version:           version,
			IssuedAt:          time.Now().UTC(),
		},
		CandidateName: name,
		TemplateTitle: "Standard",
	}
}

func TestCertificateServiceLatest(t *testing.T) {
	svc, repo, store, _ := newCertificateServiceForTest(t)
	_, err := store.Save("generated/JOHN_1.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	detail := certDetail("cert-1", "student-1", "John Doe", "CERT-1", 2, "generated/JOHN_1.pdf")
	repo.latest = &detail

	resp, err := svc.Latest(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, "cert-1", resp.ID)
	assert.Equal(t, 2, resp.Version)
	assert.Contains(t, resp.DownloadURL, "/api/v1/certificates/cert-1/download?token=")
	assert.False(t, resp.ExpiresAt.IsZero())
}

func TestCertificateServiceLatestNotFound(t *testing.T) {
	svc, _, _, _ := newCertificateServiceForTest(t)
	_, err := svc.Latest(context.Background(), "student-1")
	require.Error(t, err)
}

func TestCertificateServiceResolveDownload(t *testing.T) {
	svc, repo, store, signer := newCertificateServiceForTest(t)
	path := "generated/JANE_2.pdf"
	_, err := store.Save(path, []byte("%PDF-1.4 jane"))
	require.NoError(t, err)
	repo.certs["cert-2"] = &models.Certificate{
		ID: "cert-2", StudentID: "student-2", CertificateNumber: "CERT-2", FilePath: &path, Version: 1,
	}
	token, _, err := signer.Generate("cert-2", path)
	require.NoError(t, err)

	download, err := svc.ResolveDownload(context.Background(), "cert-2", token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, "CERT-2_v1.pdf", download.Filename)

	info, err := download.File.Stat()
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestCertificateServiceResolveDownloadRejectsMismatchedToken(t *testing.T) {
	svc, repo, store, signer := newCertificateServiceForTest(t)
	path := "generated/a.pdf"
	_, err := store.Save(path, []byte("%PDF"))
	require.NoError(t, err)
	repo.certs["cert-a"] = &models.Certificate{ID: "cert-a", FilePath: &path}
	repo.certs["cert-b"] = &models.Certificate{ID: "cert-b", FilePath: &path}

	token, _, err := signer.Generate("cert-a", path)
	require.NoError(t, err)

	_, err = svc.ResolveDownload(context.Background(), "cert-b", token)
	require.Error(t, err)
}

func TestCertificateServiceBuildBundle(t *testing.T) {
	svc, repo, store, _ := newCertificateServiceForTest(t)

	ids := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("cert-%d", i)
		path := fmt.Sprintf("generated/student_%d.pdf", i)
		// The fifth certificate has metadata but no stored file.
		if i < 5 {
			_, err := store.Save(path, []byte(fmt.Sprintf("%%PDF-%d", i)))
			require.NoError(t, err)
		}
		repo.details[id] = certDetail(id, fmt.Sprintf("student-%d", i), fmt.Sprintf("Student %d", i), fmt.Sprintf("CERT-%d", i), 1, path)
		ids = append(ids, id)
	}

	bundle, err := svc.BuildBundle(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, bundle.Missing, 1)
	assert.Equal(t, "cert-5", bundle.Missing[0])

	reader, err := zip.NewReader(bytes.NewReader(bundle.Data), int64(len(bundle.Data)))
	require.NoError(t, err)
	require.Len(t, reader.File, 4)
	assert.Equal(t, "Student_1_CERT-1_v1.pdf", reader.File[0].Name)
}

func TestCertificateServiceBuildBundleAllMissing(t *testing.T) {
	svc, _, _, _ := newCertificateServiceForTest(t)
	_, err := svc.BuildBundle(context.Background(), []string{"ghost-1", "ghost-2"})
	require.Error(t, err)
}

func TestCertificateServiceBundleCountsUnknownIDs(t *testing.T) {
	svc, repo, store, _ := newCertificateServiceForTest(t)
	path := "generated/only.pdf"
	_, err := store.Save(path, []byte("%PDF"))
	require.NoError(t, err)
	repo.details["cert-1"] = certDetail("cert-1", "student-1", "Only One", "CERT-1", 1, path)

	bundle, err := svc.BuildBundle(context.Background(), []string{"cert-1", "revoked-cert"})
	require.NoError(t, err)
	require.Len(t, bundle.Missing, 1)
	assert.Equal(t, "revoked-cert", bundle.Missing[0])
}
