package dto

import (
	"time"

	"github.com/noah-isme/certify-api/internal/models"
)

// GenerateRequest selects the students and optionally the template for a
// generation run. TemplateRef may be a template id, a title, or empty to
// use the latest active template.
type GenerateRequest struct {
	TemplateRef string   `json:"template_ref"`
	StudentIDs  []string `json:"student_ids" binding:"required,min=1"`
}

// GenerationResultResponse summarises one finished generation run.
type GenerationResultResponse struct {
	Total        int                        `json:"total"`
	Generated    int                        `json:"generated"`
	Failed       int                        `json:"failed"`
	Failures     []models.GenerationFailure `json:"failures,omitempty"`
	Certificates []models.Certificate       `json:"certificates,omitempty"`
}

// GenerationJobResponse acknowledges an accepted async job.
type GenerationJobResponse struct {
	ID       string                  `json:"id"`
	Status   models.GenerationStatus `json:"status"`
	Progress int                     `json:"progress"`
}

// GenerationStatusResponse reports async job state to pollers.
type GenerationStatusResponse struct {
	ID             string                     `json:"id"`
	Status         models.GenerationStatus    `json:"status"`
	Progress       int                        `json:"progress"`
	TotalRequested int                        `json:"total_requested"`
	TotalGenerated int                        `json:"total_generated"`
	Failures       []models.GenerationFailure `json:"failures,omitempty"`
	Error          *string                    `json:"error,omitempty"`
}

// BundleRequest lists the certificates to pack into one archive.
type BundleRequest struct {
	CertificateIDs []string `json:"certificate_ids" binding:"required,min=1"`
}

// CertificateResponse presents one certificate with a short-lived
// download link.
type CertificateResponse struct {
	models.CertificateDetail
	DownloadURL string    `json:"download_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}
