package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/certify-api/internal/dto"
	"github.com/noah-isme/certify-api/internal/service"
	appErrors "github.com/noah-isme/certify-api/pkg/errors"
	"github.com/noah-isme/certify-api/pkg/response"
)

// CertificateHandler exposes generation and download endpoints.
type CertificateHandler struct {
	generator       *service.GenerationService
	jobs            *service.GenerationJobService
	certificates    *service.CertificateService
	batchSize       int
	streamBatchSize int
}

// NewCertificateHandler constructs handler. jobs may be nil when the
// async queue is disabled.
func NewCertificateHandler(generator *service.GenerationService, jobs *service.GenerationJobService, certificates *service.CertificateService, batchSize, streamBatchSize int) *CertificateHandler {
	return &CertificateHandler{
		generator:       generator,
		jobs:            jobs,
		certificates:    certificates,
		batchSize:       batchSize,
		streamBatchSize: streamBatchSize,
	}
}

// Generate godoc
// @Summary Generate certificates for a set of students
// @Tags Certificates
// @Accept json
// @Produce json
// @Param payload body dto.GenerateRequest true "Generation request"
// @Success 200 {object} response.Envelope
// @Router /certificates/generate [post]
func (h *CertificateHandler) Generate(c *gin.Context) {
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload"))
		return
	}
	result, err := h.generator.Generate(c.Request.Context(), req, h.batchSize, service.NopSink{})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.GenerationResultResponse{
		Total:        result.Total,
		Generated:    result.Generated,
		Failed:       result.Failed,
		Failures:     result.Failures,
		Certificates: result.Certificates,
	}, nil)
}

// sseSink forwards progress events to the client as server-sent events.
// A closed connection surfaces as a context error, which aborts the run.
type sseSink struct {
	c *gin.Context
}

func (s sseSink) Publish(ev service.ProgressEvent) error {
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}
	s.c.SSEvent(ev.Kind, ev)
	s.c.Writer.Flush()
	return nil
}

// GenerateStream godoc
// @Summary Generate certificates, streaming progress as SSE
// @Tags Certificates
// @Accept json
// @Produce text/event-stream
// @Param payload body dto.GenerateRequest true "Generation request"
// @Success 200 {string} string "event stream"
// @Router /certificates/generate-stream [post]
func (h *CertificateHandler) GenerateStream(c *gin.Context) {
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	// Errors are already reported through the sink's error event; there
	// is nothing more to send once the stream has started.
	_, _ = h.generator.Generate(c.Request.Context(), req, h.streamBatchSize, sseSink{c: c})
}

// GenerateAsync godoc
// @Summary Queue a background generation job
// @Tags Certificates
// @Accept json
// @Produce json
// @Param payload body dto.GenerateRequest true "Generation request"
// @Success 202 {object} response.Envelope
// @Router /certificates/generate-async [post]
func (h *CertificateHandler) GenerateAsync(c *gin.Context) {
	if h.jobs == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "asynchronous generation is disabled"))
		return
	}
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload"))
		return
	}
	actorID := ""
	if claims := claimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	job, err := h.jobs.CreateJob(c.Request.Context(), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// JobStatus godoc
// @Summary Poll an async generation job
// @Tags Certificates
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/jobs/{id} [get]
func (h *CertificateHandler) JobStatus(c *gin.Context) {
	if h.jobs == nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	status, err := h.jobs.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Latest godoc
// @Summary Latest valid certificate for a student
// @Tags Certificates
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/latest/{studentId} [get]
func (h *CertificateHandler) Latest(c *gin.Context) {
	cert, err := h.certificates.Latest(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// ListByStudent godoc
// @Summary Certificate history for a student
// @Tags Certificates
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/student/{studentId} [get]
func (h *CertificateHandler) ListByStudent(c *gin.Context) {
	certs, err := h.certificates.ListByStudent(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certs, nil)
}

// Download godoc
// @Summary Download a certificate PDF with a signed token
// @Tags Certificates
// @Produce application/pdf
// @Param id path string true "Certificate ID"
// @Param token query string true "Signed download token"
// @Success 200 {file} file
// @Router /certificates/{id}/download [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	download, err := h.certificates.ResolveDownload(c.Request.Context(), c.Param("id"), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat certificate file"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Filename))
	c.DataFromReader(http.StatusOK, info.Size(), "application/pdf", download.File, nil)
}

// DownloadBatch godoc
// @Summary Download multiple certificates as one ZIP archive
// @Tags Certificates
// @Accept json
// @Produce application/zip
// @Param payload body dto.BundleRequest true "Certificate IDs"
// @Success 200 {file} file
// @Router /certificates/download-batch [post]
func (h *CertificateHandler) DownloadBatch(c *gin.Context) {
	var req dto.BundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bundle payload"))
		return
	}
	bundle, err := h.certificates.BuildBundle(c.Request.Context(), req.CertificateIDs)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="certificates.zip"`)
	c.Header("X-Missing-Count", strconv.Itoa(len(bundle.Missing)))
	c.Data(http.StatusOK, "application/zip", bundle.Data)
}
