package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/certify-api/internal/models"
	"github.com/noah-isme/certify-api/internal/service"
	appErrors "github.com/noah-isme/certify-api/pkg/errors"
	"github.com/noah-isme/certify-api/pkg/response"
)

// TemplateHandler exposes template management endpoints.
type TemplateHandler struct {
	templates *service.TemplateService
}

// NewTemplateHandler constructs handler.
func NewTemplateHandler(templates *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// List godoc
// @Summary List templates
// @Tags Templates
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /templates [get]
func (h *TemplateHandler) List(c *gin.Context) {
	templates, err := h.templates.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates, nil)
}

// Get godoc
// @Summary Get template
// @Tags Templates
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} response.Envelope
// @Router /templates/{id} [get]
func (h *TemplateHandler) Get(c *gin.Context) {
	template, err := h.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, template, nil)
}

// Upload godoc
// @Summary Upload a template background
// @Tags Templates
// @Accept multipart/form-data
// @Produce json
// @Param title formData string true "Template title"
// @Param active formData bool false "Activate immediately"
// @Param file formData file true "PNG or JPEG background"
// @Success 201 {object} response.Envelope
// @Router /templates [post]
func (h *TemplateHandler) Upload(c *gin.Context) {
	title := c.PostForm("title")
	active := c.DefaultPostForm("active", "true") == "true"

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read uploaded file"))
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read uploaded file"))
		return
	}

	template, err := h.templates.Upload(c.Request.Context(), title, fileHeader.Filename, data, active)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, template)
}

// Design godoc
// @Summary Get a template's field layout
// @Tags Templates
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} response.Envelope
// @Router /templates/{id}/design [get]
func (h *TemplateHandler) Design(c *gin.Context) {
	template, err := h.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, template.EffectiveDesign(), nil)
}

// UpdateDesign godoc
// @Summary Replace a template's field layout
// @Tags Templates
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param payload body models.TemplateDesign true "Field layout"
// @Success 200 {object} response.Envelope
// @Router /templates/{id}/design [put]
func (h *TemplateHandler) UpdateDesign(c *gin.Context) {
	var design models.TemplateDesign
	if err := c.ShouldBindJSON(&design); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid design payload"))
		return
	}
	if err := h.templates.UpdateDesign(c.Request.Context(), c.Param("id"), &design); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"id": c.Param("id")}, nil)
}

// Toggle godoc
// @Summary Toggle template active state
// @Tags Templates
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} response.Envelope
// @Router /templates/{id}/toggle [post]
func (h *TemplateHandler) Toggle(c *gin.Context) {
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "active is required"))
		return
	}
	if err := h.templates.SetActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"id": c.Param("id"), "active": *req.Active}, nil)
}

// Delete godoc
// @Summary Delete template
// @Tags Templates
// @Param id path string true "Template ID"
// @Success 204
// @Router /templates/{id} [delete]
func (h *TemplateHandler) Delete(c *gin.Context) {
	if err := h.templates.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
