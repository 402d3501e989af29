package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/assessflow/amt-api/internal/models"
	"github.com/assessflow/amt-api/internal/service"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
	"github.com/assessflow/amt-api/pkg/response"
)

// ExportHandler exposes transition-history export endpoints.
type ExportHandler struct {
	exports *service.ExportService
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports *service.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

type exportRequest struct {
	Format models.ExportFormat `json:"format" binding:"required"`
}

// Enqueue godoc
// @Summary Queue a transition-history export
// @Description Renders the assessment's transition history as CSV or PDF in the background
// @Tags Exports
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body exportRequest true "Export payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /assessments/{id}/exports [post]
func (h *ExportHandler) Enqueue(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "format is required"))
		return
	}

	job, err := h.exports.Enqueue(c.Request.Context(), c.Param("id"), req.Format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// Get godoc
// @Summary Get an export job
// @Description Returns job status; finished jobs carry a signed result URL
// @Tags Exports
// @Produce json
// @Param id path string true "Export job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/{id} [get]
func (h *ExportHandler) Get(c *gin.Context) {
	job, err := h.exports.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download a finished export
// @Description Streams the export file addressed by a signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/download/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	relPath, err := h.exports.Resolve(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}

	path, err := h.exports.Open(relPath)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.File(path)
}
