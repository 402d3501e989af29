package handler

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/assessflow/amt-api/internal/models"
	"github.com/assessflow/amt-api/internal/service"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
	"github.com/assessflow/amt-api/pkg/response"
)

// ImportHandler exposes the bulk module/assessment import endpoints.
type ImportHandler struct {
	imports *service.ImportService
}

// NewImportHandler constructs ImportHandler.
func NewImportHandler(imports *service.ImportService) *ImportHandler {
	return &ImportHandler{imports: imports}
}

type importRequest struct {
	AcademicYear string             `json:"academic_year" binding:"required"`
	Rows         []models.ImportRow `json:"rows" binding:"required"`
}

// Run godoc
// @Summary Run a bulk module import
// @Description Accepts structured JSON rows or a multipart CSV upload; rows succeed and fail independently
// @Tags Imports
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Param payload body importRequest false "Rows payload (JSON mode)"
// @Param file formData file false "CSV file (multipart mode)"
// @Param academic_year formData string false "Academic year (multipart mode)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /imports/modules [post]
func (h *ImportHandler) Run(c *gin.Context) {
	var rows []models.ImportRow
	var academicYear string

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, err := c.FormFile("file")
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "csv file is required"))
			return
		}
		academicYear = strings.TrimSpace(c.PostForm("academic_year"))
		if academicYear == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "academic_year is required"))
			return
		}
		src, err := file.Open()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "could not read upload"))
			return
		}
		rows, err = parseImportCSV(src)
		_ = src.Close()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "could not parse csv"))
			return
		}
	} else {
		var req importRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid import payload"))
			return
		}
		rows = req.Rows
		academicYear = strings.TrimSpace(req.AcademicYear)
	}

	report, err := h.imports.Run(c.Request.Context(), rows, academicYear, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Get godoc
// @Summary Get an import job
// @Tags Imports
// @Produce json
// @Param id path string true "Import job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /imports/{id} [get]
func (h *ImportHandler) Get(c *gin.Context) {
	job, err := h.imports.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// List godoc
// @Summary List recent import jobs
// @Tags Imports
// @Produce json
// @Param limit query int false "Max jobs"
// @Success 200 {object} response.Envelope
// @Router /imports [get]
func (h *ImportHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	jobs, err := h.imports.Jobs(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, jobs, nil)
}

// parseImportCSV turns an uploaded CSV into structured import rows. Columns:
// code, title, module lead, moderators (comma-separated within one quoted
// field), then trailing (type, title) pairs.
func parseImportCSV(src io.Reader) ([]models.ImportRow, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	var rows []models.ImportRow
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("line %d: expected at least code, title and module lead", line)
		}

		row := models.ImportRow{
			ModuleCode:     strings.TrimSpace(record[0]),
			ModuleTitle:    strings.TrimSpace(record[1]),
			ModuleLeadName: strings.TrimSpace(record[2]),
		}
		if len(record) > 3 {
			for _, name := range strings.Split(record[3], ",") {
				if name = strings.TrimSpace(name); name != "" {
					row.ModeratorNames = append(row.ModeratorNames, name)
				}
			}
		}
		var rest []string
		if len(record) > 4 {
			rest = record[4:]
		}
		if len(rest)%2 != 0 {
			return nil, fmt.Errorf("line %d: trailing assessment columns must be (type, title) pairs", line)
		}
		for i := 0; i < len(rest); i += 2 {
			assessmentType := strings.ToUpper(strings.TrimSpace(rest[i]))
			title := strings.TrimSpace(rest[i+1])
			// Blank trailing pairs are padding, not data.
			if assessmentType == "" && title == "" {
				continue
			}
			row.Assessments = append(row.Assessments, models.ImportAssessment{
				Type:  assessmentType,
				Title: title,
			})
		}
		rows = append(rows, row)
	}
	return rows, nil
}
