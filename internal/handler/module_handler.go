package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/assessflow/amt-api/internal/models"
	"github.com/assessflow/amt-api/internal/service"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
	"github.com/assessflow/amt-api/pkg/response"
)

// ModuleHandler exposes module and roster endpoints.
type ModuleHandler struct {
	modules     *service.ModuleService
	assessments *service.AssessmentService
	scope       *service.ScopeService
}

// NewModuleHandler constructs ModuleHandler.
func NewModuleHandler(modules *service.ModuleService, assessments *service.AssessmentService, scope *service.ScopeService) *ModuleHandler {
	return &ModuleHandler{modules: modules, assessments: assessments, scope: scope}
}

type createModuleRequest struct {
	Code         string `json:"code" binding:"required"`
	Title        string `json:"title" binding:"required"`
	AcademicYear string `json:"academic_year" binding:"required"`
}

// Create godoc
// @Summary Create module
// @Tags Modules
// @Accept json
// @Produce json
// @Param payload body createModuleRequest true "Module payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /modules [post]
func (h *ModuleHandler) Create(c *gin.Context) {
	var req createModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	module := &models.Module{
		Code:         strings.ToUpper(strings.TrimSpace(req.Code)),
		Title:        strings.TrimSpace(req.Title),
		AcademicYear: strings.TrimSpace(req.AcademicYear),
	}
	if err := h.modules.Create(c.Request.Context(), module, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, module)
}

// List godoc
// @Summary List modules visible to the caller
// @Tags Modules
// @Produce json
// @Param search query string false "Search by code or title"
// @Param academic_year query string false "Filter by academic year"
// @Param view query string false "Listing view (admin or own)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /modules [get]
func (h *ModuleHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)

	var filter models.ModuleFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.AcademicYear = c.Query("academic_year")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	visible, unrestricted, err := h.scope.VisibleModuleIDs(c.Request.Context(), claims, models.ParseViewMode(c.Query("view")))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !unrestricted {
		if len(visible) == 0 {
			response.JSON(c, http.StatusOK, []models.Module{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize})
			return
		}
		filter.IDs = visible
	}

	modules, total, err := h.modules.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, modules, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

type moduleDetailResponse struct {
	Module *models.Module       `json:"module"`
	Roster *models.ModuleRoster `json:"roster"`
}

// Get godoc
// @Summary Get module with roster
// @Tags Modules
// @Produce json
// @Param id path string true "Module ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /modules/{id} [get]
func (h *ModuleHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	moduleID := c.Param("id")

	ok, err := h.scope.CanSeeModule(c.Request.Context(), claims, moduleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !ok {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	module, roster, err := h.modules.Get(c.Request.Context(), moduleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, moduleDetailResponse{Module: module, Roster: roster}, nil)
}

type staffRoleRequest struct {
	UserID string            `json:"user_id" binding:"required"`
	Role   models.ModuleRole `json:"role" binding:"required"`
}

// AddStaffRole godoc
// @Summary Assign a roster role
// @Description Add a MODULE_LEAD, MODERATOR or STAFF entry to the module roster
// @Tags Modules
// @Accept json
// @Produce json
// @Param id path string true "Module ID"
// @Param payload body staffRoleRequest true "Role payload"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /modules/{id}/staff [put]
func (h *ModuleHandler) AddStaffRole(c *gin.Context) {
	var req staffRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.modules.AddStaffRole(c.Request.Context(), c.Param("id"), req.UserID, req.Role, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveStaffRole godoc
// @Summary Remove a roster role
// @Tags Modules
// @Produce json
// @Param id path string true "Module ID"
// @Param userId path string true "User ID"
// @Param role query string true "Roster role to remove"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /modules/{id}/staff/{userId} [delete]
func (h *ModuleHandler) RemoveStaffRole(c *gin.Context) {
	role := models.ModuleRole(c.Query("role"))
	if role == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "role query parameter required"))
		return
	}

	if err := h.modules.RemoveStaffRole(c.Request.Context(), c.Param("id"), c.Param("userId"), role, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddExternalExaminer godoc
// @Summary Attach external examiner
// @Tags Modules
// @Produce json
// @Param id path string true "Module ID"
// @Param userId path string true "User ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /modules/{id}/external-examiners/{userId} [put]
func (h *ModuleHandler) AddExternalExaminer(c *gin.Context) {
	if err := h.modules.AddExternalExaminer(c.Request.Context(), c.Param("id"), c.Param("userId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveExternalExaminer godoc
// @Summary Detach external examiner
// @Tags Modules
// @Produce json
// @Param id path string true "Module ID"
// @Param userId path string true "User ID"
// @Success 204 {object} response.Envelope
// @Router /modules/{id}/external-examiners/{userId} [delete]
func (h *ModuleHandler) RemoveExternalExaminer(c *gin.Context) {
	if err := h.modules.RemoveExternalExaminer(c.Request.Context(), c.Param("id"), c.Param("userId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type createAssessmentRequest struct {
	Title    string                `json:"title" binding:"required"`
	Type     models.AssessmentType `json:"type" binding:"required"`
	ExamDate *time.Time            `json:"exam_date,omitempty"`
}

// CreateAssessment godoc
// @Summary Create an assessment under the module
// @Description New assessments always start in DRAFT
// @Tags Assessments
// @Accept json
// @Produce json
// @Param id path string true "Module ID"
// @Param payload body createAssessmentRequest true "Assessment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /modules/{id}/assessments [post]
func (h *ModuleHandler) CreateAssessment(c *gin.Context) {
	var req createAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	assessment, err := h.assessments.Create(c.Request.Context(), c.Param("id"), req.Title, req.Type, req.ExamDate, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assessment)
}
