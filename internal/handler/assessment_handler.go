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

// AssessmentHandler exposes assessment read, transition, role and feedback
// endpoints.
type AssessmentHandler struct {
	assessments *service.AssessmentService
	workflow    *service.WorkflowService
	eligibility *service.EligibilityService
	feedback    *service.FeedbackService
}

// NewAssessmentHandler constructs AssessmentHandler.
func NewAssessmentHandler(assessments *service.AssessmentService, workflow *service.WorkflowService, eligibility *service.EligibilityService, feedback *service.FeedbackService) *AssessmentHandler {
	return &AssessmentHandler{
		assessments: assessments,
		workflow:    workflow,
		eligibility: eligibility,
		feedback:    feedback,
	}
}

// List godoc
// @Summary List assessments visible to the caller
// @Tags Assessments
// @Produce json
// @Param module_id query string false "Filter by module"
// @Param state query string false "Filter by state (repeatable)"
// @Param type query string false "Filter by type"
// @Param view query string false "Listing view (admin or own)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /assessments [get]
func (h *AssessmentHandler) List(c *gin.Context) {
	var filter models.AssessmentFilter
	if moduleID := c.Query("module_id"); moduleID != "" {
		filter.ModuleIDs = []string{moduleID}
	}
	for _, state := range c.QueryArray("state") {
		filter.States = append(filter.States, models.AssessmentState(state))
	}
	if assessmentType := c.Query("type"); assessmentType != "" {
		v := models.AssessmentType(assessmentType)
		filter.Type = &v
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	assessments, total, err := h.assessments.List(c.Request.Context(), filter, models.ParseViewMode(c.Query("view")), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assessments, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get assessment detail
// @Description Returns the assessment, its role assignments and the states the caller may move it into
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assessments/{id} [get]
func (h *AssessmentHandler) Get(c *gin.Context) {
	detail, err := h.assessments.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Targets godoc
// @Summary List allowed transition targets for the caller
// @Tags Workflow
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id}/targets [get]
func (h *AssessmentHandler) Targets(c *gin.Context) {
	targets, err := h.workflow.AllowedTargets(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, targets, nil)
}

type transitionRequest struct {
	Target  models.AssessmentState `json:"target" binding:"required"`
	Note    string                 `json:"note"`
	Version int64                  `json:"version"`
}

// Progress godoc
// @Summary Progress assessment to a target state
// @Description Applies a guarded transition; version backs optimistic concurrency
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body transitionRequest true "Transition payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /assessments/{id}/progress [post]
func (h *AssessmentHandler) Progress(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transition payload"))
		return
	}

	assessment, err := h.workflow.Progress(c.Request.Context(), c.Param("id"), req.Target, req.Note, req.Version, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assessment, nil)
}

type holdRequest struct {
	Note    string `json:"note" binding:"required"`
	Version int64  `json:"version"`
}

// Hold godoc
// @Summary Place assessment on hold
// @Description Administrative pause; the prior state is restored on release
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body holdRequest true "Hold payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assessments/{id}/hold [post]
func (h *AssessmentHandler) Hold(c *gin.Context) {
	var req holdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "note is required"))
		return
	}

	assessment, err := h.workflow.Hold(c.Request.Context(), c.Param("id"), req.Note, req.Version, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assessment, nil)
}

// Release godoc
// @Summary Release a held assessment back to its prior state
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body holdRequest true "Release payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assessments/{id}/release [post]
func (h *AssessmentHandler) Release(c *gin.Context) {
	var req holdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "note is required"))
		return
	}

	assessment, err := h.workflow.Release(c.Request.Context(), c.Param("id"), req.Note, req.Version, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assessment, nil)
}

type overrideRequest struct {
	Target  models.AssessmentState `json:"target" binding:"required"`
	Note    string                 `json:"note" binding:"required"`
	Version int64                  `json:"version"`
}

// Override godoc
// @Summary Force a transition outside the guard table
// @Description Administrative override within the assessment's flow family; always recorded with the note
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body overrideRequest true "Override payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assessments/{id}/override [post]
func (h *AssessmentHandler) Override(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "target and note are required"))
		return
	}

	assessment, err := h.workflow.Override(c.Request.Context(), c.Param("id"), req.Target, req.Note, req.Version, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assessment, nil)
}

type roleRequest struct {
	UserID string                `json:"user_id" binding:"required"`
	Role   models.AssessmentRole `json:"role" binding:"required"`
}

// AssignRole godoc
// @Summary Assign SETTER or CHECKER
// @Description Eligibility and independence rules apply; explicit checkers replace auto-assigned ones
// @Tags Roles
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body roleRequest true "Role payload"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /assessments/{id}/roles [post]
func (h *AssessmentHandler) AssignRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid role payload"))
		return
	}

	if err := h.eligibility.AssignRole(c.Request.Context(), c.Param("id"), req.UserID, req.Role, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveRole godoc
// @Summary Remove SETTER or CHECKER
// @Description Removing a checker re-runs moderator propagation
// @Tags Roles
// @Produce json
// @Param id path string true "Assessment ID"
// @Param user_id query string true "User ID"
// @Param role query string true "Role to remove"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assessments/{id}/roles [delete]
func (h *AssessmentHandler) RemoveRole(c *gin.Context) {
	userID := c.Query("user_id")
	role := models.AssessmentRole(c.Query("role"))
	if userID == "" || role == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "user_id and role query parameters required"))
		return
	}

	if err := h.eligibility.RemoveRole(c.Request.Context(), c.Param("id"), userID, role, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type submitContentRequest struct {
	models.AssessmentContent
	Version int64 `json:"version"`
}

// SubmitContent godoc
// @Summary Submit assessment content
// @Description Only the setter may submit, and only while the assessment is editable
// @Tags Assessments
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body submitContentRequest true "Content payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assessments/{id}/content [put]
func (h *AssessmentHandler) SubmitContent(c *gin.Context) {
	var req submitContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid content payload"))
		return
	}

	assessment, err := h.workflow.SubmitContent(c.Request.Context(), c.Param("id"), req.AssessmentContent, req.Version, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assessment, nil)
}

type examDateRequest struct {
	ExamDate time.Time `json:"exam_date" binding:"required"`
	Version  int64     `json:"version"`
}

// SetExamDate godoc
// @Summary Schedule an exam sitting
// @Description Sets or moves the exam date; exams officers only
// @Tags Assessments
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body examDateRequest true "Exam date payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assessments/{id}/exam-date [put]
func (h *AssessmentHandler) SetExamDate(c *gin.Context) {
	var req examDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "exam_date is required"))
		return
	}

	assessment, err := h.assessments.SetExamDate(c.Request.Context(), c.Param("id"), req.ExamDate, req.Version, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assessment, nil)
}

type feedbackRequest struct {
	Text string `json:"text" binding:"required"`
}

// CheckerFeedback godoc
// @Summary Submit checker feedback
// @Tags Feedback
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body feedbackRequest true "Feedback payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assessments/{id}/checker-feedback [post]
func (h *AssessmentHandler) CheckerFeedback(c *gin.Context) {
	h.submitFeedback(c, models.FeedbackChecker)
}

// ExternalFeedback godoc
// @Summary Submit external examiner feedback
// @Tags Feedback
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body feedbackRequest true "Feedback payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assessments/{id}/external-feedback [post]
func (h *AssessmentHandler) ExternalFeedback(c *gin.Context) {
	h.submitFeedback(c, models.FeedbackExternal)
}

// SetterResponse godoc
// @Summary Submit setter response to feedback
// @Tags Feedback
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body feedbackRequest true "Response payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assessments/{id}/setter-response [post]
func (h *AssessmentHandler) SetterResponse(c *gin.Context) {
	h.submitFeedback(c, models.FeedbackSetterResponse)
}

func (h *AssessmentHandler) submitFeedback(c *gin.Context, kind models.FeedbackKind) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "text is required"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "text is required"))
		return
	}

	record, err := h.feedback.Submit(c.Request.Context(), c.Param("id"), kind, req.Text, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// ListFeedback godoc
// @Summary List feedback on an assessment
// @Tags Feedback
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id}/feedback [get]
func (h *AssessmentHandler) ListFeedback(c *gin.Context) {
	records, err := h.feedback.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Transitions godoc
// @Summary List the transition history of an assessment
// @Tags Workflow
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id}/transitions [get]
func (h *AssessmentHandler) Transitions(c *gin.Context) {
	transitions, err := h.workflow.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transitions, nil)
}
