package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/assessflow/amt-api/internal/models"
	"github.com/assessflow/amt-api/internal/service"
	appErrors "github.com/assessflow/amt-api/pkg/errors"
	"github.com/assessflow/amt-api/pkg/response"
)

// UserHandler exposes user directory endpoints.
type UserHandler struct {
	users *service.UserService
}

// NewUserHandler constructs UserHandler.
func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

type createUserRequest struct {
	Email        string              `json:"email" binding:"required,email"`
	Name         string              `json:"name" binding:"required"`
	BaseType     models.UserBaseType `json:"base_type" binding:"required"`
	ExamsOfficer bool                `json:"exams_officer"`
}

type createUserResponse struct {
	User         *models.User `json:"user"`
	TempPassword string       `json:"temp_password"`
}

// Create godoc
// @Summary Create user
// @Description Create a user with a generated temporary password, returned once
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body createUserRequest true "User payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	user := &models.User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Name:         strings.TrimSpace(req.Name),
		BaseType:     req.BaseType,
		ExamsOfficer: req.ExamsOfficer,
	}

	tempPassword, err := h.users.Create(c.Request.Context(), user, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, createUserResponse{User: user, TempPassword: tempPassword})
}

// List godoc
// @Summary List users
// @Tags Users
// @Produce json
// @Param base_type query string false "Filter by base type"
// @Param exams_officer query bool false "Filter by exams officer flag"
// @Param active query bool false "Filter by active state"
// @Param search query string false "Search by name or email"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	var filter models.UserFilter
	if baseType := c.Query("base_type"); baseType != "" {
		v := models.UserBaseType(baseType)
		filter.BaseType = &v
	}
	if officer := c.Query("exams_officer"); officer != "" {
		v := officer == "true"
		filter.ExamsOfficer = &v
	}
	if active := c.Query("active"); active != "" {
		v := active == "true"
		filter.Active = &v
	}
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	users, total, err := h.users.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get user detail
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

type examsOfficerRequest struct {
	ExamsOfficer *bool `json:"exams_officer" binding:"required"`
}

// SetExamsOfficer godoc
// @Summary Toggle exams officer capability
// @Description Grant or revoke the exams-officer flag on an academic user
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body examsOfficerRequest true "Flag payload"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/{id}/exams-officer [put]
func (h *UserHandler) SetExamsOfficer(c *gin.Context) {
	var req examsOfficerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "exams_officer flag required"))
		return
	}

	if err := h.users.SetExamsOfficer(c.Request.Context(), c.Param("id"), *req.ExamsOfficer, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
