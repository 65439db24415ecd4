package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opencourse/enrollment-api/internal/models"
	"github.com/opencourse/enrollment-api/internal/service"
	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
	"github.com/opencourse/enrollment-api/pkg/response"
)

// StudentHandler exposes the student directory plus eligibility and priority
// list endpoints.
type StudentHandler struct {
	students    *service.StudentService
	eligibility *service.EligibilityService
	priority    *service.PriorityService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students *service.StudentService, eligibility *service.EligibilityService, priority *service.PriorityService) *StudentHandler {
	return &StudentHandler{students: students, eligibility: eligibility, priority: priority}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	var filter models.StudentFilter
	filter.Search = c.Query("search")
	if raw := c.Query("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filter.Active = &active
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student by ID
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Eligibility godoc
// @Summary Check enrollment eligibility
// @Description Evaluates whether the student may enroll in the given class and
// @Description returns the first blocking reason when not.
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param classId query string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students/{id}/eligibility [get]
func (h *StudentHandler) Eligibility(c *gin.Context) {
	classID := c.Query("classId")
	if classID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "classId is required"))
		return
	}
	result, err := h.eligibility.Check(c.Request.Context(), c.Param("id"), classID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AddPriority godoc
// @Summary Put student on the priority list for a class
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.PriorityRequest true "Priority payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{id}/priority-list [post]
func (h *StudentHandler) AddPriority(c *gin.Context) {
	var req service.PriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.priority.AddToPriorityList(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// RemovePriority godoc
// @Summary Take student off the priority list
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id}/priority-list [delete]
func (h *StudentHandler) RemovePriority(c *gin.Context) {
	student, err := h.priority.RemoveFromPriorityList(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}
