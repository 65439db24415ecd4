package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opencourse/enrollment-api/internal/models"
	"github.com/opencourse/enrollment-api/internal/service"
	"github.com/opencourse/enrollment-api/pkg/response"
)

// ClassHandler exposes the class directory and roster exports.
type ClassHandler struct {
	classes *service.ClassService
	roster  *service.RosterService
}

// NewClassHandler constructs ClassHandler. roster may be nil when exports are
// disabled.
func NewClassHandler(classes *service.ClassService, roster *service.RosterService) *ClassHandler {
	return &ClassHandler{classes: classes, roster: roster}
}

// List godoc
// @Summary List classes
// @Tags Classes
// @Produce json
// @Param track query string false "Filter by track"
// @Param active query bool false "Filter by active flag"
// @Param search query string false "Search by name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	var filter models.ClassFilter
	filter.Track = models.Track(strings.ToUpper(c.Query("track")))
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

	classes, pagination, err := h.classes.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, pagination)
}

// Get godoc
// @Summary Get class by ID
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	class, err := h.classes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// ExportRoster godoc
// @Summary Export class roster
// @Description Renders the active roster as CSV or PDF
// @Tags Classes
// @Produce octet-stream
// @Param id path string true "Class ID"
// @Param format query string false "Export format (csv or pdf)" default(csv)
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /classes/{id}/roster/export [get]
func (h *ClassHandler) ExportRoster(c *gin.Context) {
	export, err := h.roster.Export(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName))
	c.Data(http.StatusOK, export.ContentType, export.Content)
}
