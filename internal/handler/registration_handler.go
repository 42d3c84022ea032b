package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/service"
	"github.com/vinculacion/registro-api/internal/validate"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
	"github.com/vinculacion/registro-api/pkg/response"
)

// RegistrationHandler exposes registration listings, attendance toggles and
// the walk-in reconcile preview.
type RegistrationHandler struct {
	registrations *service.RegistrationService
	registry      *service.RegistryService
	indicators    *service.IndicatorsService
	validator     *validate.Validator
}

// NewRegistrationHandler constructs RegistrationHandler.
func NewRegistrationHandler(registrations *service.RegistrationService, registry *service.RegistryService, indicators *service.IndicatorsService, rowValidator *validate.Validator) *RegistrationHandler {
	return &RegistrationHandler{registrations: registrations, registry: registry, indicators: indicators, validator: rowValidator}
}

// List godoc
// @Summary List registrations
// @Tags Registrations
// @Produce json
// @Param activityId query string false "Filter by activity"
// @Param personId query string false "Filter by person"
// @Param attended query string false "Filter by attendance"
// @Success 200 {object} response.Envelope
// @Router /registrations [get]
func (h *RegistrationHandler) List(c *gin.Context) {
	filter := models.RegistrationFilter{
		ActivityID: c.Query("activityId"),
		PersonID:   c.Query("personId"),
		Page:       intQuery(c, "page", 1),
		PageSize:   intQuery(c, "limit", 50),
	}
	if attended := c.Query("attended"); attended != "" {
		value := models.Attendance(attended)
		if !value.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "attended must be yes, no or unknown"))
			return
		}
		filter.Attended = &value
	}
	details, pagination, err := h.registrations.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details, pagination)
}

type toggleAttendanceRequest struct {
	Attended models.Attendance `json:"attended" binding:"required"`
}

// ToggleAttendance godoc
// @Summary Toggle a registration's attendance
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body toggleAttendanceRequest true "New value"
// @Success 200 {object} response.Envelope
// @Router /registrations/{id}/attendance [put]
func (h *RegistrationHandler) ToggleAttendance(c *gin.Context) {
	var req toggleAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	registration, err := h.registrations.ToggleAttendance(c.Request.Context(), c.Param("id"), req.Attended, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.indicators.Invalidate(c.Request.Context())
	response.JSON(c, http.StatusOK, registration, nil)
}

type bulkAttendanceRequest struct {
	RegistrationIDs []string          `json:"registration_ids" binding:"required"`
	Attended        models.Attendance `json:"attended" binding:"required"`
}

// BulkToggleAttendance godoc
// @Summary Toggle attendance for several of an activity's registrations
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Activity ID"
// @Param payload body bulkAttendanceRequest true "Registrations and value"
// @Success 200 {object} response.Envelope
// @Router /activities/{id}/attendance [put]
func (h *RegistrationHandler) BulkToggleAttendance(c *gin.Context) {
	var req bulkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	affected, err := h.registrations.BulkToggleAttendance(c.Request.Context(), c.Param("id"), req.RegistrationIDs, req.Attended, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.indicators.Invalidate(c.Request.Context())
	response.JSON(c, http.StatusOK, gin.H{"updated": affected}, nil)
}

type reconcilePreviewRequest struct {
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	Email      string `json:"institutional_email"`
	Program    string `json:"program_or_area"`
	Phone      string `json:"phone"`
}

// ReconcilePreview godoc
// @Summary Resolve a row to an existing person without creating one
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body reconcilePreviewRequest true "Row values"
// @Success 200 {object} response.Envelope
// @Router /registry/reconcile-preview [post]
func (h *RegistrationHandler) ReconcilePreview(c *gin.Context) {
	var req reconcilePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	row := h.validator.Row(validate.RowInput{
		FullName:   req.FullName,
		NationalID: req.NationalID,
		Email:      req.Email,
		Program:    req.Program,
		Phone:      req.Phone,
	})
	person, err := h.registry.ReconcilePreview(c.Request.Context(), row)
	if err != nil {
		response.Error(c, err)
		return
	}
	if person == nil {
		response.JSON(c, http.StatusOK, gin.H{"person_id": nil}, nil)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"person_id": person.ID, "person": person}, nil)
}
