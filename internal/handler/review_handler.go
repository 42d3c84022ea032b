package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/service"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
	"github.com/vinculacion/registro-api/pkg/response"
)

// ReviewHandler exposes the duplicate review queue.
type ReviewHandler struct {
	reviews    *service.ReviewService
	dedup      *service.DedupService
	indicators *service.IndicatorsService
}

// NewReviewHandler constructs ReviewHandler.
func NewReviewHandler(reviews *service.ReviewService, dedup *service.DedupService, indicators *service.IndicatorsService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews, dedup: dedup, indicators: indicators}
}

// List godoc
// @Summary List review items
// @Tags Review
// @Produce json
// @Param status query string false "Filter by status"
// @Param audience query string false "Filter by audience"
// @Param minSimilarity query int false "Minimum similarity"
// @Param maxSimilarity query int false "Maximum similarity"
// @Success 200 {object} response.Envelope
// @Router /review/items [get]
func (h *ReviewHandler) List(c *gin.Context) {
	filter := models.ReviewFilter{
		Page:     intQuery(c, "page", 1),
		PageSize: intQuery(c, "limit", 20),
	}
	if status := c.Query("status"); status != "" {
		value := models.ReviewStatus(status)
		filter.Status = &value
	}
	if audience := c.Query("audience"); audience != "" {
		value := models.Audience(audience)
		if !value.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "audience must be students or staff"))
			return
		}
		filter.Audience = &value
	}
	if min := c.Query("minSimilarity"); min != "" {
		value := intQuery(c, "minSimilarity", 0)
		filter.MinSimilarity = &value
	}
	if max := c.Query("maxSimilarity"); max != "" {
		value := intQuery(c, "maxSimilarity", 100)
		filter.MaxSimilarity = &value
	}

	items, pagination, err := h.reviews.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get one review item
// @Tags Review
// @Produce json
// @Param id path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Router /review/items/{id} [get]
func (h *ReviewHandler) Get(c *gin.Context) {
	item, err := h.reviews.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

type decideRequest struct {
	Decision          models.ReviewDecision `json:"decision" binding:"required"`
	CanonicalPersonID string                `json:"canonical_person_id"`
	CanonicalName     string                `json:"canonical_name"`
}

// Decide godoc
// @Summary Apply an operator decision to a pending item
// @Tags Review
// @Accept json
// @Produce json
// @Param id path string true "Item ID"
// @Param payload body decideRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /review/items/{id}/decision [post]
func (h *ReviewHandler) Decide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	item, err := h.reviews.Decide(c.Request.Context(), c.Param("id"), service.DecideRequest{
		Decision:          req.Decision,
		CanonicalPersonID: req.CanonicalPersonID,
		CanonicalName:     req.CanonicalName,
		DecidedBy:         actorFrom(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if req.Decision == models.DecisionAccept {
		h.indicators.Invalidate(c.Request.Context())
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Scan godoc
// @Summary Run the duplicate detector synchronously
// @Tags Review
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /review/scan [post]
func (h *ReviewHandler) Scan(c *gin.Context) {
	result, err := h.dedup.Scan(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Stats godoc
// @Summary Summarise the review queue and registry
// @Tags Review
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /review/stats [get]
func (h *ReviewHandler) Stats(c *gin.Context) {
	stats, err := h.dedup.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
