package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/service"
	"github.com/vinculacion/registro-api/pkg/response"
)

// IndicatorsHandler exposes the read-only indicator queries.
type IndicatorsHandler struct {
	indicators *service.IndicatorsService
}

// NewIndicatorsHandler constructs IndicatorsHandler.
func NewIndicatorsHandler(indicators *service.IndicatorsService) *IndicatorsHandler {
	return &IndicatorsHandler{indicators: indicators}
}

// Query godoc
// @Summary Aggregate participation indicators
// @Tags Indicators
// @Produce json
// @Param dimensions query string false "Comma separated subset of year,strategic_line,audience"
// @Param activityId query string false "Restrict to one activity"
// @Success 200 {object} response.Envelope
// @Router /indicators [get]
func (h *IndicatorsHandler) Query(c *gin.Context) {
	var dims []models.IndicatorDimension
	if raw := c.Query("dimensions"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				dims = append(dims, models.IndicatorDimension(part))
			}
		}
	}
	rows, cached, err := h.indicators.Query(c.Request.Context(), models.IndicatorFilter{
		Dimensions: dims,
		ActivityID: c.Query("activityId"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil, map[string]interface{}{"cached": cached})
}
