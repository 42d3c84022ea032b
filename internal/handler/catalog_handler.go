package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/service"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
	"github.com/vinculacion/registro-api/pkg/response"
)

// CatalogHandler exposes controlled vocabulary management.
type CatalogHandler struct {
	catalog *service.CatalogService
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// List godoc
// @Summary List catalog entries of a kind
// @Tags Catalog
// @Produce json
// @Param kind path string true "strategic_line, activity_name or career"
// @Param includeInactive query bool false "Include deactivated entries"
// @Success 200 {object} response.Envelope
// @Router /catalog/{kind} [get]
func (h *CatalogHandler) List(c *gin.Context) {
	entries, err := h.catalog.List(c.Request.Context(), models.CatalogKind(c.Param("kind")), c.Query("includeInactive") == "true")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

type createEntryRequest struct {
	Name string `json:"name" binding:"required"`
}

// Create godoc
// @Summary Create a catalog entry
// @Tags Catalog
// @Accept json
// @Produce json
// @Param kind path string true "Catalog kind"
// @Param payload body createEntryRequest true "Entry name"
// @Success 201 {object} response.Envelope
// @Router /catalog/{kind} [post]
func (h *CatalogHandler) Create(c *gin.Context) {
	var req createEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry, err := h.catalog.Create(c.Request.Context(), models.CatalogKind(c.Param("kind")), req.Name, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Deactivate godoc
// @Summary Deactivate a catalog entry
// @Tags Catalog
// @Produce json
// @Param kind path string true "Catalog kind"
// @Param id path string true "Entry ID"
// @Success 204
// @Router /catalog/{kind}/{id} [delete]
func (h *CatalogHandler) Deactivate(c *gin.Context) {
	if err := h.catalog.Deactivate(c.Request.Context(), c.Param("id"), actorFrom(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type mapUnknownRequest struct {
	UnknownValue string `json:"unknown_value" binding:"required"`
	CanonicalID  string `json:"canonical_id" binding:"required"`
}

// MapUnknown godoc
// @Summary Map an unknown value to a canonical entry
// @Tags Catalog
// @Accept json
// @Produce json
// @Param kind path string true "Catalog kind"
// @Param payload body mapUnknownRequest true "Mapping"
// @Success 200 {object} response.Envelope
// @Router /catalog/{kind}/mappings [post]
func (h *CatalogHandler) MapUnknown(c *gin.Context) {
	var req mapUnknownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	mapping, err := h.catalog.MapUnknown(c.Request.Context(), models.CatalogKind(c.Param("kind")), req.UnknownValue, req.CanonicalID, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mapping, nil)
}

// ListMappings godoc
// @Summary List reconciliation mappings of a kind
// @Tags Catalog
// @Produce json
// @Param kind path string true "Catalog kind"
// @Success 200 {object} response.Envelope
// @Router /catalog/{kind}/mappings [get]
func (h *CatalogHandler) ListMappings(c *gin.Context) {
	mappings, err := h.catalog.ListMappings(c.Request.Context(), models.CatalogKind(c.Param("kind")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mappings, nil)
}

// Autocomplete godoc
// @Summary Autocomplete free-text metadata values
// @Tags Catalog
// @Produce json
// @Param field query string true "strategic_line or activity"
// @Param limit query int false "Max results"
// @Success 200 {object} response.Envelope
// @Router /metadata-values [get]
func (h *CatalogHandler) Autocomplete(c *gin.Context) {
	field := c.Query("field")
	if field == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "field is required"))
		return
	}
	values, err := h.catalog.AutocompleteMetadata(c.Request.Context(), field, intQuery(c, "limit", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, values, nil)
}
