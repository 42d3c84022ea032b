package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vinculacion/registro-api/internal/service"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
	"github.com/vinculacion/registro-api/pkg/response"
)

// PersonHandler exposes registry lookups and the administrative edit path.
type PersonHandler struct {
	registry *service.RegistryService
}

// NewPersonHandler constructs PersonHandler.
func NewPersonHandler(registry *service.RegistryService) *PersonHandler {
	return &PersonHandler{registry: registry}
}

// Get godoc
// @Summary Resolve a person id to the surviving person
// @Tags Persons
// @Produce json
// @Param id path string true "Person ID"
// @Success 200 {object} response.Envelope
// @Router /persons/{id} [get]
func (h *PersonHandler) Get(c *gin.Context) {
	person, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, person, nil)
}

// Edit godoc
// @Summary Apply an administrative attribute correction
// @Tags Persons
// @Accept json
// @Produce json
// @Param id path string true "Person ID"
// @Param payload body service.EditPersonRequest true "Attribute corrections"
// @Success 200 {object} response.Envelope
// @Router /persons/{id} [patch]
func (h *PersonHandler) Edit(c *gin.Context) {
	var req service.EditPersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	person, err := h.registry.EditPerson(c.Request.Context(), c.Param("id"), req, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, person, nil)
}

// Backfill godoc
// @Summary Recompute missing normalization fields on legacy rows
// @Tags Persons
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /persons/backfill [post]
func (h *PersonHandler) Backfill(c *gin.Context) {
	updated, err := h.registry.Backfill(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"updated": updated}, nil)
}
