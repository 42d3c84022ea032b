package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/schemafit"
	"github.com/vinculacion/registro-api/internal/service"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
	"github.com/vinculacion/registro-api/pkg/response"
)

// IngestHandler exposes the CSV ingest pipeline.
type IngestHandler struct {
	ingest  *service.IngestService
	exports *service.ExportService
}

// NewIngestHandler constructs IngestHandler.
func NewIngestHandler(ingest *service.IngestService, exports *service.ExportService) *IngestHandler {
	return &IngestHandler{ingest: ingest, exports: exports}
}

// Preview godoc
// @Summary Preview a CSV upload and propose a header mapping
// @Tags Ingest
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV file"
// @Success 200 {object} response.Envelope
// @Router /ingest/preview [post]
func (h *IngestHandler) Preview(c *gin.Context) {
	raw, err := readUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	preview, err := h.ingest.Preview(c.Request.Context(), raw)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

type commitForm struct {
	ActivityName  string `form:"activity_name"`
	StrategicLine string `form:"strategic_line"`
	Year          int    `form:"year"`
	Audience      string `form:"audience"`
	Source        string `form:"source"`
	Mapping       string `form:"mapping"`
}

// Commit godoc
// @Summary Ingest a CSV upload into an activity
// @Tags Ingest
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV file"
// @Param activity_name formData string true "Activity name"
// @Param strategic_line formData string true "Strategic line"
// @Param year formData int true "Year"
// @Param audience formData string true "students or staff"
// @Param mapping formData string false "JSON header mapping override"
// @Success 200 {object} response.Envelope
// @Router /ingest/commit [post]
func (h *IngestHandler) Commit(c *gin.Context) {
	var form commitForm
	if err := c.ShouldBind(&form); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid form payload"))
		return
	}
	raw, err := readUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var mapping map[string]schemafit.Field
	if form.Mapping != "" {
		if err := json.Unmarshal([]byte(form.Mapping), &mapping); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "mapping is not valid JSON"))
			return
		}
	}

	fileHeader, _ := c.FormFile("file")
	filename := ""
	if fileHeader != nil {
		filename = fileHeader.Filename
	}

	report, err := h.ingest.Commit(c.Request.Context(), service.CommitRequest{
		Raw:      raw,
		Filename: filename,
		Mapping:  mapping,
		Metadata: models.ActivityMetadata{
			Name:          form.ActivityName,
			StrategicLine: form.StrategicLine,
			Year:          form.Year,
			Audience:      models.Audience(form.Audience),
		},
		Source: models.RegistrationSource(form.Source),
		Actor:  actorFrom(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Export godoc
// @Summary Create a signed download for a batch's enriched CSV
// @Tags Ingest
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /ingest/batches/{id}/export [post]
func (h *IngestHandler) Export(c *gin.Context) {
	token, expiresAt, err := h.exports.SignedEnrichedCSV(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"token": token, "expires_at": expiresAt}, nil)
}

// Download streams a previously signed enriched CSV.
func (h *IngestHandler) Download(c *gin.Context) {
	file, filename, err := h.exports.OpenSigned(c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Header("Content-Type", "text/csv")
	if _, err := io.Copy(c.Writer, file); err != nil {
		_ = c.Error(err)
	}
}

// ReportPDF streams the one-page PDF summary for a batch.
func (h *IngestHandler) ReportPDF(c *gin.Context) {
	rendered, filename, err := h.exports.ReportPDF(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/pdf", rendered)
}

func readUpload(c *gin.Context) ([]byte, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a file field is required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "could not open upload")
	}
	defer file.Close() //nolint:errcheck
	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "could not read upload")
	}
	return raw, nil
}
