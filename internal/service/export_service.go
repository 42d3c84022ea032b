package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/schemafit"
	"github.com/vinculacion/registro-api/internal/validate"
	"github.com/vinculacion/registro-api/pkg/csvio"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
	"github.com/vinculacion/registro-api/pkg/export"
	"github.com/vinculacion/registro-api/pkg/storage"
)

type exportBatchStore interface {
	FindByID(ctx context.Context, id string) (*models.UploadBatch, error)
}

type exportActivityStore interface {
	FindByID(ctx context.Context, id string) (*models.Activity, error)
}

type fileStore interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

// ExportService regenerates enriched CSVs and report summaries for download.
// The enriched CSV keeps the original columns in their original order,
// appends the five canonical fields in normalized form, the activity
// metadata and the per-row error tags. Row order matches the input file.
type ExportService struct {
	batches          exportBatchStore
	activities       exportActivityStore
	uploads          fileStore
	exports          fileStore
	signer           *storage.SignedURLSigner
	validator        *validate.Validator
	encodingFallback string
	csv              *export.CSVExporter
	pdf              *export.PDFExporter
	logger           *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(
	batches exportBatchStore,
	activities exportActivityStore,
	uploads fileStore,
	exports fileStore,
	signer *storage.SignedURLSigner,
	rowValidator *validate.Validator,
	encodingFallback string,
	logger *zap.Logger,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		batches:          batches,
		activities:       activities,
		uploads:          uploads,
		exports:          exports,
		signer:           signer,
		validator:        rowValidator,
		encodingFallback: encodingFallback,
		csv:              export.NewCSVExporter(),
		pdf:              export.NewPDFExporter(),
		logger:           logger,
	}
}

// EnrichedCSV re-reads the stored upload and renders the enriched form. The
// canonical columns are recomputed with the same validator the ingest ran,
// so the output is deterministic for a given stored file and mapping.
func (s *ExportService) EnrichedCSV(ctx context.Context, batchID string) ([]byte, string, error) {
	batch, activity, err := s.loadBatch(ctx, batchID)
	if err != nil {
		return nil, "", err
	}
	if batch.StoragePath == "" {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "raw upload no longer stored")
	}

	file, err := s.uploads.Open(batch.StoragePath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open stored upload")
	}
	defer file.Close() //nolint:errcheck
	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read stored upload")
	}

	table, err := csvio.Decode(raw, s.encodingFallback)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrParseFailed.Code, appErrors.ErrParseFailed.Status, "stored upload no longer parses")
	}

	var mapping map[string]schemafit.Field
	if err := json.Unmarshal(batch.Mapping, &mapping); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "batch mapping is unreadable")
	}

	headers := make([]string, 0, len(table.Headers)+9)
	headers = append(headers, table.Headers...)
	headers = append(headers, "full_name", "national_id", "institutional_email", "program_or_area", "phone")
	headers = append(headers, "strategic_line", "activity", "year", "errors")

	rows := make([]map[string]string, 0, len(table.Rows))
	for _, record := range table.Rows {
		input, _ := extractRow(table.Headers, mapping, record)
		row := s.validator.Row(input)

		out := make(map[string]string, len(headers))
		for i, header := range table.Headers {
			if i < len(record) {
				out[header] = record[i]
			}
		}
		out["full_name"] = row.NormalizedName
		out["national_id"] = row.NationalID
		out["institutional_email"] = row.Email
		out["program_or_area"] = row.Program
		out["phone"] = row.Phone
		out["strategic_line"] = activity.StrategicLine
		out["activity"] = activity.Name
		out["year"] = strconv.Itoa(activity.Year)
		out["errors"] = strings.Join(row.Errors, ",")
		rows = append(rows, out)
	}

	rendered, err := s.csv.Render(export.Dataset{Headers: headers, Rows: rows})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render enriched csv")
	}
	filename := fmt.Sprintf("enriched_%s.csv", batch.ID)
	return rendered, filename, nil
}

// SignedEnrichedCSV renders, stores and signs the enriched export, returning
// the download token.
func (s *ExportService) SignedEnrichedCSV(ctx context.Context, batchID string) (string, time.Time, error) {
	rendered, filename, err := s.EnrichedCSV(ctx, batchID)
	if err != nil {
		return "", time.Time{}, err
	}
	relPath, err := s.exports.Save(filename, rendered)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store enriched csv")
	}
	token, expiresAt, err := s.signer.Generate(batchID, relPath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	return token, expiresAt, nil
}

// OpenSigned validates a download token and opens the stored export.
func (s *ExportService) OpenSigned(token string) (*os.File, string, error) {
	batchID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link is invalid or expired")
	}
	file, err := s.exports.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export no longer stored")
	}
	return file, fmt.Sprintf("enriched_%s.csv", batchID), nil
}

// ReportPDF renders an upload report as a one-page summary.
func (s *ExportService) ReportPDF(ctx context.Context, batchID string) ([]byte, string, error) {
	batch, activity, err := s.loadBatch(ctx, batchID)
	if err != nil {
		return nil, "", err
	}

	rows := []map[string]string{
		{"Metric": "Activity", "Value": activity.Name},
		{"Metric": "Strategic line", "Value": activity.StrategicLine},
		{"Metric": "Year", "Value": strconv.Itoa(activity.Year)},
		{"Metric": "Audience", "Value": string(activity.Audience)},
		{"Metric": "Rows", "Value": strconv.Itoa(batch.RowCount)},
		{"Metric": "Valid rows", "Value": strconv.Itoa(batch.ValidCount)},
		{"Metric": "Rows with errors", "Value": strconv.Itoa(batch.InvalidCount)},
		{"Metric": "Status", "Value": string(batch.Status)},
	}
	rendered, err := s.pdf.Render(export.Dataset{Headers: []string{"Metric", "Value"}, Rows: rows}, "Upload report")
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report pdf")
	}
	return rendered, fmt.Sprintf("report_%s.pdf", batch.ID), nil
}

func (s *ExportService) loadBatch(ctx context.Context, batchID string) (*models.UploadBatch, *models.Activity, error) {
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "upload batch not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load upload batch")
	}
	activity, err := s.activities.FindByID(ctx, batch.ActivityID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}
	return batch, activity, nil
}
