package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/schemafit"
	"github.com/vinculacion/registro-api/internal/validate"
	"github.com/vinculacion/registro-api/pkg/config"
	"github.com/vinculacion/registro-api/pkg/csvio"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
)

type activityStore interface {
	FindByID(ctx context.Context, id string) (*models.Activity, error)
	FindByIdentity(ctx context.Context, name, strategicLine string, year int, audience models.Audience) (*models.Activity, error)
	Create(ctx context.Context, activity *models.Activity) error
}

type uploadStore interface {
	Create(ctx context.Context, batch *models.UploadBatch) error
	FindByID(ctx context.Context, id string) (*models.UploadBatch, error)
	UpdateStatus(ctx context.Context, id string, status models.BatchStatus) error
	Complete(ctx context.Context, batch *models.UploadBatch) error
}

type uploadStorage interface {
	Save(filename string, data []byte) (string, error)
}

type scanScheduler interface {
	EnqueueScan(reason string) error
}

// PreviewResult is the response of ingest.preview: the sniffed headers, a
// sample of rows and the fitter's proposal.
type PreviewResult struct {
	Headers             []string                   `json:"headers"`
	SampleRows          [][]string                 `json:"sample_rows"`
	ProposedMapping     map[string]schemafit.Field `json:"proposed_mapping"`
	PerHeaderConfidence map[string]int             `json:"per_header_confidence"`
}

// CommitRequest carries one upload into the pipeline.
type CommitRequest struct {
	Raw      []byte
	Filename string
	Mapping  map[string]schemafit.Field
	Metadata models.ActivityMetadata
	Source   models.RegistrationSource
	Actor    string
}

// IngestService drives a single upload through fit, validate, normalize,
// reconcile and persist, emitting an UploadReport. Ingests targeting the
// same activity are serialized by an advisory lock; callers hitting the lock
// receive activity.busy and retry.
type IngestService struct {
	cfg           config.IngestConfig
	aliases       schemafit.AliasTable
	validator     *validate.Validator
	structural    *validator.Validate
	catalog       *CatalogService
	registry      *RegistryService
	registrations *RegistrationService
	activities    activityStore
	uploads       uploadStore
	storage       uploadStorage
	audit         auditLogger
	metrics       *MetricsService
	scans         scanScheduler
	locks         *keyedLocks
	logger        *zap.Logger
}

// NewIngestService constructs the orchestrator.
func NewIngestService(
	cfg config.IngestConfig,
	aliases schemafit.AliasTable,
	rowValidator *validate.Validator,
	catalog *CatalogService,
	registry *RegistryService,
	registrations *RegistrationService,
	activities activityStore,
	uploads uploadStore,
	storage uploadStorage,
	audit auditLogger,
	metrics *MetricsService,
	logger *zap.Logger,
) *IngestService {
	if aliases == nil {
		aliases = schemafit.DefaultAliasTable()
	}
	if rowValidator == nil {
		rowValidator = validate.New(cfg.InstitutionEmailSuffixes)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		cfg:           cfg,
		aliases:       aliases,
		validator:     rowValidator,
		structural:    validator.New(),
		catalog:       catalog,
		registry:      registry,
		registrations: registrations,
		activities:    activities,
		uploads:       uploads,
		storage:       storage,
		audit:         audit,
		metrics:       metrics,
		locks:         newKeyedLocks(),
		logger:        logger,
	}
}

// WithScanScheduler wires the duplicate detector's async queue; a completed
// commit enqueues a scan.
func (s *IngestService) WithScanScheduler(scans scanScheduler) *IngestService {
	s.scans = scans
	return s
}

// Preview parses the CSV and returns headers, up to twenty sample rows and
// the fitter's proposed mapping with per-header confidence.
func (s *IngestService) Preview(ctx context.Context, raw []byte) (*PreviewResult, error) {
	table, err := s.decode(raw)
	if err != nil {
		return nil, err
	}
	proposal := schemafit.Fit(table.Headers, s.aliases)
	sample := table.Rows
	if len(sample) > 20 {
		sample = sample[:20]
	}
	return &PreviewResult{
		Headers:             table.Headers,
		SampleRows:          sample,
		ProposedMapping:     proposal.Mapping,
		PerHeaderConfidence: proposal.Confidence,
	}, nil
}

// Commit runs the full pipeline for one upload. Row-level problems are
// recorded on the registrations; invalid metadata, parse failures,
// incomplete mappings, unknown activity metadata and a busy activity abort
// the commit before any row is processed.
func (s *IngestService) Commit(ctx context.Context, req CommitRequest) (*models.UploadReport, error) {
	if err := s.structural.Struct(req.Metadata); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid upload metadata")
	}
	if req.Source == "" {
		req.Source = models.SourceCSV
	}

	table, err := s.decode(req.Raw)
	if err != nil {
		return nil, err
	}

	mapping := req.Mapping
	if mapping == nil {
		mapping = schemafit.Fit(table.Headers, s.aliases).Mapping
	}
	if missing := schemafit.MissingFields(mapping); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		return nil, appErrors.Clone(appErrors.ErrMappingIncomplete,
			fmt.Sprintf("unmapped canonical fields: %s", strings.Join(names, ", ")))
	}

	activity, err := s.resolveActivity(ctx, req.Metadata)
	if err != nil {
		return nil, err
	}

	release, ok := s.locks.TryAcquire("activity:" + activity.ID)
	if !ok {
		return nil, appErrors.ErrActivityBusy
	}
	defer release()

	batch, err := s.openBatch(ctx, activity.ID, req, table, mapping)
	if err != nil {
		return nil, err
	}

	report := &models.UploadReport{
		BatchID:        batch.ID,
		ActivityID:     activity.ID,
		RowCount:       len(table.Rows),
		ErrorBreakdown: make(map[string]int),
	}

	_ = s.uploads.UpdateStatus(ctx, batch.ID, models.BatchValidating)

	aborted := false
	for i, record := range table.Rows {
		if ctx.Err() != nil {
			at := i
			batch.AbortedAtRow = &at
			aborted = true
			break
		}
		s.ingestRow(ctx, batch, activity, req, table.Headers, mapping, record, report)
	}

	batch.RowCount = report.RowCount
	batch.ValidCount = report.ValidCount
	batch.InvalidCount = report.InvalidCount
	if aborted {
		batch.Status = models.BatchAborted
	} else {
		batch.Status = models.BatchPersisted
	}
	if err := s.uploads.Complete(ctx, batch); err != nil {
		s.logger.Error("complete upload batch", zap.String("batch_id", batch.ID), zap.Error(err))
	}
	if !aborted {
		_ = s.uploads.UpdateStatus(ctx, batch.ID, models.BatchReported)
		batch.Status = models.BatchReported
	}

	s.catalog.TouchMetadata(ctx, "strategic_line", req.Metadata.StrategicLine)
	s.catalog.TouchMetadata(ctx, "activity", req.Metadata.Name)
	s.emitCommitAudit(ctx, req.Actor, batch, report, aborted)

	if s.scans != nil && !aborted {
		if err := s.scans.EnqueueScan("post-upload " + batch.ID); err != nil {
			s.logger.Warn("enqueue duplicate scan", zap.Error(err))
		}
	}

	return report, nil
}

// ingestRow processes one record: extract, validate, normalize, reconcile,
// persist. Failures tag the row and never abort the batch.
func (s *IngestService) ingestRow(
	ctx context.Context,
	batch *models.UploadBatch,
	activity *models.Activity,
	req CommitRequest,
	headers []string,
	mapping map[string]schemafit.Field,
	record []string,
	report *models.UploadReport,
) {
	input, extras := extractRow(headers, mapping, record)
	row := s.validator.Row(input)
	for _, tag := range row.Errors {
		report.ErrorBreakdown[tag]++
	}

	result, err := s.registry.Reconcile(ctx, row, req.Metadata.Audience)
	if err != nil {
		s.failRow(report)
		s.logger.Warn("reconcile person", zap.String("batch_id", batch.ID), zap.Error(err))
		return
	}
	if result.Created {
		report.NewPersons++
	} else {
		report.ExistingPersons++
	}

	registration := &models.Registration{
		PersonID:   result.Person.ID,
		ActivityID: activity.ID,
		Source:     req.Source,
		Attended:   models.AttendanceUnknown,
		BatchID:    &batch.ID,
	}
	if len(row.Errors) > 0 {
		tags := strings.Join(row.Errors, ",")
		registration.ValidationErrors = &tags
	}
	if len(extras) > 0 {
		registration.Extras, _ = json.Marshal(extras)
	}

	_, existed, err := s.registrations.Record(ctx, registration)
	if err != nil {
		s.failRow(report)
		s.logger.Warn("persist registration", zap.String("batch_id", batch.ID), zap.Error(err))
		return
	}
	if existed {
		report.WithinUploadDuplicates++
		s.metrics.CountIngestedRow("duplicate")
	}

	if row.Valid() {
		report.ValidCount++
		s.metrics.CountIngestedRow("valid")
	} else {
		report.InvalidCount++
		s.metrics.CountIngestedRow("invalid")
	}
}

func (s *IngestService) failRow(report *models.UploadReport) {
	report.ErrorBreakdown[validate.ErrPersistFailed]++
	report.InvalidCount++
	s.metrics.CountIngestedRow("persist_failed")
}

// decode parses raw bytes, enforcing the configured row limit.
func (s *IngestService) decode(raw []byte) (*csvio.Table, error) {
	if len(raw) == 0 {
		return nil, appErrors.Clone(appErrors.ErrParseFailed, "upload is empty")
	}
	table, err := csvio.Decode(raw, s.cfg.EncodingFallback)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrParseFailed.Code, appErrors.ErrParseFailed.Status, appErrors.ErrParseFailed.Message)
	}
	if s.cfg.RowLimit > 0 && len(table.Rows) > s.cfg.RowLimit {
		return nil, appErrors.Clone(appErrors.ErrParseTooLarge,
			fmt.Sprintf("%d rows exceed the limit of %d", len(table.Rows), s.cfg.RowLimit))
	}
	return table, nil
}

// resolveActivity reconciles the caller metadata against the catalog and
// finds or creates the activity row for this upload.
func (s *IngestService) resolveActivity(ctx context.Context, meta models.ActivityMetadata) (*models.Activity, error) {
	line, err := s.catalog.Resolve(ctx, models.KindStrategicLine, meta.StrategicLine)
	if err != nil {
		return nil, err
	}
	if line.Unknown {
		return nil, appErrors.Clone(appErrors.ErrActivityUnknown,
			fmt.Sprintf("strategic line %q is not in the catalog", meta.StrategicLine))
	}
	name, err := s.catalog.Resolve(ctx, models.KindActivityName, meta.Name)
	if err != nil {
		return nil, err
	}
	if name.Unknown {
		return nil, appErrors.Clone(appErrors.ErrActivityUnknown,
			fmt.Sprintf("activity name %q is not in the catalog", meta.Name))
	}

	activity, err := s.activities.FindByIdentity(ctx, name.Entry.Name, line.Entry.Name, meta.Year, meta.Audience)
	if err == nil {
		return activity, nil
	}
	if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}

	activity = &models.Activity{
		Name:          name.Entry.Name,
		StrategicLine: line.Entry.Name,
		Year:          meta.Year,
		Audience:      meta.Audience,
	}
	if err := s.activities.Create(ctx, activity); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create activity")
	}
	return activity, nil
}

// openBatch records the batch through Received, HeadersProposed and Mapped,
// and stores the raw CSV alongside it.
func (s *IngestService) openBatch(ctx context.Context, activityID string, req CommitRequest, table *csvio.Table, mapping map[string]schemafit.Field) (*models.UploadBatch, error) {
	headersJSON, _ := json.Marshal(table.Headers)
	mappingJSON, _ := json.Marshal(mapping)
	batch := &models.UploadBatch{
		ID:         uuid.NewString(),
		ActivityID: activityID,
		Filename:   req.Filename,
		Headers:    headersJSON,
		Mapping:    mappingJSON,
		RowCount:   len(table.Rows),
		Status:     models.BatchReceived,
	}
	if s.storage != nil {
		path, err := s.storage.Save(batch.ID+".csv", req.Raw)
		if err != nil {
			s.logger.Warn("store raw upload", zap.String("batch_id", batch.ID), zap.Error(err))
		} else {
			batch.StoragePath = path
		}
	}
	if err := s.uploads.Create(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open upload batch")
	}
	_ = s.uploads.UpdateStatus(ctx, batch.ID, models.BatchHeadersProposed)
	_ = s.uploads.UpdateStatus(ctx, batch.ID, models.BatchMapped)
	return batch, nil
}

// extractRow splits a record into the canonical field inputs and the extras
// map of unmapped columns, preserved verbatim for the enriched export.
func extractRow(headers []string, mapping map[string]schemafit.Field, record []string) (validate.RowInput, map[string]string) {
	var input validate.RowInput
	extras := make(map[string]string)
	for i, header := range headers {
		if i >= len(record) {
			break
		}
		value := record[i]
		switch mapping[header] {
		case schemafit.FieldFullName:
			input.FullName = value
		case schemafit.FieldNationalID:
			input.NationalID = value
		case schemafit.FieldEmail:
			input.Email = value
		case schemafit.FieldProgram:
			input.Program = value
		case schemafit.FieldPhone:
			input.Phone = value
		default:
			if strings.TrimSpace(value) != "" {
				extras[header] = value
			}
		}
	}
	return input, extras
}

func (s *IngestService) emitCommitAudit(ctx context.Context, actor string, batch *models.UploadBatch, report *models.UploadReport, aborted bool) {
	if s.audit == nil {
		return
	}
	action := models.AuditActionIngestCommit
	if aborted {
		action = models.AuditActionIngestAbort
	}
	payload, _ := json.Marshal(report)
	log := &models.AuditLog{
		Actor:      actor,
		Action:     action,
		Resource:   "upload_batch",
		ResourceID: &batch.ID,
		NewValues:  payload,
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("emit ingest audit", zap.Error(err))
	}
}
