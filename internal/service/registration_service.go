package service

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vinculacion/registro-api/internal/models"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
)

type registrationStore interface {
	InsertIdempotent(ctx context.Context, registration *models.Registration) (*models.Registration, bool, error)
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
	UpdateAttendance(ctx context.Context, id string, value models.Attendance) (*models.Registration, models.Attendance, error)
	BulkUpdateAttendance(ctx context.Context, activityID string, ids []string, value models.Attendance) (int, error)
}

// RegistrationService manages the append-only registration store.
type RegistrationService struct {
	repo   registrationStore
	audit  auditLogger
	logger *zap.Logger
}

// NewRegistrationService constructs RegistrationService.
func NewRegistrationService(repo registrationStore, audit auditLogger, logger *zap.Logger) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{repo: repo, audit: audit, logger: logger}
}

// Record inserts a registration idempotently by (person, activity) and
// reports whether the row already existed.
func (s *RegistrationService) Record(ctx context.Context, registration *models.Registration) (*models.Registration, bool, error) {
	stored, inserted, err := s.repo.InsertIdempotent(ctx, registration)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record registration")
	}
	return stored, !inserted, nil
}

// List returns registrations with pagination metadata.
func (s *RegistrationService) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, *models.Pagination, error) {
	details, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	return details, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ToggleAttendance flips a registration's attendance flag. The audit entry
// records the prior value and the acting operator.
func (s *RegistrationService) ToggleAttendance(ctx context.Context, id string, value models.Attendance, actor string) (*models.Registration, error) {
	if !value.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attendance must be yes, no or unknown")
	}
	registration, prior, err := s.repo.UpdateAttendance(ctx, id, value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to toggle attendance")
	}
	s.emitAttendanceAudit(ctx, actor, id, prior, value)
	return registration, nil
}

// BulkToggleAttendance applies one attendance value to a set of the
// activity's registrations, atomically or not at all.
func (s *RegistrationService) BulkToggleAttendance(ctx context.Context, activityID string, ids []string, value models.Attendance, actor string) (int, error) {
	if !value.Valid() {
		return 0, appErrors.Clone(appErrors.ErrValidation, "attendance must be yes, no or unknown")
	}
	if len(ids) == 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "at least one registration id is required")
	}
	affected, err := s.repo.BulkUpdateAttendance(ctx, activityID, ids, value)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "bulk attendance update failed")
	}
	s.emitAttendanceAudit(ctx, actor, activityID, "", value)
	return affected, nil
}

func (s *RegistrationService) emitAttendanceAudit(ctx context.Context, actor, resourceID string, prior, next models.Attendance) {
	if s.audit == nil {
		return
	}
	old, _ := json.Marshal(map[string]models.Attendance{"attended": prior})
	updated, _ := json.Marshal(map[string]models.Attendance{"attended": next})
	log := &models.AuditLog{
		Actor:      actor,
		Action:     models.AuditActionAttendanceToggle,
		Resource:   "registration",
		ResourceID: &resourceID,
		OldValues:  old,
		NewValues:  updated,
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("emit attendance audit", zap.Error(err))
	}
}
