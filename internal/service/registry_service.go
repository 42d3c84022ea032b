package service

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/normalize"
	"github.com/vinculacion/registro-api/internal/repository"
	"github.com/vinculacion/registro-api/internal/validate"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
)

type personStore interface {
	FindByID(ctx context.Context, id string) (*models.Person, error)
	Resolve(ctx context.Context, id string) (*models.Person, error)
	FindByNationalID(ctx context.Context, nationalID string) (*models.Person, error)
	FindByEmail(ctx context.Context, email string) (*models.Person, error)
	Create(ctx context.Context, person *models.Person) error
	UpdateAttributes(ctx context.Context, person *models.Person) error
	ListMissingNormalization(ctx context.Context) ([]models.Person, error)
	UpdateNormalization(ctx context.Context, id, normalized, canonical string) error
	Merge(ctx context.Context, survivorID, loserID, canonicalName string) (*repository.MergeResult, error)
}

// RegistryService owns person identity: reconciliation, attribute merges and
// accepted person merges.
type RegistryService struct {
	repo    personStore
	audit   auditLogger
	metrics *MetricsService
	locks   *keyedLocks
	logger  *zap.Logger
}

// NewRegistryService constructs RegistryService.
func NewRegistryService(repo personStore, audit auditLogger, metrics *MetricsService, logger *zap.Logger) *RegistryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryService{repo: repo, audit: audit, metrics: metrics, locks: newKeyedLocks(), logger: logger}
}

// ReconcileResult reports how a row resolved to a person.
type ReconcileResult struct {
	Person  *models.Person
	Created bool
}

// Reconcile resolves a validated row to a person id: by canonical national
// id first, then by folded email, otherwise a new person is created.
// Matches update missing attributes non-destructively; creation is
// serialized on the identity key to keep concurrent ingests from minting
// duplicate rows.
func (s *RegistryService) Reconcile(ctx context.Context, row validate.Row, audience models.Audience) (*ReconcileResult, error) {
	key := reconcileKey(row)
	release, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "interrupted while locking identity key")
	}
	defer release()

	if row.NationalID != "" {
		person, err := s.repo.FindByNationalID(ctx, row.NationalID)
		if err == nil {
			if err := s.mergeRowAttrs(ctx, person, row); err != nil {
				return nil, err
			}
			return &ReconcileResult{Person: person}, nil
		}
		if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up person by national id")
		}
	}

	if row.Email != "" {
		person, err := s.repo.FindByEmail(ctx, row.Email)
		if err == nil {
			if err := s.mergeRowAttrs(ctx, person, row); err != nil {
				return nil, err
			}
			return &ReconcileResult{Person: person}, nil
		}
		if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up person by email")
		}
	}

	person := &models.Person{
		RawFullName:        row.RawFullName,
		NormalizedFullName: row.NormalizedName,
		CanonicalFullName:  row.NormalizedName,
		Audience:           audience,
	}
	if row.NationalID != "" {
		person.NationalID = &row.NationalID
	}
	if row.Email != "" {
		person.Email = &row.Email
	}
	if row.Program != "" {
		person.Career = &row.Program
	}
	if row.Phone != "" {
		person.Phone = &row.Phone
	}
	if err := s.repo.Create(ctx, person); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create person")
	}
	return &ReconcileResult{Person: person, Created: true}, nil
}

// ReconcilePreview resolves a row to an existing person without ever
// creating one. Used by the walk-in attendance flow.
func (s *RegistryService) ReconcilePreview(ctx context.Context, row validate.Row) (*models.Person, error) {
	if row.NationalID != "" {
		person, err := s.repo.FindByNationalID(ctx, row.NationalID)
		if err == nil {
			return person, nil
		}
		if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up person by national id")
		}
	}
	if row.Email != "" {
		person, err := s.repo.FindByEmail(ctx, row.Email)
		if err == nil {
			return person, nil
		}
		if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up person by email")
		}
	}
	return nil, nil
}

// Get resolves an id to the surviving person, following merge chains.
func (s *RegistryService) Get(ctx context.Context, id string) (*models.Person, error) {
	person, err := s.repo.Resolve(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "person not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load person")
	}
	return person, nil
}

// Merge consolidates loser into survivor, stamping the canonical name. The
// operation is serialized on the lesser of the two ids so concurrent
// decisions touching the same pair cannot interleave.
func (s *RegistryService) Merge(ctx context.Context, survivorID, loserID, canonicalName, actor string) (*models.Person, error) {
	if survivorID == loserID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "survivor and loser must differ")
	}
	if canonicalName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "canonical name is required")
	}

	left, _ := models.OrderedPair(survivorID, loserID)
	release, err := s.locks.Acquire(ctx, "merge:"+left)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "interrupted while locking merge pair")
	}
	defer release()

	result, err := s.repo.Merge(ctx, survivorID, loserID, canonicalName)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "merge pair not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "merge failed")
	}

	after, _ := json.Marshal(result.Survivor)
	s.emitMergeAudit(ctx, actor, survivorID, result, after)
	s.metrics.CountMerge()
	s.logger.Info("person merge applied",
		zap.String("survivor_id", survivorID),
		zap.String("loser_id", loserID),
		zap.Int("moved_registrations", result.MovedRegistrations),
		zap.Int("dropped_registrations", result.DroppedRegistrations),
	)
	return result.Survivor, nil
}

// Backfill recomputes missing normalization fields on legacy rows. The pass
// is idempotent; rows already normalized are untouched.
func (s *RegistryService) Backfill(ctx context.Context) (int, error) {
	persons, err := s.repo.ListMissingNormalization(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rows for backfill")
	}
	updated := 0
	for i := range persons {
		person := &persons[i]
		if err := ctx.Err(); err != nil {
			return updated, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "backfill cancelled")
		}
		normalized := person.NormalizedFullName
		if normalized == "" {
			normalized = normalize.Name(person.RawFullName)
		}
		canonical := person.CanonicalFullName
		if canonical == "" {
			canonical = normalized
		}
		if normalized == person.NormalizedFullName && canonical == person.CanonicalFullName {
			continue
		}
		if err := s.repo.UpdateNormalization(ctx, person.ID, normalized, canonical); err != nil {
			return updated, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to backfill person")
		}
		updated++
	}
	return updated, nil
}

// EditPersonRequest carries an administrative attribute correction. Omitted
// (null) fields are left untouched; an empty string clears the attribute.
type EditPersonRequest struct {
	NationalID *string `json:"national_id"`
	Email      *string `json:"email"`
	Career     *string `json:"career"`
	Phone      *string `json:"phone"`
}

// EditPerson applies an administrative correction. Unlike ingest-time
// attribute merges this overwrites, and every edit emits an audit record.
func (s *RegistryService) EditPerson(ctx context.Context, id string, req EditPersonRequest, actor string) (*models.Person, error) {
	person, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "person not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load person")
	}
	if person.Tombstone() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "person was merged; edit the survivor")
	}

	before, _ := json.Marshal(person)

	if req.NationalID != nil {
		if *req.NationalID == "" {
			person.NationalID = nil
		} else {
			parsed, err := normalize.ParseNationalID(*req.NationalID)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, "national id is not valid")
			}
			canonical := parsed.String()
			person.NationalID = &canonical
		}
	}
	if req.Email != nil {
		if *req.Email == "" {
			person.Email = nil
		} else {
			email, err := normalize.Email(*req.Email)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, "email is not valid")
			}
			person.Email = &email
		}
	}
	if req.Career != nil {
		person.Career = req.Career
	}
	if req.Phone != nil {
		if *req.Phone == "" {
			person.Phone = nil
		} else {
			phone, err := normalize.Phone(*req.Phone)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, "phone is not valid")
			}
			person.Phone = &phone
		}
	}

	if err := s.repo.UpdateAttributes(ctx, person); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update person")
	}

	after, _ := json.Marshal(person)
	s.emitPersonAudit(ctx, actor, models.AuditActionPersonEdit, id, before, after)
	return person, nil
}

// mergeRowAttrs applies the non-destructive attribute rule for an ingest
// match: empty attributes are filled from the row, non-empty ones are kept.
// A differing raw name is recorded in the name history.
func (s *RegistryService) mergeRowAttrs(ctx context.Context, person *models.Person, row validate.Row) error {
	changed := false
	if person.NationalID == nil && row.NationalID != "" {
		person.NationalID = &row.NationalID
		changed = true
	}
	if person.Email == nil && row.Email != "" {
		person.Email = &row.Email
		changed = true
	}
	if person.Career == nil && row.Program != "" {
		person.Career = &row.Program
		changed = true
	}
	if person.Phone == nil && row.Phone != "" {
		person.Phone = &row.Phone
		changed = true
	}
	if row.RawFullName != "" && row.RawFullName != person.RawFullName {
		history := repository.AppendNameHistory(person.RawNameHistory, row.RawFullName)
		if len(history) != len(person.RawNameHistory) {
			person.RawNameHistory = history
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := s.repo.UpdateAttributes(ctx, person); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to merge person attributes")
	}
	return nil
}

func reconcileKey(row validate.Row) string {
	if row.NationalID != "" {
		return "nid:" + row.NationalID
	}
	if row.Email != "" {
		return "email:" + row.Email
	}
	return "name:" + row.NormalizedName
}

func (s *RegistryService) emitMergeAudit(ctx context.Context, actor, survivorID string, result *repository.MergeResult, after []byte) {
	if s.audit == nil {
		return
	}
	old, _ := json.Marshal(map[string]json.RawMessage{
		"survivor": result.SurvivorBefore,
		"loser":    result.LoserBefore,
	})
	log := &models.AuditLog{
		Actor:      actor,
		Action:     models.AuditActionPersonMerge,
		Resource:   "person",
		ResourceID: &survivorID,
		OldValues:  old,
		NewValues:  after,
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("emit merge audit", zap.Error(err))
	}
}

func (s *RegistryService) emitPersonAudit(ctx context.Context, actor, action, personID string, before, after []byte) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Actor:      actor,
		Action:     action,
		Resource:   "person",
		ResourceID: &personID,
		OldValues:  before,
		NewValues:  after,
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("emit person audit", zap.Error(err))
	}
}
