package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/normalize"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
)

type catalogStore interface {
	List(ctx context.Context, kind models.CatalogKind, includeInactive bool) ([]models.CatalogEntry, error)
	FindByID(ctx context.Context, id string) (*models.CatalogEntry, error)
	FindActiveByFold(ctx context.Context, kind models.CatalogKind, fold string) (*models.CatalogEntry, error)
	ExistsByFold(ctx context.Context, kind models.CatalogKind, fold string) (bool, error)
	Create(ctx context.Context, entry *models.CatalogEntry, fold string) error
	Deactivate(ctx context.Context, id string) error
	FindMapping(ctx context.Context, kind models.CatalogKind, unknownFold string) (*models.ReconciliationMapping, error)
	UpsertMapping(ctx context.Context, mapping *models.ReconciliationMapping) error
	ListMappings(ctx context.Context, kind models.CatalogKind) ([]models.ReconciliationMapping, error)
	TouchMetadataValue(ctx context.Context, fieldName, value string) error
	ListMetadataValues(ctx context.Context, fieldName string, limit int) ([]models.MetadataValue, error)
}

// CatalogService owns the controlled vocabularies and their reconciliation
// mappings. Reads go through a cache with an explicit invalidation hook;
// writes are rare.
type CatalogService struct {
	repo   catalogStore
	audit  auditLogger
	cache  *CacheService
	logger *zap.Logger
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(repo catalogStore, audit auditLogger, cache *CacheService, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, audit: audit, cache: cache, logger: logger}
}

// Resolution is the outcome of resolving a free-text value against a
// vocabulary.
type Resolution struct {
	Entry   *models.CatalogEntry
	Unknown bool
}

// Resolve maps (kind, name) to a canonical entry: exact fold match on active
// entries first, then the reconciliation mappings, otherwise unknown.
func (s *CatalogService) Resolve(ctx context.Context, kind models.CatalogKind, name string) (Resolution, error) {
	if !kind.Valid() {
		return Resolution{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown catalog kind %q", kind))
	}
	fold := normalize.Fold(name)
	if fold == "" {
		return Resolution{Unknown: true}, nil
	}

	cacheKey := fmt.Sprintf("catalog:resolve:%s:%s", kind, fold)
	var cached models.CatalogEntry
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return Resolution{Entry: &cached}, nil
	}

	entry, err := s.repo.FindActiveByFold(ctx, kind, fold)
	if err == nil {
		s.cacheEntry(ctx, cacheKey, entry)
		return Resolution{Entry: entry}, nil
	}
	if err != sql.ErrNoRows {
		return Resolution{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve catalog entry")
	}

	mapping, err := s.repo.FindMapping(ctx, kind, fold)
	if err != nil {
		if err == sql.ErrNoRows {
			return Resolution{Unknown: true}, nil
		}
		return Resolution{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve reconciliation mapping")
	}
	entry, err = s.repo.FindByID(ctx, mapping.CanonicalID)
	if err != nil {
		return Resolution{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "mapping points to missing catalog entry")
	}
	s.cacheEntry(ctx, cacheKey, entry)
	return Resolution{Entry: entry}, nil
}

// List returns entries of a kind.
func (s *CatalogService) List(ctx context.Context, kind models.CatalogKind, includeInactive bool) ([]models.CatalogEntry, error) {
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown catalog kind %q", kind))
	}
	entries, err := s.repo.List(ctx, kind, includeInactive)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list catalog entries")
	}
	return entries, nil
}

// Create adds a vocabulary entry, unique case- and accent-insensitively.
func (s *CatalogService) Create(ctx context.Context, kind models.CatalogKind, name, actor string) (*models.CatalogEntry, error) {
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown catalog kind %q", kind))
	}
	fold := normalize.Fold(name)
	if fold == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "name is required")
	}
	exists, err := s.repo.ExistsByFold(ctx, kind, fold)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check catalog uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an equivalent entry already exists")
	}
	entry := &models.CatalogEntry{Kind: kind, Name: name, Active: true}
	if err := s.repo.Create(ctx, entry, fold); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create catalog entry")
	}
	s.emitAudit(ctx, actor, models.AuditActionCatalogCreate, string(kind), entry.ID, nil, entry)
	s.invalidate(ctx)
	return entry, nil
}

// Deactivate hides an entry without deleting it.
func (s *CatalogService) Deactivate(ctx context.Context, id, actor string) error {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "catalog entry not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load catalog entry")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate catalog entry")
	}
	s.emitAudit(ctx, actor, models.AuditActionCatalogDeactivate, string(entry.Kind), id, entry, nil)
	s.invalidate(ctx)
	return nil
}

// MapUnknown records that an unknown value means the given canonical entry.
// Subsequent ingests resolve it silently.
func (s *CatalogService) MapUnknown(ctx context.Context, kind models.CatalogKind, unknown, canonicalID, actor string) (*models.ReconciliationMapping, error) {
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown catalog kind %q", kind))
	}
	fold := normalize.Fold(unknown)
	if fold == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown value is required")
	}
	target, err := s.repo.FindByID(ctx, canonicalID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "canonical entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load canonical entry")
	}
	if target.Kind != kind {
		return nil, appErrors.Clone(appErrors.ErrValidation, "canonical entry belongs to a different kind")
	}

	mapping := &models.ReconciliationMapping{Kind: kind, UnknownValue: fold, CanonicalID: canonicalID, MappedBy: &actor}
	if err := s.repo.UpsertMapping(ctx, mapping); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save reconciliation mapping")
	}
	s.emitAudit(ctx, actor, models.AuditActionCatalogMapUnknown, string(kind), mapping.ID, nil, mapping)
	s.invalidate(ctx)
	return mapping, nil
}

// ListMappings returns all recorded mappings of a kind.
func (s *CatalogService) ListMappings(ctx context.Context, kind models.CatalogKind) ([]models.ReconciliationMapping, error) {
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown catalog kind %q", kind))
	}
	mappings, err := s.repo.ListMappings(ctx, kind)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list mappings")
	}
	return mappings, nil
}

// TouchMetadata bumps the usage counter backing upload-form autocomplete.
func (s *CatalogService) TouchMetadata(ctx context.Context, fieldName, value string) {
	if value == "" {
		return
	}
	if err := s.repo.TouchMetadataValue(ctx, fieldName, value); err != nil {
		s.logger.Warn("touch metadata value", zap.String("field", fieldName), zap.Error(err))
	}
}

// AutocompleteMetadata returns the most used values for a field.
func (s *CatalogService) AutocompleteMetadata(ctx context.Context, fieldName string, limit int) ([]models.MetadataValue, error) {
	values, err := s.repo.ListMetadataValues(ctx, fieldName, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list metadata values")
	}
	return values, nil
}

// InvalidateCache is the explicit invalidation hook for catalog readers.
func (s *CatalogService) InvalidateCache(ctx context.Context) {
	s.invalidate(ctx)
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "catalog:*"); err != nil {
		s.logger.Warn("catalog cache invalidation", zap.Error(err))
	}
}

func (s *CatalogService) cacheEntry(ctx context.Context, key string, entry *models.CatalogEntry) {
	if err := s.cache.Set(ctx, key, entry, 0); err != nil {
		s.logger.Warn("catalog cache set", zap.Error(err))
	}
}

func (s *CatalogService) emitAudit(ctx context.Context, actor, action, resource, resourceID string, oldValue, newValue interface{}) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{Actor: actor, Action: action, Resource: resource, ResourceID: &resourceID}
	if oldValue != nil {
		log.OldValues, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		log.NewValues, _ = json.Marshal(newValue)
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("emit audit log", zap.String("action", action), zap.Error(err))
	}
}
