package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vinculacion/registro-api/internal/models"
)

// CatalogRepository manages controlled vocabularies, reconciliation mappings
// and metadata-value usage counters.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs a CatalogRepository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// List returns entries of a kind, optionally including inactive ones.
func (r *CatalogRepository) List(ctx context.Context, kind models.CatalogKind, includeInactive bool) ([]models.CatalogEntry, error) {
	query := `SELECT id, kind, name, active, created_at, updated_at FROM catalog_entries WHERE kind = $1`
	if !includeInactive {
		query += ` AND active = true`
	}
	query += ` ORDER BY name ASC`
	var entries []models.CatalogEntry
	if err := r.db.SelectContext(ctx, &entries, query, kind); err != nil {
		return nil, fmt.Errorf("list catalog entries: %w", err)
	}
	return entries, nil
}

// FindByID fetches one entry.
func (r *CatalogRepository) FindByID(ctx context.Context, id string) (*models.CatalogEntry, error) {
	var entry models.CatalogEntry
	const query = `SELECT id, kind, name, active, created_at, updated_at FROM catalog_entries WHERE id = $1`
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindActiveByFold resolves an active entry by its folded name. name_fold is
// maintained on write so the lookup stays an index scan.
func (r *CatalogRepository) FindActiveByFold(ctx context.Context, kind models.CatalogKind, fold string) (*models.CatalogEntry, error) {
	var entry models.CatalogEntry
	const query = `SELECT id, kind, name, active, created_at, updated_at FROM catalog_entries
        WHERE kind = $1 AND name_fold = $2 AND active = true`
	if err := r.db.GetContext(ctx, &entry, query, kind, fold); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ExistsByFold checks uniqueness regardless of the active flag.
func (r *CatalogRepository) ExistsByFold(ctx context.Context, kind models.CatalogKind, fold string) (bool, error) {
	const query = `SELECT 1 FROM catalog_entries WHERE kind = $1 AND name_fold = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, kind, fold); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check catalog entry: %w", err)
	}
	return true, nil
}

// Create inserts an entry along with its folded form.
func (r *CatalogRepository) Create(ctx context.Context, entry *models.CatalogEntry, fold string) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	const query = `INSERT INTO catalog_entries (id, kind, name, name_fold, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query, entry.ID, entry.Kind, entry.Name, fold, entry.Active, entry.CreatedAt, entry.UpdatedAt); err != nil {
		return fmt.Errorf("create catalog entry: %w", err)
	}
	return nil
}

// Deactivate hides an entry without deleting it.
func (r *CatalogRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE catalog_entries SET active = false, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate catalog entry: %w", err)
	}
	return nil
}

// FindMapping resolves a reconciliation mapping by folded unknown value.
func (r *CatalogRepository) FindMapping(ctx context.Context, kind models.CatalogKind, unknownFold string) (*models.ReconciliationMapping, error) {
	var mapping models.ReconciliationMapping
	const query = `SELECT id, kind, unknown_value, canonical_id, mapped_by, created_at FROM reconciliation_mappings
        WHERE kind = $1 AND unknown_value = $2`
	if err := r.db.GetContext(ctx, &mapping, query, kind, unknownFold); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// UpsertMapping records or replaces the canonical target for an unknown
// value.
func (r *CatalogRepository) UpsertMapping(ctx context.Context, mapping *models.ReconciliationMapping) error {
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO reconciliation_mappings (id, kind, unknown_value, canonical_id, mapped_by, created_at)
        VALUES (:id, :kind, :unknown_value, :canonical_id, :mapped_by, :created_at)
        ON CONFLICT (kind, unknown_value) DO UPDATE SET canonical_id = EXCLUDED.canonical_id, mapped_by = EXCLUDED.mapped_by`
	if _, err := r.db.NamedExecContext(ctx, query, mapping); err != nil {
		return fmt.Errorf("upsert reconciliation mapping: %w", err)
	}
	return nil
}

// ListMappings returns all mappings of a kind.
func (r *CatalogRepository) ListMappings(ctx context.Context, kind models.CatalogKind) ([]models.ReconciliationMapping, error) {
	const query = `SELECT id, kind, unknown_value, canonical_id, mapped_by, created_at FROM reconciliation_mappings
        WHERE kind = $1 ORDER BY unknown_value ASC`
	var mappings []models.ReconciliationMapping
	if err := r.db.SelectContext(ctx, &mappings, query, kind); err != nil {
		return nil, fmt.Errorf("list reconciliation mappings: %w", err)
	}
	return mappings, nil
}

// TouchMetadataValue bumps the usage counter for a free-text metadata value,
// creating the row on first use.
func (r *CatalogRepository) TouchMetadataValue(ctx context.Context, fieldName, value string) error {
	const query = `INSERT INTO catalog_metadata_values (id, field_name, value, usage_count, last_used)
        VALUES ($1, $2, $3, 1, $4)
        ON CONFLICT (field_name, value) DO UPDATE SET usage_count = catalog_metadata_values.usage_count + 1, last_used = EXCLUDED.last_used`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), fieldName, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch metadata value: %w", err)
	}
	return nil
}

// ListMetadataValues returns the most used values of a field for
// autocomplete, most frequent first.
func (r *CatalogRepository) ListMetadataValues(ctx context.Context, fieldName string, limit int) ([]models.MetadataValue, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT id, field_name, value, usage_count, last_used FROM catalog_metadata_values
        WHERE field_name = $1 ORDER BY usage_count DESC, value ASC LIMIT %d`, limit)
	var values []models.MetadataValue
	if err := r.db.SelectContext(ctx, &values, query, fieldName); err != nil {
		return nil, fmt.Errorf("list metadata values: %w", err)
	}
	return values, nil
}
