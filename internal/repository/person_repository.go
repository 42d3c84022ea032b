package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vinculacion/registro-api/internal/models"
)

const personColumns = `id, raw_full_name, normalized_full_name, canonical_full_name, national_id, email, career, phone, audience, raw_name_history, merged_into_id, created_at, updated_at`

// PersonRepository manages persistence for the person registry.
type PersonRepository struct {
	db *sqlx.DB
}

// NewPersonRepository constructs a PersonRepository.
func NewPersonRepository(db *sqlx.DB) *PersonRepository {
	return &PersonRepository{db: db}
}

// FindByID fetches a person row, tombstone or not.
func (r *PersonRepository) FindByID(ctx context.Context, id string) (*models.Person, error) {
	var person models.Person
	query := fmt.Sprintf("SELECT %s FROM persons WHERE id = $1", personColumns)
	if err := r.db.GetContext(ctx, &person, query, id); err != nil {
		return nil, err
	}
	return &person, nil
}

// Resolve follows merged_into_id chains from the given id to the surviving
// person. When the chain is longer than one hop the starting row's pointer is
// rewritten to the final survivor (path compression on read).
func (r *PersonRepository) Resolve(ctx context.Context, id string) (*models.Person, error) {
	person, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	hops := 0
	start := person
	for person.MergedIntoID != nil {
		hops++
		if hops > 64 {
			return nil, fmt.Errorf("merged_into chain too long starting at %s", id)
		}
		person, err = r.FindByID(ctx, *person.MergedIntoID)
		if err != nil {
			return nil, err
		}
	}
	if hops > 1 {
		const compress = `UPDATE persons SET merged_into_id = $2, updated_at = $3 WHERE id = $1`
		if _, err := r.db.ExecContext(ctx, compress, start.ID, person.ID, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("compress merge chain: %w", err)
		}
	}
	return person, nil
}

// FindByNationalID returns the non-tombstone person holding the canonical
// national id, or sql.ErrNoRows.
func (r *PersonRepository) FindByNationalID(ctx context.Context, nationalID string) (*models.Person, error) {
	var person models.Person
	query := fmt.Sprintf("SELECT %s FROM persons WHERE national_id = $1 AND merged_into_id IS NULL", personColumns)
	if err := r.db.GetContext(ctx, &person, query, nationalID); err != nil {
		return nil, err
	}
	return &person, nil
}

// FindByEmail returns the non-tombstone person holding the folded email.
func (r *PersonRepository) FindByEmail(ctx context.Context, email string) (*models.Person, error) {
	var person models.Person
	query := fmt.Sprintf("SELECT %s FROM persons WHERE email = $1 AND merged_into_id IS NULL", personColumns)
	if err := r.db.GetContext(ctx, &person, query, email); err != nil {
		return nil, err
	}
	return &person, nil
}

// Create inserts a new person.
func (r *PersonRepository) Create(ctx context.Context, person *models.Person) error {
	if person.ID == "" {
		person.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if person.CreatedAt.IsZero() {
		person.CreatedAt = now
	}
	person.UpdatedAt = now
	if person.CanonicalFullName == "" {
		person.CanonicalFullName = person.NormalizedFullName
	}
	const query = `INSERT INTO persons (id, raw_full_name, normalized_full_name, canonical_full_name, national_id, email, career, phone, audience, raw_name_history, merged_into_id, created_at, updated_at)
        VALUES (:id, :raw_full_name, :normalized_full_name, :canonical_full_name, :national_id, :email, :career, :phone, :audience, :raw_name_history, :merged_into_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, person); err != nil {
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

// UpdateAttributes persists the mutable attribute set after a non-destructive
// merge computed by the caller.
func (r *PersonRepository) UpdateAttributes(ctx context.Context, person *models.Person) error {
	person.UpdatedAt = time.Now().UTC()
	const query = `UPDATE persons SET national_id = :national_id, email = :email, career = :career, phone = :phone, raw_name_history = :raw_name_history, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, person); err != nil {
		return fmt.Errorf("update person attributes: %w", err)
	}
	return nil
}

// ListActive returns every non-tombstone person. The duplicate detector
// iterates this set when building its blocks.
func (r *PersonRepository) ListActive(ctx context.Context) ([]models.Person, error) {
	var persons []models.Person
	query := fmt.Sprintf("SELECT %s FROM persons WHERE merged_into_id IS NULL ORDER BY created_at ASC, id ASC", personColumns)
	if err := r.db.SelectContext(ctx, &persons, query); err != nil {
		return nil, fmt.Errorf("list active persons: %w", err)
	}
	return persons, nil
}

// ListMissingNormalization returns rows whose normalized or canonical name
// is blank, for the backfill maintenance pass.
func (r *PersonRepository) ListMissingNormalization(ctx context.Context) ([]models.Person, error) {
	var persons []models.Person
	query := fmt.Sprintf("SELECT %s FROM persons WHERE merged_into_id IS NULL AND (normalized_full_name = '' OR canonical_full_name = '')", personColumns)
	if err := r.db.SelectContext(ctx, &persons, query); err != nil {
		return nil, fmt.Errorf("list persons missing normalization: %w", err)
	}
	return persons, nil
}

// UpdateNormalization rewrites the computed name forms for a backfilled row.
func (r *PersonRepository) UpdateNormalization(ctx context.Context, id, normalized, canonical string) error {
	const query = `UPDATE persons SET normalized_full_name = $2, canonical_full_name = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, normalized, canonical, time.Now().UTC()); err != nil {
		return fmt.Errorf("update person normalization: %w", err)
	}
	return nil
}

// MergeResult reports what a person merge changed.
type MergeResult struct {
	Survivor             *models.Person
	SurvivorBefore       []byte
	LoserBefore          []byte
	MovedRegistrations   int
	DroppedRegistrations int
}

// Merge consolidates the loser into the survivor atomically: colliding
// registrations are dropped, the rest re-pointed, attributes merged
// non-destructively, the canonical name stamped and the loser tombstoned.
func (r *PersonRepository) Merge(ctx context.Context, survivorID, loserID, canonicalName string) (*MergeResult, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	lockQuery := fmt.Sprintf("SELECT %s FROM persons WHERE id = ANY(ARRAY[$1, $2]) FOR UPDATE", personColumns)
	var locked []models.Person
	if err := tx.SelectContext(ctx, &locked, lockQuery, survivorID, loserID); err != nil {
		return nil, fmt.Errorf("lock merge pair: %w", err)
	}
	var survivor, loser *models.Person
	for i := range locked {
		switch locked[i].ID {
		case survivorID:
			survivor = &locked[i]
		case loserID:
			loser = &locked[i]
		}
	}
	if survivor == nil || loser == nil {
		return nil, sql.ErrNoRows
	}
	if survivor.Tombstone() || loser.Tombstone() {
		return nil, fmt.Errorf("merge pair contains a tombstone")
	}

	survivorBefore, _ := json.Marshal(survivor)
	loserBefore, _ := json.Marshal(loser)
	now := time.Now().UTC()

	const dropQuery = `DELETE FROM registrations r WHERE r.person_id = $1
        AND EXISTS (SELECT 1 FROM registrations s WHERE s.person_id = $2 AND s.activity_id = r.activity_id)`
	dropRes, err := tx.ExecContext(ctx, dropQuery, loserID, survivorID)
	if err != nil {
		return nil, fmt.Errorf("drop colliding registrations: %w", err)
	}
	dropped, _ := dropRes.RowsAffected()

	const moveQuery = `UPDATE registrations SET person_id = $2, updated_at = $3 WHERE person_id = $1`
	moveRes, err := tx.ExecContext(ctx, moveQuery, loserID, survivorID, now)
	if err != nil {
		return nil, fmt.Errorf("repoint registrations: %w", err)
	}
	moved, _ := moveRes.RowsAffected()

	mergePersonAttrs(survivor, loser)
	survivor.CanonicalFullName = canonicalName
	survivor.UpdatedAt = now

	const survivorQuery = `UPDATE persons SET national_id = :national_id, email = :email, career = :career, phone = :phone, canonical_full_name = :canonical_full_name, raw_name_history = :raw_name_history, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, survivorQuery, survivor); err != nil {
		return nil, fmt.Errorf("update survivor: %w", err)
	}

	const tombstoneQuery = `UPDATE persons SET merged_into_id = $2, national_id = NULL, email = NULL, career = NULL, phone = NULL, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, tombstoneQuery, loserID, survivorID, now); err != nil {
		return nil, fmt.Errorf("tombstone loser: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}

	loser.MergedIntoID = &survivor.ID
	return &MergeResult{
		Survivor:             survivor,
		SurvivorBefore:       survivorBefore,
		LoserBefore:          loserBefore,
		MovedRegistrations:   int(moved),
		DroppedRegistrations: int(dropped),
	}, nil
}

// mergePersonAttrs fills the survivor's empty attributes from the loser and
// folds the loser's raw name into the survivor's name history. Non-empty
// survivor attributes are never overwritten.
func mergePersonAttrs(survivor, loser *models.Person) {
	if isEmpty(survivor.NationalID) && !isEmpty(loser.NationalID) {
		survivor.NationalID = loser.NationalID
	}
	if isEmpty(survivor.Email) && !isEmpty(loser.Email) {
		survivor.Email = loser.Email
	}
	if isEmpty(survivor.Career) && !isEmpty(loser.Career) {
		survivor.Career = loser.Career
	}
	if isEmpty(survivor.Phone) && !isEmpty(loser.Phone) {
		survivor.Phone = loser.Phone
	}
	if loser.RawFullName != "" && loser.RawFullName != survivor.RawFullName {
		survivor.RawNameHistory = AppendNameHistory(survivor.RawNameHistory, loser.RawFullName)
	}
	for _, past := range DecodeNameHistory(loser.RawNameHistory) {
		if past != survivor.RawFullName {
			survivor.RawNameHistory = AppendNameHistory(survivor.RawNameHistory, past)
		}
	}
}

// AppendNameHistory adds a name to the JSON history array unless already
// present.
func AppendNameHistory(history []byte, name string) []byte {
	names := DecodeNameHistory(history)
	for _, existing := range names {
		if existing == name {
			return history
		}
	}
	names = append(names, name)
	encoded, err := json.Marshal(names)
	if err != nil {
		return history
	}
	return encoded
}

// DecodeNameHistory parses the JSON history array, tolerating empty input.
func DecodeNameHistory(history []byte) []string {
	if len(history) == 0 {
		return nil
	}
	var names []string
	if err := json.Unmarshal(history, &names); err != nil {
		return nil
	}
	return names
}

func isEmpty(s *string) bool {
	return s == nil || *s == ""
}
