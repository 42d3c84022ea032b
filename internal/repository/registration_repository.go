package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vinculacion/registro-api/internal/models"
)

const registrationColumns = `id, person_id, activity_id, source, attended, validation_errors, extras, batch_id, created_at, updated_at`

// RegistrationRepository manages the append-only registration store.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// InsertIdempotent inserts the registration unless the (person, activity)
// pair already exists. It returns the stored row and whether an insert
// actually happened.
func (r *RegistrationRepository) InsertIdempotent(ctx context.Context, registration *models.Registration) (*models.Registration, bool, error) {
	if registration.ID == "" {
		registration.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if registration.CreatedAt.IsZero() {
		registration.CreatedAt = now
	}
	registration.UpdatedAt = now
	if registration.Attended == "" {
		registration.Attended = models.AttendanceUnknown
	}

	const query = `INSERT INTO registrations (id, person_id, activity_id, source, attended, validation_errors, extras, batch_id, created_at, updated_at)
        VALUES (:id, :person_id, :activity_id, :source, :attended, :validation_errors, :extras, :batch_id, :created_at, :updated_at)
        ON CONFLICT (person_id, activity_id) DO NOTHING`
	result, err := r.db.NamedExecContext(ctx, query, registration)
	if err != nil {
		return nil, false, fmt.Errorf("insert registration: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		return registration, true, nil
	}

	existing, err := r.FindByPersonAndActivity(ctx, registration.PersonID, registration.ActivityID)
	if err != nil {
		return nil, false, fmt.Errorf("load existing registration: %w", err)
	}
	return existing, false, nil
}

// FindByID fetches one registration.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	var registration models.Registration
	query := fmt.Sprintf("SELECT %s FROM registrations WHERE id = $1", registrationColumns)
	if err := r.db.GetContext(ctx, &registration, query, id); err != nil {
		return nil, err
	}
	return &registration, nil
}

// FindByPersonAndActivity fetches the unique row for the pair.
func (r *RegistrationRepository) FindByPersonAndActivity(ctx context.Context, personID, activityID string) (*models.Registration, error) {
	var registration models.Registration
	query := fmt.Sprintf("SELECT %s FROM registrations WHERE person_id = $1 AND activity_id = $2", registrationColumns)
	if err := r.db.GetContext(ctx, &registration, query, personID, activityID); err != nil {
		return nil, err
	}
	return &registration, nil
}

// List returns registrations matching the filter with their person and
// activity context.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	base := `FROM registrations r
        JOIN persons p ON p.id = r.person_id
        JOIN activities a ON a.id = r.activity_id`
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.ActivityID != "" {
		args = append(args, filter.ActivityID)
		conditions = append(conditions, fmt.Sprintf("r.activity_id = $%d", len(args)))
	}
	if filter.PersonID != "" {
		args = append(args, filter.PersonID)
		conditions = append(conditions, fmt.Sprintf("r.person_id = $%d", len(args)))
	}
	if filter.Attended != nil {
		args = append(args, *filter.Attended)
		conditions = append(conditions, fmt.Sprintf("r.attended = $%d", len(args)))
	}
	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT r.id, r.person_id, r.activity_id, r.source, r.attended, r.validation_errors, r.extras, r.batch_id, r.created_at, r.updated_at,
        COALESCE(NULLIF(p.canonical_full_name, ''), p.normalized_full_name) AS person_name,
        a.name AS activity_name, a.strategic_line, a.year, a.audience
        %s ORDER BY r.created_at ASC, r.id ASC LIMIT %d OFFSET %d`, base, size, offset)

	var details []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &details, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}
	return details, total, nil
}

// ListByBatch returns the batch's registrations in insertion order for the
// enriched export.
func (r *RegistrationRepository) ListByBatch(ctx context.Context, batchID string) ([]models.RegistrationDetail, error) {
	query := `SELECT r.id, r.person_id, r.activity_id, r.source, r.attended, r.validation_errors, r.extras, r.batch_id, r.created_at, r.updated_at,
        COALESCE(NULLIF(p.canonical_full_name, ''), p.normalized_full_name) AS person_name,
        a.name AS activity_name, a.strategic_line, a.year, a.audience
        FROM registrations r
        JOIN persons p ON p.id = r.person_id
        JOIN activities a ON a.id = r.activity_id
        WHERE r.batch_id = $1
        ORDER BY r.created_at ASC, r.id ASC`
	var details []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &details, query, batchID); err != nil {
		return nil, fmt.Errorf("list batch registrations: %w", err)
	}
	return details, nil
}

// UpdateAttendance flips the attended flag and returns the prior value
// alongside the updated row.
func (r *RegistrationRepository) UpdateAttendance(ctx context.Context, id string, value models.Attendance) (*models.Registration, models.Attendance, error) {
	prior, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	const query = `UPDATE registrations SET attended = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, value, time.Now().UTC()); err != nil {
		return nil, "", fmt.Errorf("update attendance: %w", err)
	}
	updated := *prior
	updated.Attended = value
	return &updated, prior.Attended, nil
}

// BulkUpdateAttendance applies the same attendance value to every listed
// registration of the activity, atomically.
func (r *RegistrationRepository) BulkUpdateAttendance(ctx context.Context, activityID string, ids []string, value models.Attendance) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin bulk attendance: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query, args, err := sqlx.In(`UPDATE registrations SET attended = ?, updated_at = ? WHERE activity_id = ? AND id IN (?)`,
		value, time.Now().UTC(), activityID, ids)
	if err != nil {
		return 0, fmt.Errorf("build bulk attendance query: %w", err)
	}
	result, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("bulk update attendance: %w", err)
	}
	affected, _ := result.RowsAffected()
	if int(affected) != len(ids) {
		return 0, fmt.Errorf("bulk attendance matched %d of %d registrations", affected, len(ids))
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk attendance: %w", err)
	}
	return int(affected), nil
}

// UpdateValidationErrors rewrites the tag list after an administrative edit
// re-ran the validator.
func (r *RegistrationRepository) UpdateValidationErrors(ctx context.Context, id string, tags *string) error {
	const query = `UPDATE registrations SET validation_errors = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, tags, time.Now().UTC()); err != nil {
		return fmt.Errorf("update validation errors: %w", err)
	}
	return nil
}
