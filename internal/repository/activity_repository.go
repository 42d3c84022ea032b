package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vinculacion/registro-api/internal/models"
)

// ActivityRepository manages persistence for activities.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs an ActivityRepository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// FindByID fetches an activity.
func (r *ActivityRepository) FindByID(ctx context.Context, id string) (*models.Activity, error) {
	var activity models.Activity
	const query = `SELECT id, name, strategic_line, year, audience, created_at FROM activities WHERE id = $1`
	if err := r.db.GetContext(ctx, &activity, query, id); err != nil {
		return nil, err
	}
	return &activity, nil
}

// FindByIdentity fetches the activity matching the full caller-supplied
// metadata tuple.
func (r *ActivityRepository) FindByIdentity(ctx context.Context, name, strategicLine string, year int, audience models.Audience) (*models.Activity, error) {
	var activity models.Activity
	const query = `SELECT id, name, strategic_line, year, audience, created_at FROM activities
        WHERE name = $1 AND strategic_line = $2 AND year = $3 AND audience = $4`
	if err := r.db.GetContext(ctx, &activity, query, name, strategicLine, year, audience); err != nil {
		return nil, err
	}
	return &activity, nil
}

// Create inserts a new activity.
func (r *ActivityRepository) Create(ctx context.Context, activity *models.Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO activities (id, name, strategic_line, year, audience, created_at)
        VALUES (:id, :name, :strategic_line, :year, :audience, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, activity); err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	return nil
}

// List returns activities ordered by year then name.
func (r *ActivityRepository) List(ctx context.Context, year int) ([]models.Activity, error) {
	query := `SELECT id, name, strategic_line, year, audience, created_at FROM activities`
	var args []interface{}
	if year > 0 {
		query += ` WHERE year = $1`
		args = append(args, year)
	}
	query += ` ORDER BY year DESC, name ASC`
	var activities []models.Activity
	if err := r.db.SelectContext(ctx, &activities, query, args...); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return activities, nil
}
