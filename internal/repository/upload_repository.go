package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vinculacion/registro-api/internal/models"
)

const uploadColumns = `id, activity_id, filename, storage_path, headers, mapping, row_count, valid_count, invalid_count, status, aborted_at_row, created_at, completed_at`

// UploadRepository persists upload batches.
type UploadRepository struct {
	db *sqlx.DB
}

// NewUploadRepository constructs an UploadRepository.
func NewUploadRepository(db *sqlx.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Create inserts a batch record.
func (r *UploadRepository) Create(ctx context.Context, batch *models.UploadBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO upload_batches (id, activity_id, filename, storage_path, headers, mapping, row_count, valid_count, invalid_count, status, aborted_at_row, created_at, completed_at)
        VALUES (:id, :activity_id, :filename, :storage_path, :headers, :mapping, :row_count, :valid_count, :invalid_count, :status, :aborted_at_row, :created_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create upload batch: %w", err)
	}
	return nil
}

// FindByID fetches a batch.
func (r *UploadRepository) FindByID(ctx context.Context, id string) (*models.UploadBatch, error) {
	var batch models.UploadBatch
	query := fmt.Sprintf("SELECT %s FROM upload_batches WHERE id = $1", uploadColumns)
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// UpdateStatus advances the batch state machine.
func (r *UploadRepository) UpdateStatus(ctx context.Context, id string, status models.BatchStatus) error {
	const query = `UPDATE upload_batches SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	return nil
}

// Complete stores the final counters and terminal status.
func (r *UploadRepository) Complete(ctx context.Context, batch *models.UploadBatch) error {
	now := time.Now().UTC()
	batch.CompletedAt = &now
	const query = `UPDATE upload_batches SET row_count = :row_count, valid_count = :valid_count, invalid_count = :invalid_count, status = :status, aborted_at_row = :aborted_at_row, completed_at = :completed_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("complete upload batch: %w", err)
	}
	return nil
}

// List returns the most recent batches for an activity.
func (r *UploadRepository) List(ctx context.Context, activityID string, limit int) ([]models.UploadBatch, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf("SELECT %s FROM upload_batches", uploadColumns)
	var args []interface{}
	if activityID != "" {
		query += ` WHERE activity_id = $1`
		args = append(args, activityID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)
	var batches []models.UploadBatch
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, fmt.Errorf("list upload batches: %w", err)
	}
	return batches, nil
}
