package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vinculacion/registro-api/internal/models"
)

const reviewColumns = `id, left_person_id, right_person_id, similarity, audience, status, version, canonical_name, canonical_person_id, decided_by, decided_at, created_at`

// ReviewRepository manages the duplicate adjudication queue.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository constructs a ReviewRepository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// InsertPending enqueues a pending item for the unordered pair unless one
// already exists. Returns whether a row was created.
func (r *ReviewRepository) InsertPending(ctx context.Context, item *models.ReviewItem) (bool, error) {
	item.LeftPersonID, item.RightPersonID = models.OrderedPair(item.LeftPersonID, item.RightPersonID)
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Status = models.ReviewPending
	item.Version = 1

	const query = `INSERT INTO review_items (id, left_person_id, right_person_id, similarity, audience, status, version, created_at)
        VALUES (:id, :left_person_id, :right_person_id, :similarity, :audience, :status, :version, :created_at)
        ON CONFLICT (left_person_id, right_person_id) DO NOTHING`
	result, err := r.db.NamedExecContext(ctx, query, item)
	if err != nil {
		return false, fmt.Errorf("insert review item: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// FindByID fetches one item.
func (r *ReviewRepository) FindByID(ctx context.Context, id string) (*models.ReviewItem, error) {
	var item models.ReviewItem
	query := fmt.Sprintf("SELECT %s FROM review_items WHERE id = $1", reviewColumns)
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// FindByPair fetches the item for the unordered pair, if any.
func (r *ReviewRepository) FindByPair(ctx context.Context, a, b string) (*models.ReviewItem, error) {
	left, right := models.OrderedPair(a, b)
	var item models.ReviewItem
	query := fmt.Sprintf("SELECT %s FROM review_items WHERE left_person_id = $1 AND right_person_id = $2", reviewColumns)
	if err := r.db.GetContext(ctx, &item, query, left, right); err != nil {
		return nil, err
	}
	return &item, nil
}

// ExistingPairs returns the set of pairs already recorded, keyed
// "left|right", so detector re-runs skip them without per-pair queries.
func (r *ReviewRepository) ExistingPairs(ctx context.Context) (map[string]models.ReviewStatus, error) {
	const query = `SELECT left_person_id, right_person_id, status FROM review_items`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load review pairs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	pairs := make(map[string]models.ReviewStatus)
	for rows.Next() {
		var left, right string
		var status models.ReviewStatus
		if err := rows.Scan(&left, &right, &status); err != nil {
			return nil, fmt.Errorf("scan review pair: %w", err)
		}
		pairs[left+"|"+right] = status
	}
	return pairs, rows.Err()
}

// List returns items matching the filter with stable pagination by
// (similarity desc, id asc).
func (r *ReviewRepository) List(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewItem, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Audience != nil {
		args = append(args, *filter.Audience)
		conditions = append(conditions, fmt.Sprintf("audience = $%d", len(args)))
	}
	if filter.MinSimilarity != nil {
		args = append(args, *filter.MinSimilarity)
		conditions = append(conditions, fmt.Sprintf("similarity >= $%d", len(args)))
	}
	if filter.MaxSimilarity != nil {
		args = append(args, *filter.MaxSimilarity)
		conditions = append(conditions, fmt.Sprintf("similarity <= $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM review_items WHERE %s ORDER BY similarity DESC, id ASC LIMIT %d OFFSET %d",
		reviewColumns, where, size, offset)
	var items []models.ReviewItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list review items: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM review_items WHERE %s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count review items: %w", err)
	}
	return items, total, nil
}

// Decide transitions a pending item to a terminal status guarded by the
// optimistic version. It reports false when another decision won the race.
func (r *ReviewRepository) Decide(ctx context.Context, item *models.ReviewItem, status models.ReviewStatus) (bool, error) {
	now := time.Now().UTC()
	const query = `UPDATE review_items
        SET status = $3, version = version + 1, canonical_name = $4, canonical_person_id = $5, decided_by = $6, decided_at = $7
        WHERE id = $1 AND version = $2 AND status = 'pending'`
	result, err := r.db.ExecContext(ctx, query, item.ID, item.Version, status, item.CanonicalName, item.CanonicalPersonID, item.DecidedBy, now)
	if err != nil {
		return false, fmt.Errorf("decide review item: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	item.Status = status
	item.Version++
	item.DecidedAt = &now
	return true, nil
}

// Stats aggregates the queue and registry for the data-quality view.
func (r *ReviewRepository) Stats(ctx context.Context) (*models.DuplicateStats, error) {
	const query = `SELECT
        (SELECT COUNT(*) FROM persons WHERE merged_into_id IS NULL) AS total_persons,
        (SELECT COUNT(*) FROM persons WHERE merged_into_id IS NOT NULL) AS tombstones,
        (SELECT COUNT(*) FROM review_items WHERE status = 'pending') AS pending_items,
        (SELECT COUNT(*) FROM review_items WHERE status = 'accepted') AS accepted_items,
        (SELECT COUNT(*) FROM review_items WHERE status = 'rejected') AS rejected_items,
        (SELECT COUNT(*) FROM review_items WHERE status = 'skipped') AS skipped_items`
	var stats models.DuplicateStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("duplicate stats: %w", err)
	}
	return &stats, nil
}
