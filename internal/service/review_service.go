package service

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vinculacion/registro-api/internal/models"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
)

type reviewStore interface {
	FindByID(ctx context.Context, id string) (*models.ReviewItem, error)
	List(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewItem, int, error)
	Decide(ctx context.Context, item *models.ReviewItem, status models.ReviewStatus) (bool, error)
}

type personMerger interface {
	Merge(ctx context.Context, survivorID, loserID, canonicalName, actor string) (*models.Person, error)
}

// ReviewService owns the adjudication queue state machine. Decisions use
// optimistic concurrency on the item version; a losing writer observes
// merge.conflict and re-reads.
type ReviewService struct {
	repo     reviewStore
	registry personMerger
	audit    auditLogger
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewReviewService constructs ReviewService.
func NewReviewService(repo reviewStore, registry personMerger, audit auditLogger, metrics *MetricsService, logger *zap.Logger) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{repo: repo, registry: registry, audit: audit, metrics: metrics, logger: logger}
}

// List returns queue items with stable pagination.
func (s *ReviewService) List(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewItem, *models.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list review items")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get fetches one item.
func (s *ReviewService) Get(ctx context.Context, id string) (*models.ReviewItem, error) {
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review item not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load review item")
	}
	return item, nil
}

// DecideRequest carries an operator verdict.
type DecideRequest struct {
	Decision          models.ReviewDecision `json:"decision"`
	CanonicalPersonID string                `json:"canonical_person_id"`
	CanonicalName     string                `json:"canonical_name"`
	DecidedBy         string                `json:"decided_by"`
}

// Decide applies a verdict to a pending item. Accept merges the loser into
// the chosen survivor before the item turns terminal. Re-applying the same
// decision to a terminal item returns the terminal state without effect.
func (s *ReviewService) Decide(ctx context.Context, itemID string, req DecideRequest) (*models.ReviewItem, error) {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if item.Status.Terminal() {
		if decisionFor(item.Status) == req.Decision {
			return item, nil
		}
		return nil, appErrors.ErrItemNotPending
	}

	switch req.Decision {
	case models.DecisionAccept:
		return s.accept(ctx, item, req)
	case models.DecisionReject:
		return s.finish(ctx, item, models.ReviewRejected, req)
	case models.DecisionSkip:
		return s.finish(ctx, item, models.ReviewSkipped, req)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must be accept, reject or skip")
	}
}

func (s *ReviewService) accept(ctx context.Context, item *models.ReviewItem, req DecideRequest) (*models.ReviewItem, error) {
	if req.CanonicalPersonID != item.LeftPersonID && req.CanonicalPersonID != item.RightPersonID {
		return nil, appErrors.ErrCanonicalNotInPair
	}
	if req.CanonicalName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "canonical name is required")
	}
	loser := item.LeftPersonID
	if req.CanonicalPersonID == item.LeftPersonID {
		loser = item.RightPersonID
	}

	if _, err := s.registry.Merge(ctx, req.CanonicalPersonID, loser, req.CanonicalName, req.DecidedBy); err != nil {
		return nil, err
	}

	item.CanonicalPersonID = &req.CanonicalPersonID
	item.CanonicalName = &req.CanonicalName
	item.DecidedBy = &req.DecidedBy
	applied, err := s.repo.Decide(ctx, item, models.ReviewAccepted)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist decision")
	}
	if !applied {
		return nil, appErrors.ErrMergeConflict
	}

	s.metrics.CountDecision(string(models.DecisionAccept))
	s.emitDecisionAudit(ctx, item, req)
	return item, nil
}

func (s *ReviewService) finish(ctx context.Context, item *models.ReviewItem, status models.ReviewStatus, req DecideRequest) (*models.ReviewItem, error) {
	item.DecidedBy = &req.DecidedBy
	applied, err := s.repo.Decide(ctx, item, status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist decision")
	}
	if !applied {
		return nil, appErrors.ErrMergeConflict
	}
	s.metrics.CountDecision(string(req.Decision))
	s.emitDecisionAudit(ctx, item, req)
	return item, nil
}

func decisionFor(status models.ReviewStatus) models.ReviewDecision {
	switch status {
	case models.ReviewAccepted:
		return models.DecisionAccept
	case models.ReviewRejected:
		return models.DecisionReject
	case models.ReviewSkipped:
		return models.DecisionSkip
	default:
		return ""
	}
}

func (s *ReviewService) emitDecisionAudit(ctx context.Context, item *models.ReviewItem, req DecideRequest) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(item)
	log := &models.AuditLog{
		Actor:      req.DecidedBy,
		Action:     models.AuditActionReviewDecision,
		Resource:   "review_item",
		ResourceID: &item.ID,
		NewValues:  payload,
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("emit review audit", zap.Error(err))
	}
}
