package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vinculacion/registro-api/internal/models"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
)

type indicatorsStore interface {
	Aggregate(ctx context.Context, filter models.IndicatorFilter) ([]models.IndicatorRow, error)
}

// IndicatorsService computes read-only participation aggregates over the
// post-merge registry. Results are cached with an explicit invalidation hook
// called after accepted merges and attendance toggles. Ingest commits do not
// call it; registrations they add show up once cached entries expire.
type IndicatorsService struct {
	repo    indicatorsStore
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
}

// NewIndicatorsService constructs an indicators service.
func NewIndicatorsService(repo indicatorsStore, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *IndicatorsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndicatorsService{repo: repo, cache: cache, metrics: metrics, logger: logger}
}

// Query aggregates registrations over the requested dimension set. The
// boolean indicates whether data originated from cache.
func (s *IndicatorsService) Query(ctx context.Context, filter models.IndicatorFilter) ([]models.IndicatorRow, bool, error) {
	seen := make(map[models.IndicatorDimension]bool, len(filter.Dimensions))
	for _, dim := range filter.Dimensions {
		if !dim.Valid() {
			return nil, false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown dimension %q", dim))
		}
		if seen[dim] {
			return nil, false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("dimension %q repeated", dim))
		}
		seen[dim] = true
	}

	cacheKey := indicatorsCacheKey(filter)
	var cached []models.IndicatorRow
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return cached, true, nil
	}

	start := time.Now()
	rows, err := s.repo.Aggregate(ctx, filter)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate indicators")
	}
	s.metrics.ObserveDBQuery("indicators_aggregate", time.Since(start))

	for i := range rows {
		if rows[i].Registrations > 0 {
			rate := math.Round(float64(rows[i].Participations)/float64(rows[i].Registrations)*100) / 100
			rows[i].ConversionRate = &rate
		}
	}

	if err := s.cache.Set(ctx, cacheKey, rows, 0); err != nil {
		s.logger.Warn("cache indicators", zap.Error(err))
	}
	return rows, false, nil
}

// Invalidate drops cached indicator results. The registration and review
// handlers invoke it after attendance toggles and accepted merges.
func (s *IndicatorsService) Invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "indicators:*"); err != nil {
		s.logger.Warn("invalidate indicators cache", zap.Error(err))
	}
}

func indicatorsCacheKey(filter models.IndicatorFilter) string {
	dims := make([]string, len(filter.Dimensions))
	for i, d := range filter.Dimensions {
		dims[i] = string(d)
	}
	var builder strings.Builder
	builder.WriteString("indicators:")
	builder.WriteString(strings.Join(dims, "+"))
	if filter.ActivityID != "" {
		builder.WriteString(":activity=")
		builder.WriteString(filter.ActivityID)
	}
	return builder.String()
}
