package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/normalize"
	"github.com/vinculacion/registro-api/pkg/config"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
	"github.com/vinculacion/registro-api/pkg/jobs"
)

type dedupPersonStore interface {
	ListActive(ctx context.Context) ([]models.Person, error)
}

type reviewQueueStore interface {
	InsertPending(ctx context.Context, item *models.ReviewItem) (bool, error)
	ExistingPairs(ctx context.Context) (map[string]models.ReviewStatus, error)
	Stats(ctx context.Context) (*models.DuplicateStats, error)
}

// ScanResult summarises one detector run.
type ScanResult struct {
	PersonsScanned int `json:"persons_scanned"`
	BlocksBuilt    int `json:"blocks_built"`
	PairsCompared  int `json:"pairs_compared"`
	ItemsCreated   int `json:"items_created"`
	PairsSkipped   int `json:"pairs_skipped"`
}

// DedupService runs the blocked fuzzy pass over the registry and feeds the
// review queue. Blocking keeps the comparison count near
// O(N * average_block_size); the full quadratic pass is never taken.
type DedupService struct {
	persons dedupPersonStore
	reviews reviewQueueStore
	cfg     config.DedupConfig
	queue   *jobs.Queue
	logger  *zap.Logger
}

// NewDedupService constructs DedupService.
func NewDedupService(persons dedupPersonStore, reviews reviewQueueStore, cfg config.DedupConfig, logger *zap.Logger) *DedupService {
	if cfg.ReviewThreshold <= 0 || cfg.ReviewThreshold > 100 {
		cfg.ReviewThreshold = 88
	}
	if cfg.BlockKeyLength <= 0 {
		cfg.BlockKeyLength = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DedupService{persons: persons, reviews: reviews, cfg: cfg, logger: logger}
}

// StartWorker attaches a background queue so scans can run asynchronously
// after uploads.
func (s *DedupService) StartWorker(ctx context.Context) {
	s.queue = jobs.NewQueue("dedup-scan", func(ctx context.Context, job jobs.Job) error {
		result, err := s.Scan(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("duplicate scan finished",
			zap.String("job_id", job.ID),
			zap.Int("pairs_compared", result.PairsCompared),
			zap.Int("items_created", result.ItemsCreated),
		)
		return nil
	}, jobs.QueueConfig{
		Workers:    s.cfg.WorkerConcurrency,
		MaxRetries: s.cfg.WorkerRetries,
		RetryDelay: 5 * time.Second,
		Logger:     s.logger,
	})
	s.queue.Start(ctx)
}

// StopWorker drains the background queue.
func (s *DedupService) StopWorker() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

// EnqueueScan schedules an asynchronous detector run.
func (s *DedupService) EnqueueScan(reason string) error {
	if s.queue == nil {
		return appErrors.Clone(appErrors.ErrInternal, "dedup worker not started")
	}
	return s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: "scan", Payload: reason})
}

// Scan walks the registry once. Re-running over unchanged data creates no
// new items: every candidate pair already present in the queue, terminal or
// pending, is skipped. The run is cancellable at block boundaries.
func (s *DedupService) Scan(ctx context.Context) (*ScanResult, error) {
	persons, err := s.persons.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list persons for scan")
	}
	known, err := s.reviews.ExistingPairs(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing review pairs")
	}

	blocks := s.buildBlocks(persons)
	result := &ScanResult{PersonsScanned: len(persons), BlocksBuilt: len(blocks)}
	seen := make(map[string]bool)

	for _, members := range blocks {
		if err := ctx.Err(); err != nil {
			return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "scan cancelled")
		}
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				a, b := members[i], members[j]
				if a.ID == b.ID || a.Audience != b.Audience {
					continue
				}
				left, right := models.OrderedPair(a.ID, b.ID)
				pairKey := left + "|" + right
				if seen[pairKey] {
					continue
				}
				seen[pairKey] = true
				if _, exists := known[pairKey]; exists {
					result.PairsSkipped++
					continue
				}

				result.PairsCompared++
				score := normalize.Similarity(a.DisplayName(), b.DisplayName())
				if score < s.cfg.ReviewThreshold {
					continue
				}
				item := &models.ReviewItem{
					LeftPersonID:  left,
					RightPersonID: right,
					Similarity:    score,
					Audience:      a.Audience,
				}
				created, err := s.reviews.InsertPending(ctx, item)
				if err != nil {
					return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue review item")
				}
				if created {
					result.ItemsCreated++
				}
			}
		}
	}

	s.logger.Info("duplicate detection pass",
		zap.Int("persons", result.PersonsScanned),
		zap.Int("blocks", result.BlocksBuilt),
		zap.Int("compared", result.PairsCompared),
		zap.Int("created", result.ItemsCreated),
	)
	return result, nil
}

// Stats summarises the queue and registry.
func (s *DedupService) Stats(ctx context.Context) (*models.DuplicateStats, error) {
	stats, err := s.reviews.Stats(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute duplicate stats")
	}
	return stats, nil
}

// buildBlocks assigns each person to its blocking keys: name-token prefixes,
// email local-part prefix and folded career. A pair is only compared when it
// shares at least one block.
func (s *DedupService) buildBlocks(persons []models.Person) map[string][]models.Person {
	blocks := make(map[string][]models.Person)
	add := func(key string, p models.Person) {
		if key == "" {
			return
		}
		blocks[key] = append(blocks[key], p)
	}
	for _, p := range persons {
		if key := s.nameBlockKey(p.DisplayName()); key != "" {
			add("name:"+key, p)
		}
		if p.Email != nil {
			if local := normalize.EmailLocalPart(*p.Email); local != "" {
				add("email:"+prefix(local, s.cfg.BlockKeyLength), p)
			}
		}
		if p.Career != nil {
			if career := normalize.Fold(*p.Career); career != "" {
				add("career:"+career, p)
			}
		}
	}
	return blocks
}

// nameBlockKey combines the prefixes of the first and last name tokens.
func (s *DedupService) nameBlockKey(name string) string {
	tokens := strings.Fields(normalize.Fold(name))
	if len(tokens) == 0 {
		return ""
	}
	first := prefix(tokens[0], s.cfg.BlockKeyLength)
	last := prefix(tokens[len(tokens)-1], s.cfg.BlockKeyLength)
	return first + "/" + last
}

func prefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
