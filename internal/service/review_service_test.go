package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vinculacion/registro-api/internal/models"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
)

type reviewFixture struct {
	store    *memStore
	registry *RegistryService
	reviews  *ReviewService
	dedup    *DedupService
}

func newReviewFixture() *reviewFixture {
	store := newMemStore()
	registry := NewRegistryService(memPersons{s: store}, memAudit{s: store}, nil, zap.NewNop())
	reviews := NewReviewService(memReviews{s: store}, registry, memAudit{s: store}, nil, zap.NewNop())
	dedup := newDedupFixture(store)
	return &reviewFixture{store: store, registry: registry, reviews: reviews, dedup: dedup}
}

func (f *reviewFixture) pendingItem(t *testing.T) *models.ReviewItem {
	t.Helper()
	for _, item := range f.store.reviews {
		if item.Status == models.ReviewPending {
			clone := *item
			return &clone
		}
	}
	t.Fatal("no pending review item")
	return nil
}

// Cross-file merge: two uploads created near-identical persons, the
// detector flags them, the operator accepts with a canonical name.
func TestAcceptMergesPair(t *testing.T) {
	f := newReviewFixture()
	p1 := seedPerson(f.store, "juan perez", "11111111-1", "")
	p2 := seedPerson(f.store, "juan perez", "", "juan@uni.cl")
	f.store.persons[p2.ID].RawFullName = "Juán Pérez"

	regs := memRegistrations{s: f.store}
	_, _, err := regs.InsertIdempotent(context.Background(), &models.Registration{PersonID: p2.ID, ActivityID: "act-b", Source: models.SourceCSV})
	require.NoError(t, err)

	_, err = f.dedup.Scan(context.Background())
	require.NoError(t, err)
	item := f.pendingItem(t)
	assert.GreaterOrEqual(t, item.Similarity, 88)

	decided, err := f.reviews.Decide(context.Background(), item.ID, DecideRequest{
		Decision:          models.DecisionAccept,
		CanonicalPersonID: p1.ID,
		CanonicalName:     "Juan Pérez",
		DecidedBy:         "operator@uni.cl",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewAccepted, decided.Status)
	require.NotNil(t, decided.DecidedAt)

	tombstone := f.store.persons[p2.ID]
	require.NotNil(t, tombstone.MergedIntoID)
	assert.Equal(t, p1.ID, *tombstone.MergedIntoID)
	assert.Equal(t, "Juan Pérez", f.store.persons[p1.ID].CanonicalFullName)
	for _, reg := range f.store.registrations {
		assert.Equal(t, p1.ID, reg.PersonID)
	}
}

func TestAcceptRejectsCanonicalOutsidePair(t *testing.T) {
	f := newReviewFixture()
	seedPerson(f.store, "juan perez", "", "jp1@uni.cl")
	seedPerson(f.store, "juan perez", "", "jp2@uni.cl")
	outsider := seedPerson(f.store, "other person", "", "other@uni.cl")

	_, err := f.dedup.Scan(context.Background())
	require.NoError(t, err)
	item := f.pendingItem(t)

	_, err = f.reviews.Decide(context.Background(), item.ID, DecideRequest{
		Decision:          models.DecisionAccept,
		CanonicalPersonID: outsider.ID,
		CanonicalName:     "Whoever",
		DecidedBy:         "operator",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrCanonicalNotInPair.Code, appErr.Code)
}

func TestRejectAndSkipAreTerminal(t *testing.T) {
	f := newReviewFixture()
	seedPerson(f.store, "juan perez", "", "jp1@uni.cl")
	seedPerson(f.store, "juan perez", "", "jp2@uni.cl")
	_, err := f.dedup.Scan(context.Background())
	require.NoError(t, err)
	item := f.pendingItem(t)

	decided, err := f.reviews.Decide(context.Background(), item.ID, DecideRequest{Decision: models.DecisionReject, DecidedBy: "op"})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewRejected, decided.Status)

	// Re-applying the same decision is idempotent.
	again, err := f.reviews.Decide(context.Background(), item.ID, DecideRequest{Decision: models.DecisionReject, DecidedBy: "op"})
	require.NoError(t, err)
	assert.Equal(t, models.ReviewRejected, again.Status)

	// A different decision on a terminal item is refused.
	_, err = f.reviews.Decide(context.Background(), item.ID, DecideRequest{Decision: models.DecisionSkip, DecidedBy: "op"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrItemNotPending.Code, appErr.Code)
}

func TestDecideVersionConflict(t *testing.T) {
	f := newReviewFixture()
	seedPerson(f.store, "juan perez", "", "jp1@uni.cl")
	seedPerson(f.store, "juan perez", "", "jp2@uni.cl")
	_, err := f.dedup.Scan(context.Background())
	require.NoError(t, err)

	// Hold a stale copy, let another operator win the race, then write.
	stale := f.pendingItem(t)
	op := "op"
	stale.DecidedBy = &op
	queue := memReviews{s: f.store}
	applied, err := queue.Decide(context.Background(), f.pendingItem(t), models.ReviewSkipped)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = queue.Decide(context.Background(), stale, models.ReviewRejected)
	require.NoError(t, err)
	assert.False(t, applied, "stale version must observe a conflict")
}

func TestListFiltersAndOrders(t *testing.T) {
	f := newReviewFixture()
	seedPerson(f.store, "juan perez", "", "jp1@uni.cl")
	seedPerson(f.store, "juan perez", "", "jp2@uni.cl")
	seedPerson(f.store, "maria soto", "", "ms1@uni.cl")
	seedPerson(f.store, "maria soto", "", "ms2@uni.cl")
	_, err := f.dedup.Scan(context.Background())
	require.NoError(t, err)

	pending := models.ReviewPending
	items, pagination, err := f.reviews.List(context.Background(), models.ReviewFilter{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, len(items), pagination.TotalCount)
	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1].Similarity, items[i].Similarity)
	}
}
