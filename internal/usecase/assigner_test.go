package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newspulse/newspulse/internal/cluster"
	"github.com/newspulse/newspulse/internal/datelock"
	"github.com/newspulse/newspulse/internal/domain"
	"github.com/newspulse/newspulse/internal/infrastructure/storage"
	"github.com/newspulse/newspulse/internal/logging"
	"github.com/newspulse/newspulse/internal/ports"
	"github.com/newspulse/newspulse/internal/vecmath"
)

func newTestAssigner(store ports.TopicStore, locks *datelock.Keyed, opts AssignerOptions) *Assigner {
	if locks == nil {
		locks = datelock.NewKeyed()
	}
	if opts.Lookback == 0 {
		opts.Lookback = time.Hour
	}
	return NewAssigner(AssignerDeps{
		Store:  store,
		Locks:  locks,
		Logger: logging.Discard(),
	}, opts)
}

func seedTopics(t *testing.T, store ports.TopicStore, centroids map[string][]float32) int64 {
	t.Helper()

	rev := domain.TopicRevision{Date: testDate}
	rank := 1
	for id, c := range centroids {
		rev.Topics = append(rev.Topics, domain.Topic{
			ID:           id,
			Date:         testDate,
			Title:        "seed " + id,
			Rank:         rank,
			Centroid:     c,
			ArticleCount: 1,
			IsActive:     true,
		})
		rank++
	}
	require.NoError(t, store.ReplaceTopics(context.Background(), rev))

	set, err := store.TopicSet(context.Background(), testDate)
	require.NoError(t, err)
	return set.Version
}

func mappingsByArticle(t *testing.T, store ports.TopicStore) map[string]domain.TopicArticleMapping {
	t.Helper()

	mappings, err := store.MappingsForDate(context.Background(), testDate)
	require.NoError(t, err)
	out := make(map[string]domain.TopicArticleMapping, len(mappings))
	for _, m := range mappings {
		out[m.ArticleID] = m
	}
	return out
}

func TestRunBatchAssignsAndPends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()

	seedTopics(t, store, map[string][]float32{
		"t1": {1, 0, 0},
		"t2": {0, 1, 0},
	})

	near1 := []float32{0.9, 0.1, 0}
	near2 := []float32{0.1, 0.9, 0}
	outlier := []float32{0.3, 0.3, 0.9}
	require.NoError(t, store.SaveArticles(ctx, []domain.Article{
		testArticle("a1", near1, now),
		testArticle("a2", near2, now),
		testArticle("a3", outlier, now),
	}))

	asg := newTestAssigner(store, nil, AssignerOptions{})
	asg.now = func() time.Time { return now }

	stats, err := asg.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Articles: 3, Assigned: 2, Pending: 1}, stats)

	byArticle := mappingsByArticle(t, store)
	require.Len(t, byArticle, 2)
	assert.Equal(t, "t1", byArticle["a1"].TopicID)
	assert.Equal(t, "t2", byArticle["a2"].TopicID)
	assert.InDelta(t, vecmath.Cosine(near1, []float32{1, 0, 0}), byArticle["a1"].Similarity, 1e-9)

	// The matched topic's centroid moved a tenth of the way toward the
	// new article; its count grew by one.
	set, err := store.TopicSet(ctx, testDate)
	require.NoError(t, err)
	for _, topic := range set.Topics {
		if topic.ID != "t1" {
			continue
		}
		assert.InDelta(t, 0.99, topic.Centroid[0], 1e-6)
		assert.InDelta(t, 0.01, topic.Centroid[1], 1e-6)
		assert.InDelta(t, 0, topic.Centroid[2], 1e-6)
		assert.Equal(t, 2, topic.ArticleCount)
	}

	// The outlier is pending with the best similarity it saw.
	pending, err := store.PendingForDate(ctx, testDate)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a3", pending[0].ArticleID)
	assert.Equal(t, domain.ReasonBelowThreshold, pending[0].Reason)
	assert.InDelta(t, vecmath.Cosine(outlier, []float32{1, 0, 0}), pending[0].MaxSimilarity, 1e-9)
}

func TestRunBatchNoTopicsPendsAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()

	require.NoError(t, store.SaveArticles(ctx, []domain.Article{
		testArticle("a1", []float32{1, 0, 0}, now),
		testArticle("a2", []float32{0, 1, 0}, now),
	}))

	asg := newTestAssigner(store, nil, AssignerOptions{})
	asg.now = func() time.Time { return now }

	stats, err := asg.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Articles: 2, Pending: 2}, stats)

	pending, err := store.PendingForDate(ctx, testDate)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, p := range pending {
		assert.Equal(t, domain.ReasonNoTopics, p.Reason)
		assert.Zero(t, p.MaxSimilarity)
	}
}

func TestRunBatchIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()

	seedTopics(t, store, map[string][]float32{"t1": {1, 0, 0}})
	require.NoError(t, store.SaveArticles(ctx, []domain.Article{
		testArticle("a1", []float32{0.9, 0.1, 0}, now),
		testArticle("a2", []float32{0, 0, 1}, now),
	}))

	asg := newTestAssigner(store, nil, AssignerOptions{})
	asg.now = func() time.Time { return now }

	first, err := asg.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Articles: 2, Assigned: 1, Pending: 1}, first)

	set, err := store.TopicSet(ctx, testDate)
	require.NoError(t, err)
	countAfterFirst := set.Topics[0].ArticleCount

	// A second run only re-sees the pending article; the assigned one is
	// mapped and excluded, so nothing is double-counted.
	second, err := asg.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Articles: 1, Pending: 1}, second)

	set, err = store.TopicSet(ctx, testDate)
	require.NoError(t, err)
	assert.Equal(t, countAfterFirst, set.Topics[0].ArticleCount)

	pending, err := store.PendingForDate(ctx, testDate)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRunBatchChainsCentroidUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()

	seedTopics(t, store, map[string][]float32{"t1": {1, 0, 0}})
	e1 := []float32{0.8, 0.2, 0}
	e2 := []float32{0.8, 0, 0.2}
	require.NoError(t, store.SaveArticles(ctx, []domain.Article{
		testArticle("a1", e1, now),
		testArticle("a2", e2, now),
	}))

	asg := newTestAssigner(store, nil, AssignerOptions{CentroidUpdateWeight: 0.5})
	asg.now = func() time.Time { return now }

	stats, err := asg.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Assigned)

	// The second update starts from the first one's result, not from the
	// batch-start centroid.
	want := vecmath.UpdateEMA(vecmath.UpdateEMA([]float32{1, 0, 0}, e1, 0.5), e2, 0.5)
	set, err := store.TopicSet(ctx, testDate)
	require.NoError(t, err)
	require.Len(t, set.Topics, 1)
	for i := range want {
		assert.InDelta(t, want[i], set.Topics[0].Centroid[i], 1e-6)
	}
	assert.Equal(t, 3, set.Topics[0].ArticleCount)
}

// supersedingStore swaps in a new topic revision just before the first
// assignment lands, simulating a clustering pass racing the batch.
type supersedingStore struct {
	*storage.MemoryStore
	once sync.Once
	rev  domain.TopicRevision
}

func (s *supersedingStore) ApplyAssignment(ctx context.Context, baseVersion int64, a domain.Assignment) error {
	s.once.Do(func() {
		_ = s.MemoryStore.ReplaceTopics(ctx, s.rev)
	})
	return s.MemoryStore.ApplyAssignment(ctx, baseVersion, a)
}

func TestRunBatchDiscardsStaleWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := storage.NewMemoryStore()
	now := time.Now()

	seedTopics(t, inner, map[string][]float32{"t1": {1, 0, 0}})
	require.NoError(t, inner.SaveArticles(ctx, []domain.Article{
		testArticle("a1", []float32{0.9, 0.1, 0}, now),
		testArticle("a2", []float32{0.95, 0, 0.05}, now),
		testArticle("a3", []float32{1, 0.05, 0}, now),
	}))

	store := &supersedingStore{
		MemoryStore: inner,
		rev: domain.TopicRevision{
			Date: testDate,
			Topics: []domain.Topic{{
				ID: "fresh", Date: testDate, Title: "fresh", Rank: 1,
				Centroid: []float32{0, 1, 0}, IsActive: true,
			}},
		},
	}

	asg := newTestAssigner(store, nil, AssignerOptions{})
	asg.now = func() time.Time { return now }

	stats, err := asg.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Assigned)
	assert.Equal(t, 3, stats.Discarded)

	// Nothing from the stale batch leaked into the superseding revision.
	assert.Empty(t, mappingsByArticle(t, inner))
	set, err := inner.TopicSet(ctx, testDate)
	require.NoError(t, err)
	require.Len(t, set.Topics, 1)
	assert.Equal(t, "fresh", set.Topics[0].ID)
}

func TestRunBatchSkipsLockedDate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	locks := datelock.NewKeyed()
	now := time.Now()

	seedTopics(t, store, map[string][]float32{"t1": {1, 0, 0}})
	require.NoError(t, store.SaveArticles(ctx, []domain.Article{
		testArticle("a1", []float32{0.9, 0.1, 0}, now),
	}))

	release, err := locks.Acquire(ctx, testDate)
	require.NoError(t, err)
	defer release()

	asg := newTestAssigner(store, locks, AssignerOptions{LockWait: 20 * time.Millisecond})
	asg.now = func() time.Time { return now }

	stats, err := asg.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Articles: 1}, stats)
	assert.Empty(t, mappingsByArticle(t, store))
}

func TestConcurrentClusteringAndAssignment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	locks := datelock.NewKeyed()
	now := time.Now()

	require.NoError(t, store.SaveArticles(ctx, clusterCorpus(now)))

	c := NewClusterer(ClustererDeps{
		Store:    store,
		Locks:    locks,
		Strategy: cluster.NewHierarchical(0.3, 2, 5),
		Logger:   logging.Discard(),
	}, ClustererOptions{TopN: 10, MinTopics: 2})
	c.now = func() time.Time { return now }
	require.NoError(t, c.RunPass(ctx, testDate))

	// Late arrivals show up while a full re-clustering races the
	// incremental batch.
	require.NoError(t, store.SaveArticles(ctx, []domain.Article{
		testArticle("late1", []float32{1, 0.07, 0}, now),
		testArticle("late2", []float32{0.05, 1, 0}, now),
		testArticle("late3", []float32{0.4, 0.4, 0.8}, now),
	}))

	asg := newTestAssigner(store, locks, AssignerOptions{})
	asg.now = func() time.Time { return now }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = c.RunPass(ctx, testDate)
	}()
	go func() {
		defer wg.Done()
		_, _ = asg.RunBatch(ctx)
	}()
	wg.Wait()

	// Whatever the interleaving, the end state is some serial order:
	// every mapping points at a live topic, no article is mapped twice,
	// and per-topic counts agree with the mapping rows.
	set, err := store.TopicSet(ctx, testDate)
	require.NoError(t, err)
	live := make(map[string]int)
	for _, topic := range set.Topics {
		live[topic.ID] = topic.ArticleCount
	}

	perTopic := make(map[string]int)
	for articleID, m := range mappingsByArticle(t, store) {
		assert.Contains(t, live, m.TopicID, "mapping for %s points at a dead topic", articleID)
		perTopic[m.TopicID]++
	}
	for id, count := range live {
		assert.Equal(t, count, perTopic[id], "topic %s count drifted from its mappings", id)
	}
}
