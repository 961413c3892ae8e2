package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/newspulse/newspulse/internal/domain"
	"github.com/newspulse/newspulse/internal/ports"
)

// MemoryStore is a mutex-guarded in-memory TopicStore. It backs tests and
// local/demo mode; all reads return deep copies so callers never touch
// store-owned state.
type MemoryStore struct {
	mu sync.Mutex

	articles map[string]domain.Article
	sets     map[domain.NewsDate]*memoryTopicSet
	mappings map[domain.NewsDate]map[string]domain.TopicArticleMapping // by article ID
	pending  map[domain.NewsDate]map[string]domain.PendingArticle
}

type memoryTopicSet struct {
	version int64
	topics  []domain.Topic
}

var _ ports.TopicStore = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles: make(map[string]domain.Article),
		sets:     make(map[domain.NewsDate]*memoryTopicSet),
		mappings: make(map[domain.NewsDate]map[string]domain.TopicArticleMapping),
		pending:  make(map[domain.NewsDate]map[string]domain.PendingArticle),
	}
}

// SaveArticles persists embedded articles, idempotently by ID.
func (s *MemoryStore) SaveArticles(_ context.Context, articles []domain.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range articles {
		a.Embedding = cloneVector(a.Embedding)
		s.articles[a.ID] = a
	}
	return nil
}

// ArticlesForDate returns every embedded article for the date, mapped,
// pending, or neither.
func (s *MemoryStore) ArticlesForDate(_ context.Context, date domain.NewsDate) ([]domain.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Article
	for _, a := range s.articles {
		if a.NewsDate == date {
			a.Embedding = cloneVector(a.Embedding)
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UnassignedSince returns articles published at or after since with no
// mapping for their news date.
func (s *MemoryStore) UnassignedSince(_ context.Context, since time.Time) ([]domain.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Article
	for _, a := range s.articles {
		if a.PublishedAt.Before(since) {
			continue
		}
		if _, ok := s.mappings[a.NewsDate][a.ID]; ok {
			continue
		}
		a.Embedding = cloneVector(a.Embedding)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TopicSet returns the date's active topics and version as deep copies.
func (s *MemoryStore) TopicSet(_ context.Context, date domain.NewsDate) (domain.TopicSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.sets[date]
	if set == nil {
		return domain.TopicSet{Date: date}, nil
	}

	out := domain.TopicSet{Date: date, Version: set.version}
	for _, t := range set.topics {
		if !t.IsActive {
			continue
		}
		t.Centroid = cloneVector(t.Centroid)
		out.Topics = append(out.Topics, t)
	}
	return out, nil
}

// ReplaceTopics atomically supersedes the date's topic set.
func (s *MemoryStore) ReplaceTopics(_ context.Context, rev domain.TopicRevision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.sets[rev.Date]
	if set == nil {
		set = &memoryTopicSet{}
		s.sets[rev.Date] = set
	}

	topics := make([]domain.Topic, len(rev.Topics))
	for i, t := range rev.Topics {
		t.Centroid = cloneVector(t.Centroid)
		topics[i] = t
	}
	set.topics = topics
	set.version++

	byArticle := make(map[string]domain.TopicArticleMapping, len(rev.Mappings))
	for _, m := range rev.Mappings {
		byArticle[m.ArticleID] = m
	}
	s.mappings[rev.Date] = byArticle

	for id := range byArticle {
		delete(s.pending[rev.Date], id)
	}
	return nil
}

// ApplyAssignment records one incremental placement under the version
// guard. A duplicate mapping is a successful no-op.
func (s *MemoryStore) ApplyAssignment(_ context.Context, baseVersion int64, a domain.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.sets[a.Date]
	if set == nil || set.version != baseVersion {
		return domain.ErrStaleTopicSet
	}

	if _, exists := s.mappings[a.Date][a.ArticleID]; exists {
		return nil
	}

	idx := -1
	for i := range set.topics {
		if set.topics[i].ID == a.TopicID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.ErrStaleTopicSet
	}

	if s.mappings[a.Date] == nil {
		s.mappings[a.Date] = make(map[string]domain.TopicArticleMapping)
	}
	s.mappings[a.Date][a.ArticleID] = domain.TopicArticleMapping{
		TopicID:    a.TopicID,
		ArticleID:  a.ArticleID,
		Date:       a.Date,
		Similarity: a.Similarity,
	}

	set.topics[idx].Centroid = cloneVector(a.Centroid)
	set.topics[idx].ArticleCount++
	set.topics[idx].LastUpdatedAt = time.Now()

	delete(s.pending[a.Date], a.ArticleID)
	return nil
}

// UpsertPending inserts or refreshes a pending record, keeping the
// latest max similarity.
func (s *MemoryStore) UpsertPending(_ context.Context, baseVersion int64, p domain.PendingArticle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set := s.sets[p.Date]; set != nil && set.version != baseVersion {
		return domain.ErrStaleTopicSet
	} else if set == nil && baseVersion != 0 {
		return domain.ErrStaleTopicSet
	}

	if s.pending[p.Date] == nil {
		s.pending[p.Date] = make(map[string]domain.PendingArticle)
	}
	s.pending[p.Date][p.ArticleID] = p
	return nil
}

// PendingForDate lists the date's pending articles.
func (s *MemoryStore) PendingForDate(_ context.Context, date domain.NewsDate) ([]domain.PendingArticle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.PendingArticle
	for _, p := range s.pending[date] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArticleID < out[j].ArticleID })
	return out, nil
}

// MappingsForDate lists the date's article-topic mappings.
func (s *MemoryStore) MappingsForDate(_ context.Context, date domain.NewsDate) ([]domain.TopicArticleMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TopicArticleMapping
	for _, m := range s.mappings[date] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArticleID < out[j].ArticleID })
	return out, nil
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
