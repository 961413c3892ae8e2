package ports

import (
	"context"
	"time"

	"github.com/newspulse/newspulse/internal/domain"
)

// TopicStore is the durable owner of topics, article-topic mappings, and
// pending articles. Engines operate on copies it returns and write back
// through version-guarded operations; they never hold live references to
// store-owned records.
type TopicStore interface {
	// SaveArticles persists embedded articles. Idempotent per article ID.
	SaveArticles(ctx context.Context, articles []domain.Article) error

	// ArticlesForDate returns every embedded article attributed to the
	// date, regardless of mapping or pending state. Clustering passes
	// recompute from this raw set.
	ArticlesForDate(ctx context.Context, date domain.NewsDate) ([]domain.Article, error)

	// UnassignedSince returns embedded articles published at or after
	// since that have no mapping for their news date yet.
	UnassignedSince(ctx context.Context, since time.Time) ([]domain.Article, error)

	// TopicSet returns the date's active topics with the current version
	// stamp. Topics are deep copies safe to mutate.
	TopicSet(ctx context.Context, date domain.NewsDate) (domain.TopicSet, error)

	// ReplaceTopics atomically supersedes the date's topic set: fresh
	// topics and mappings are written, prior rows for the date dropped,
	// pending entries for now-mapped articles cleared, and the version
	// bumped. A failure commits nothing for the date.
	ReplaceTopics(ctx context.Context, rev domain.TopicRevision) error

	// ApplyAssignment records one incremental placement: the mapping, the
	// topic's updated centroid, and the article count increment, as one
	// unit. Returns domain.ErrStaleTopicSet when baseVersion no longer
	// matches; a duplicate mapping for the article's date is a no-op.
	ApplyAssignment(ctx context.Context, baseVersion int64, a domain.Assignment) error

	// UpsertPending inserts or refreshes a pending record, keeping the
	// latest max similarity. Returns domain.ErrStaleTopicSet when
	// baseVersion no longer matches the date's topic set.
	UpsertPending(ctx context.Context, baseVersion int64, p domain.PendingArticle) error

	// PendingForDate lists the date's pending articles.
	PendingForDate(ctx context.Context, date domain.NewsDate) ([]domain.PendingArticle, error)

	// MappingsForDate lists the date's article-topic mappings.
	MappingsForDate(ctx context.Context, date domain.NewsDate) ([]domain.TopicArticleMapping, error)
}

// Embedder turns article text into fixed-dimension vectors via the remote
// inference service, consumed as a black box.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TitleCluster is the per-cluster payload a TitleGenerator receives.
type TitleCluster struct {
	Titles    []string
	Summaries []string
}

// TitleGenerator produces short topic titles for clusters. Optional;
// engines fall back to representative article titles when absent or
// failing.
type TitleGenerator interface {
	TopicTitles(ctx context.Context, clusters []TitleCluster) ([]string, error)
}

// Scheduler drives recurring jobs. The core never decides cadence; the
// adapter (or an external scheduler) does.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
