package domain

import "time"

// Pending reasons persisted alongside unmatched articles.
const (
	ReasonBelowThreshold = "below_threshold"
	ReasonNoTopics       = "no_topics"
)

// Topic is one trending topic for a news date. Rank and ClusterScore are
// set only by clustering passes; Centroid and ArticleCount drift between
// passes as incremental assignment folds new articles in.
type Topic struct {
	ID            string
	Date          NewsDate
	Title         string
	Rank          int
	Centroid      []float32
	ClusterScore  float64
	ArticleCount  int
	RepresentID   string
	IsActive      bool
	LastUpdatedAt time.Time
}

// TopicArticleMapping assigns one article to one topic for a date.
// At most one mapping per (article, date).
type TopicArticleMapping struct {
	TopicID    string
	ArticleID  string
	Date       NewsDate
	Similarity float64
}

// PendingArticle is an article that failed the similarity threshold and
// waits for the next clustering pass.
type PendingArticle struct {
	ArticleID     string
	Date          NewsDate
	AddedAt       time.Time
	Reason        string
	MaxSimilarity float64
}

// TopicSet is a consistent snapshot of a date's active topics. Version
// increments every time a clustering pass supersedes the set; writers carry
// the version they read so stale in-flight batches can be rejected.
type TopicSet struct {
	Date    NewsDate
	Version int64
	Topics  []Topic
}

// TopicRevision is the full replacement a clustering pass persists:
// fresh topics, fresh mappings, and nothing from the previous set.
type TopicRevision struct {
	Date     NewsDate
	Topics   []Topic
	Mappings []TopicArticleMapping
}

// Assignment is one incremental placement: the mapping plus the topic's
// post-EMA centroid, applied atomically with the article count increment.
type Assignment struct {
	TopicID    string
	ArticleID  string
	Date       NewsDate
	Similarity float64
	Centroid   []float32
}
