package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/newspulse/newspulse/internal/domain"
	"github.com/newspulse/newspulse/internal/ports"
)

// PostgresStore persists topic state in Postgres with pgvector columns.
// Multi-record updates run in a single transaction; the per-date version
// row implements the supersession guard.
type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.TopicStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB (lib/pq) implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the tables the store needs. The embedding
// dimension is fixed system-wide.
func (s *PostgresStore) EnsureSchema(ctx context.Context, dimension int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS article (
			article_id   TEXT PRIMARY KEY,
			title        TEXT NOT NULL DEFAULT '',
			embedding    vector(%d) NOT NULL,
			published_at TIMESTAMPTZ NOT NULL,
			news_date    DATE NOT NULL
		)`, dimension),
		`CREATE TABLE IF NOT EXISTS topic_set_version (
			topic_date DATE PRIMARY KEY,
			version    BIGINT NOT NULL DEFAULT 0
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS topic (
			topic_id           TEXT PRIMARY KEY,
			topic_date         DATE NOT NULL,
			title              TEXT NOT NULL DEFAULT '',
			rank               INT NOT NULL CHECK (rank BETWEEN 1 AND 10),
			centroid_embedding vector(%d) NOT NULL,
			cluster_score      DOUBLE PRECISION NOT NULL,
			article_count      INT NOT NULL DEFAULT 0 CHECK (article_count >= 0),
			represent_id       TEXT NOT NULL DEFAULT '',
			is_active          BOOLEAN NOT NULL DEFAULT TRUE,
			last_updated       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (topic_date, rank)
		)`, dimension),
		`CREATE TABLE IF NOT EXISTS topic_article_mapping (
			topic_id         TEXT NOT NULL REFERENCES topic(topic_id) ON DELETE CASCADE,
			article_id       TEXT NOT NULL,
			topic_date       DATE NOT NULL,
			similarity_score DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (topic_id, article_id),
			UNIQUE (article_id, topic_date)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_article (
			article_id     TEXT NOT NULL,
			topic_date     DATE NOT NULL,
			added_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			reason         TEXT NOT NULL,
			max_similarity DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (article_id, topic_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_article_news_date ON article(news_date)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_added_at ON pending_article(added_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveArticles upserts embedded articles.
func (s *PostgresStore) SaveArticles(ctx context.Context, articles []domain.Article) error {
	for _, a := range articles {
		query := s.sb.Insert("article").
			Columns("article_id", "title", "embedding", "published_at", "news_date").
			Values(a.ID, a.Title, pgvector.NewVector(a.Embedding), a.PublishedAt, a.NewsDate.String()).
			Suffix("ON CONFLICT (article_id) DO NOTHING")

		if _, err := query.RunWith(s.db).ExecContext(ctx); err != nil {
			return fmt.Errorf("save article %s: %w", a.ID, err)
		}
	}
	return nil
}

// ArticlesForDate returns every embedded article for the date.
func (s *PostgresStore) ArticlesForDate(ctx context.Context, date domain.NewsDate) ([]domain.Article, error) {
	query := s.sb.Select("article_id", "title", "embedding", "published_at", "news_date").
		From("article").
		Where(sq.Eq{"news_date": date.String()}).
		OrderBy("published_at DESC, article_id")

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	return scanArticles(rows)
}

// UnassignedSince returns embedded articles published at or after since
// that have no mapping for their news date.
func (s *PostgresStore) UnassignedSince(ctx context.Context, since time.Time) ([]domain.Article, error) {
	query := s.sb.Select("a.article_id", "a.title", "a.embedding", "a.published_at", "a.news_date").
		From("article a").
		LeftJoin("topic_article_mapping m ON m.article_id = a.article_id AND m.topic_date = a.news_date").
		Where(sq.GtOrEq{"a.published_at": since}).
		Where("m.article_id IS NULL").
		OrderBy("a.published_at DESC, a.article_id")

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query unassigned: %w", err)
	}
	defer rows.Close()

	return scanArticles(rows)
}

func scanArticles(rows *sql.Rows) ([]domain.Article, error) {
	var out []domain.Article
	for rows.Next() {
		var (
			a         domain.Article
			embedding pgvector.Vector
			newsDate  time.Time
		)
		if err := rows.Scan(&a.ID, &a.Title, &embedding, &a.PublishedAt, &newsDate); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		a.Embedding = embedding.Slice()
		a.NewsDate = domain.NewsDateOf(newsDate)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// TopicSet returns the date's active topics with the version stamp.
func (s *PostgresStore) TopicSet(ctx context.Context, date domain.NewsDate) (domain.TopicSet, error) {
	out := domain.TopicSet{Date: date}

	err := s.sb.Select("version").
		From("topic_set_version").
		Where(sq.Eq{"topic_date": date.String()}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&out.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return domain.TopicSet{}, fmt.Errorf("query topic set version: %w", err)
	}

	query := s.sb.Select("topic_id", "topic_date", "title", "rank", "centroid_embedding",
		"cluster_score", "article_count", "represent_id", "is_active", "last_updated").
		From("topic").
		Where(sq.Eq{"topic_date": date.String(), "is_active": true}).
		OrderBy("rank")

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return domain.TopicSet{}, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t         domain.Topic
			centroid  pgvector.Vector
			topicDate time.Time
		)
		if err := rows.Scan(&t.ID, &topicDate, &t.Title, &t.Rank, &centroid,
			&t.ClusterScore, &t.ArticleCount, &t.RepresentID, &t.IsActive, &t.LastUpdatedAt); err != nil {
			return domain.TopicSet{}, fmt.Errorf("scan topic: %w", err)
		}
		t.Date = domain.NewsDateOf(topicDate)
		t.Centroid = centroid.Slice()
		out.Topics = append(out.Topics, t)
	}
	if err := rows.Err(); err != nil {
		return domain.TopicSet{}, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// ReplaceTopics supersedes the date's topic set in one transaction.
func (s *PostgresStore) ReplaceTopics(ctx context.Context, rev domain.TopicRevision) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		date := rev.Date.String()

		if _, err := s.sb.Delete("topic_article_mapping").
			Where(sq.Eq{"topic_date": date}).
			RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("delete mappings: %w", err)
		}
		if _, err := s.sb.Delete("topic").
			Where(sq.Eq{"topic_date": date}).
			RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("delete topics: %w", err)
		}

		for _, t := range rev.Topics {
			query := s.sb.Insert("topic").
				Columns("topic_id", "topic_date", "title", "rank", "centroid_embedding",
					"cluster_score", "article_count", "represent_id", "is_active", "last_updated").
				Values(t.ID, date, t.Title, t.Rank, pgvector.NewVector(t.Centroid),
					t.ClusterScore, t.ArticleCount, t.RepresentID, t.IsActive, sq.Expr("NOW()"))
			if _, err := query.RunWith(tx).ExecContext(ctx); err != nil {
				return fmt.Errorf("insert topic %s: %w", t.ID, err)
			}
		}

		mapped := make([]string, 0, len(rev.Mappings))
		for _, m := range rev.Mappings {
			query := s.sb.Insert("topic_article_mapping").
				Columns("topic_id", "article_id", "topic_date", "similarity_score").
				Values(m.TopicID, m.ArticleID, date, m.Similarity)
			if _, err := query.RunWith(tx).ExecContext(ctx); err != nil {
				return fmt.Errorf("insert mapping %s: %w", m.ArticleID, err)
			}
			mapped = append(mapped, m.ArticleID)
		}

		if len(mapped) > 0 {
			if _, err := s.sb.Delete("pending_article").
				Where(sq.Eq{"topic_date": date}).
				Where(sq.Expr("article_id = ANY(?)", pq.StringArray(mapped))).
				RunWith(tx).ExecContext(ctx); err != nil {
				return fmt.Errorf("clear pending: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO topic_set_version (topic_date, version) VALUES ($1, 1)
			 ON CONFLICT (topic_date) DO UPDATE SET version = topic_set_version.version + 1`,
			date); err != nil {
			return fmt.Errorf("bump version: %w", err)
		}
		return nil
	})
}

// ApplyAssignment records one incremental placement under the version
// guard. A duplicate mapping is a successful no-op.
func (s *PostgresStore) ApplyAssignment(ctx context.Context, baseVersion int64, a domain.Assignment) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkVersion(ctx, tx, a.Date, baseVersion); err != nil {
			return err
		}

		res, err := s.sb.Insert("topic_article_mapping").
			Columns("topic_id", "article_id", "topic_date", "similarity_score").
			Values(a.TopicID, a.ArticleID, a.Date.String(), a.Similarity).
			Suffix("ON CONFLICT (article_id, topic_date) DO NOTHING").
			RunWith(tx).ExecContext(ctx)
		if err != nil {
			if isUniqueViolation(err) {
				return nil
			}
			return fmt.Errorf("insert mapping: %w", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if inserted == 0 {
			// Mapping already present for this article and date.
			return nil
		}

		// Counter maintained in the same transaction as the mapping write.
		if _, err := s.sb.Update("topic").
			Set("centroid_embedding", pgvector.NewVector(a.Centroid)).
			Set("article_count", sq.Expr("article_count + 1")).
			Set("last_updated", sq.Expr("NOW()")).
			Where(sq.Eq{"topic_id": a.TopicID}).
			RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("update topic: %w", err)
		}

		if _, err := s.sb.Delete("pending_article").
			Where(sq.Eq{"article_id": a.ArticleID, "topic_date": a.Date.String()}).
			RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("clear pending: %w", err)
		}
		return nil
	})
}

// UpsertPending inserts or refreshes a pending record.
func (s *PostgresStore) UpsertPending(ctx context.Context, baseVersion int64, p domain.PendingArticle) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkVersion(ctx, tx, p.Date, baseVersion); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO pending_article (article_id, topic_date, added_at, reason, max_similarity)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (article_id, topic_date) DO UPDATE
			 SET reason = EXCLUDED.reason,
			     max_similarity = EXCLUDED.max_similarity,
			     added_at = EXCLUDED.added_at`,
			p.ArticleID, p.Date.String(), p.AddedAt, p.Reason, p.MaxSimilarity)
		if err != nil {
			return fmt.Errorf("upsert pending: %w", err)
		}
		return nil
	})
}

// PendingForDate lists the date's pending articles.
func (s *PostgresStore) PendingForDate(ctx context.Context, date domain.NewsDate) ([]domain.PendingArticle, error) {
	query := s.sb.Select("article_id", "topic_date", "added_at", "reason", "max_similarity").
		From("pending_article").
		Where(sq.Eq{"topic_date": date.String()}).
		OrderBy("added_at")

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingArticle
	for rows.Next() {
		var (
			p         domain.PendingArticle
			topicDate time.Time
		)
		if err := rows.Scan(&p.ArticleID, &topicDate, &p.AddedAt, &p.Reason, &p.MaxSimilarity); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		p.Date = domain.NewsDateOf(topicDate)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// MappingsForDate lists the date's article-topic mappings.
func (s *PostgresStore) MappingsForDate(ctx context.Context, date domain.NewsDate) ([]domain.TopicArticleMapping, error) {
	query := s.sb.Select("topic_id", "article_id", "topic_date", "similarity_score").
		From("topic_article_mapping").
		Where(sq.Eq{"topic_date": date.String()}).
		OrderBy("article_id")

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	var out []domain.TopicArticleMapping
	for rows.Next() {
		var (
			m         domain.TopicArticleMapping
			topicDate time.Time
		)
		if err := rows.Scan(&m.TopicID, &m.ArticleID, &topicDate, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		m.Date = domain.NewsDateOf(topicDate)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// checkVersion compares the date's current version against what the
// caller read at batch start, locking the row for the transaction.
func (s *PostgresStore) checkVersion(ctx context.Context, tx *sql.Tx, date domain.NewsDate, baseVersion int64) error {
	var version int64
	err := tx.QueryRowContext(ctx,
		`SELECT version FROM topic_set_version WHERE topic_date = $1 FOR UPDATE`,
		date.String()).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		version = 0
	} else if err != nil {
		return fmt.Errorf("query version: %w", err)
	}

	if version != baseVersion {
		return domain.ErrStaleTopicSet
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
