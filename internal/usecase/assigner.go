package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/newspulse/newspulse/internal/datelock"
	"github.com/newspulse/newspulse/internal/domain"
	"github.com/newspulse/newspulse/internal/ports"
	"github.com/newspulse/newspulse/internal/vecmath"
)

// AssignerOptions carries the batch tunables.
type AssignerOptions struct {
	SimilarityThreshold  float64
	CentroidUpdateWeight float64
	Lookback             time.Duration
	LockWait             time.Duration
}

// AssignerDeps wires the collaborators of an incremental batch.
type AssignerDeps struct {
	Store  ports.TopicStore
	Locks  *datelock.Keyed
	Logger *slog.Logger
}

// Assigner routes newly embedded articles into the existing topic set:
// each article goes to the most similar active topic (nudging that
// topic's centroid) or to the pending queue when nothing matches well
// enough. It never creates topics and never touches rank or cluster
// score.
type Assigner struct {
	store  ports.TopicStore
	locks  *datelock.Keyed
	logger *slog.Logger
	opts   AssignerOptions
	now    func() time.Time
}

// BatchStats summarizes one incremental run.
type BatchStats struct {
	Articles  int
	Assigned  int
	Pending   int
	Discarded int // writes dropped because a clustering pass superseded the set
}

// NewAssigner constructs the incremental assignment engine.
func NewAssigner(deps AssignerDeps, opts AssignerOptions) *Assigner {
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.5
	}
	if opts.CentroidUpdateWeight <= 0 {
		opts.CentroidUpdateWeight = 0.1
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 30 * time.Minute
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 30 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Assigner{
		store:  deps.Store,
		locks:  deps.Locks,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// RunBatch assigns every unassigned article from the lookback window.
// Articles are grouped by their news date; dates are processed
// independently, so a busy or stale date never blocks the others.
func (a *Assigner) RunBatch(ctx context.Context) (BatchStats, error) {
	var stats BatchStats

	articles, err := a.store.UnassignedSince(ctx, a.now().Add(-a.opts.Lookback))
	if err != nil {
		return stats, fmt.Errorf("load unassigned articles: %w", err)
	}
	if len(articles) == 0 {
		return stats, nil
	}
	stats.Articles = len(articles)

	byDate := make(map[domain.NewsDate][]domain.Article)
	for _, art := range articles {
		byDate[art.NewsDate] = append(byDate[art.NewsDate], art)
	}

	dates := make([]domain.NewsDate, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })

	for _, date := range dates {
		dateStats, err := a.assignDate(ctx, date, byDate[date])
		stats.Assigned += dateStats.Assigned
		stats.Pending += dateStats.Pending
		stats.Discarded += dateStats.Discarded
		if err != nil {
			if errors.Is(err, domain.ErrLockBusy) {
				a.logger.Warn("incremental batch skipped, date locked", "date", date)
				continue
			}
			return stats, err
		}
	}

	a.logger.Info("incremental batch complete",
		"articles", stats.Articles,
		"assigned", stats.Assigned,
		"pending", stats.Pending,
		"discarded", stats.Discarded)
	return stats, nil
}

type match struct {
	topicIdx   int
	similarity float64
}

func (a *Assigner) assignDate(ctx context.Context, date domain.NewsDate, articles []domain.Article) (BatchStats, error) {
	var stats BatchStats

	lockCtx, cancel := context.WithTimeout(ctx, a.opts.LockWait)
	defer cancel()
	release, err := a.locks.Acquire(lockCtx, date)
	if err != nil {
		return stats, err
	}
	defer release()

	set, err := a.store.TopicSet(ctx, date)
	if err != nil {
		return stats, fmt.Errorf("load topic set for %s: %w", date, err)
	}

	if len(set.Topics) == 0 {
		for _, art := range articles {
			pErr := a.store.UpsertPending(ctx, set.Version, domain.PendingArticle{
				ArticleID:     art.ID,
				Date:          date,
				AddedAt:       a.now(),
				Reason:        domain.ReasonNoTopics,
				MaxSimilarity: 0,
			})
			if errors.Is(pErr, domain.ErrStaleTopicSet) {
				stats.Discarded += len(articles) - stats.Pending
				return stats, nil
			}
			if pErr != nil {
				return stats, fmt.Errorf("pend article %s: %w", art.ID, pErr)
			}
			stats.Pending++
		}
		return stats, nil
	}

	// Snapshot phase: every article is scored against the centroids as
	// they stood at batch start, in parallel. No article's decision sees
	// another's update.
	matches := make([]match, len(articles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range articles {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			best := match{topicIdx: -1}
			for ti := range set.Topics {
				sim := vecmath.Cosine(articles[i].Embedding, set.Topics[ti].Centroid)
				if best.topicIdx < 0 || sim > best.similarity {
					best = match{topicIdx: ti, similarity: sim}
				}
			}
			matches[i] = best
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, fmt.Errorf("score batch for %s: %w", date, err)
	}

	// Apply phase: sequential, chaining EMA updates through a working
	// copy of the centroids so later placements see earlier nudges.
	working := make([][]float32, len(set.Topics))
	for i, t := range set.Topics {
		working[i] = t.Centroid
	}

	for i, art := range articles {
		m := matches[i]
		if m.similarity >= a.opts.SimilarityThreshold {
			updated := vecmath.UpdateEMA(working[m.topicIdx], art.Embedding, a.opts.CentroidUpdateWeight)
			aErr := a.store.ApplyAssignment(ctx, set.Version, domain.Assignment{
				TopicID:    set.Topics[m.topicIdx].ID,
				ArticleID:  art.ID,
				Date:       date,
				Similarity: clamp01(m.similarity),
				Centroid:   updated,
			})
			if errors.Is(aErr, domain.ErrStaleTopicSet) {
				stats.Discarded = len(articles) - i
				a.logger.Warn("topic set superseded mid-batch, discarding stale writes",
					"date", date, "discarded", stats.Discarded)
				return stats, nil
			}
			if aErr != nil {
				return stats, fmt.Errorf("assign article %s: %w", art.ID, aErr)
			}
			working[m.topicIdx] = updated
			stats.Assigned++
			a.logger.Debug("article assigned",
				"article", art.ID,
				"topic", set.Topics[m.topicIdx].ID,
				"similarity", m.similarity)
			continue
		}

		pErr := a.store.UpsertPending(ctx, set.Version, domain.PendingArticle{
			ArticleID:     art.ID,
			Date:          date,
			AddedAt:       a.now(),
			Reason:        domain.ReasonBelowThreshold,
			MaxSimilarity: clamp01(m.similarity),
		})
		if errors.Is(pErr, domain.ErrStaleTopicSet) {
			stats.Discarded = len(articles) - i
			a.logger.Warn("topic set superseded mid-batch, discarding stale writes",
				"date", date, "discarded", stats.Discarded)
			return stats, nil
		}
		if pErr != nil {
			return stats, fmt.Errorf("pend article %s: %w", art.ID, pErr)
		}
		stats.Pending++
		a.logger.Debug("article pending",
			"article", art.ID,
			"maxSimilarity", m.similarity)
	}

	return stats, nil
}
