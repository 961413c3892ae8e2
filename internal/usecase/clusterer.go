package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/newspulse/newspulse/internal/cluster"
	"github.com/newspulse/newspulse/internal/datelock"
	"github.com/newspulse/newspulse/internal/domain"
	"github.com/newspulse/newspulse/internal/ports"
	"github.com/newspulse/newspulse/internal/vecmath"
)

// ClustererOptions carries the pass tunables, passed in explicitly at
// construction.
type ClustererOptions struct {
	TopN                int
	MinTopics           int
	MinArticlesPerTopic int
	RecencyDecay        time.Duration
	LockWait            time.Duration
}

// ClustererDeps wires the collaborators of a clustering pass.
type ClustererDeps struct {
	Store    ports.TopicStore
	Locks    *datelock.Keyed
	Strategy cluster.Strategy
	Titles   ports.TitleGenerator
	Logger   *slog.Logger
}

// Clusterer recomputes a date's topic set from scratch: it partitions all
// of the date's article embeddings (pending ones included, prior mappings
// ignored), ranks the clusters, and persists a fresh topic set that
// supersedes the previous one.
type Clusterer struct {
	store    ports.TopicStore
	locks    *datelock.Keyed
	strategy cluster.Strategy
	titles   ports.TitleGenerator
	logger   *slog.Logger
	opts     ClustererOptions
	now      func() time.Time
}

// NewClusterer constructs the clustering engine.
func NewClusterer(deps ClustererDeps, opts ClustererOptions) *Clusterer {
	if opts.TopN < 1 {
		opts.TopN = 1
	}
	if opts.TopN > 10 {
		opts.TopN = 10
	}
	if opts.MinTopics < 1 {
		opts.MinTopics = 1
	}
	if opts.MinArticlesPerTopic < 1 {
		opts.MinArticlesPerTopic = 1
	}
	if opts.RecencyDecay <= 0 {
		opts.RecencyDecay = 24 * time.Hour
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 30 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Clusterer{
		store:    deps.Store,
		locks:    deps.Locks,
		strategy: deps.Strategy,
		titles:   deps.Titles,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// RunPass executes one clustering pass for the date. An empty corpus is a
// logged no-op that leaves prior topics untouched; a lock timeout returns
// domain.ErrLockBusy so the caller skips the cycle and retries on the
// next schedule.
func (c *Clusterer) RunPass(ctx context.Context, date domain.NewsDate) error {
	lockCtx, cancel := context.WithTimeout(ctx, c.opts.LockWait)
	defer cancel()

	release, err := c.locks.Acquire(lockCtx, date)
	if err != nil {
		c.logger.Warn("clustering pass skipped, date locked", "date", date)
		return err
	}
	defer release()

	articles, err := c.store.ArticlesForDate(ctx, date)
	if err != nil {
		return fmt.Errorf("load articles for %s: %w", date, err)
	}
	if len(articles) == 0 {
		c.logger.Info("no embedded articles, leaving prior topics untouched", "date", date)
		return nil
	}

	groups, silhouette := c.partition(articles)

	ranked := c.rank(groups, articles)
	titles := c.topicTitles(ctx, ranked, articles)

	rev := domain.TopicRevision{Date: date}
	for rank, g := range ranked {
		topicID := uuid.NewString()
		rev.Topics = append(rev.Topics, domain.Topic{
			ID:           topicID,
			Date:         date,
			Title:        titles[rank],
			Rank:         rank + 1,
			Centroid:     g.centroid,
			ClusterScore: g.score,
			ArticleCount: len(g.members),
			RepresentID:  articles[g.representative].ID,
			IsActive:     true,
		})

		for _, idx := range g.members {
			rev.Mappings = append(rev.Mappings, domain.TopicArticleMapping{
				TopicID:    topicID,
				ArticleID:  articles[idx].ID,
				Date:       date,
				Similarity: clamp01(vecmath.Cosine(articles[idx].Embedding, g.centroid)),
			})
		}
	}

	if err := c.store.ReplaceTopics(ctx, rev); err != nil {
		return fmt.Errorf("replace topics for %s: %w", date, err)
	}

	c.logger.Info("clustering pass complete",
		"date", date,
		"algorithm", c.strategy.Name(),
		"articles", len(articles),
		"topics", len(rev.Topics),
		"mappings", len(rev.Mappings),
		"silhouette", silhouette)
	return nil
}

type topicGroup struct {
	label          int
	members        []int // indexes into the pass's article slice
	centroid       []float32
	representative int
	score          float64
}

// partition runs the strategy and groups member indexes by label,
// falling back to a single all-input cluster for degenerate corpora.
func (c *Clusterer) partition(articles []domain.Article) ([]topicGroup, float64) {
	points := make([][]float32, len(articles))
	for i, a := range articles {
		points[i] = a.Embedding
	}

	var labels []int
	if len(articles) < c.opts.MinTopics {
		c.logger.Warn("too few articles for the configured topic range, using a single topic",
			"articles", len(articles), "minTopics", c.opts.MinTopics)
		labels = make([]int, len(articles))
	} else {
		var err error
		labels, err = c.strategy.Partition(points)
		if err != nil {
			c.logger.Warn("clustering strategy failed, using a single topic", "error", err)
			labels = make([]int, len(articles))
		}
	}

	byLabel := make(map[int][]int)
	for i, l := range labels {
		if l == cluster.Noise {
			continue
		}
		byLabel[l] = append(byLabel[l], i)
	}

	var groups []topicGroup
	for label, members := range byLabel {
		if len(members) < c.opts.MinArticlesPerTopic {
			continue
		}
		groups = append(groups, topicGroup{label: label, members: members})
	}

	if len(groups) == 0 {
		// Everything filtered out (all noise or all clusters too small):
		// better one topic than none.
		all := make([]int, len(articles))
		for i := range all {
			all[i] = i
		}
		groups = []topicGroup{{label: 0, members: all}}
		labels = make([]int, len(articles))
	}

	silhouette := cluster.Silhouette(points, labels)
	return groups, silhouette
}

// rank computes per-cluster centroid, representative, and score, then
// orders clusters by score desc, article count desc, earliest formation.
func (c *Clusterer) rank(groups []topicGroup, articles []domain.Article) []topicGroup {
	now := c.now()

	for gi := range groups {
		g := &groups[gi]

		vectors := make([][]float32, len(g.members))
		for i, idx := range g.members {
			vectors[i] = articles[idx].Embedding
		}
		centroid, err := vecmath.Centroid(vectors)
		if err != nil {
			continue // unreachable: groups are nonempty
		}
		g.centroid = centroid

		// Representative: closest to centroid; ties go to the most
		// recently published member.
		best := g.members[0]
		bestSim := vecmath.Cosine(articles[best].Embedding, centroid)
		for _, idx := range g.members[1:] {
			sim := vecmath.Cosine(articles[idx].Embedding, centroid)
			if sim > bestSim ||
				(sim == bestSim && articles[idx].PublishedAt.After(articles[best].PublishedAt)) {
				best = idx
				bestSim = sim
			}
		}
		g.representative = best

		var newest time.Time
		for _, idx := range g.members {
			if articles[idx].PublishedAt.After(newest) {
				newest = articles[idx].PublishedAt
			}
		}
		ageHours := now.Sub(newest).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		g.score = float64(len(g.members)) * math.Exp(-ageHours/c.opts.RecencyDecay.Hours())
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].score != groups[j].score {
			return groups[i].score > groups[j].score
		}
		if len(groups[i].members) != len(groups[j].members) {
			return len(groups[i].members) > len(groups[j].members)
		}
		return groups[i].label < groups[j].label
	})

	if len(groups) > c.opts.TopN {
		groups = groups[:c.opts.TopN]
	}
	return groups
}

// topicTitles asks the title generator for one title per retained
// cluster, falling back to each representative article's title.
func (c *Clusterer) topicTitles(ctx context.Context, ranked []topicGroup, articles []domain.Article) []string {
	titles := make([]string, len(ranked))
	for i, g := range ranked {
		titles[i] = articles[g.representative].Title
	}

	if c.titles == nil {
		return titles
	}

	clusters := make([]ports.TitleCluster, len(ranked))
	for i, g := range ranked {
		for _, idx := range g.members {
			clusters[i].Titles = append(clusters[i].Titles, articles[idx].Title)
		}
	}

	generated, err := c.titles.TopicTitles(ctx, clusters)
	if err != nil || len(generated) != len(ranked) {
		if err == nil {
			err = errors.New("title count mismatch")
		}
		c.logger.Warn("topic title generation failed, using representative titles", "error", err)
		return titles
	}

	for i, title := range generated {
		if title != "" {
			titles[i] = title
		}
	}
	return titles
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
