package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/newspulse/newspulse/internal/domain"
	"github.com/newspulse/newspulse/internal/ports"
)

// Ingestor embeds externally supplied article records and persists them.
// Acquisition, summaries, and the news-date cutoff all happen upstream;
// this only turns text into vectors of the fixed dimension and stores
// them for the engines to pick up.
type Ingestor struct {
	store     ports.TopicStore
	embedder  ports.Embedder
	dimension int
	logger    *slog.Logger
}

// NewIngestor constructs the embedding ingest step.
func NewIngestor(store ports.TopicStore, embedder ports.Embedder, dimension int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, embedder: embedder, dimension: dimension, logger: logger}
}

// IngestBatch embeds and stores raw articles, returning how many were
// persisted. Records with a wrong-dimension embedding are skipped and
// logged, not fatal.
func (in *Ingestor) IngestBatch(ctx context.Context, raws []domain.RawArticle) (int, error) {
	if len(raws) == 0 {
		return 0, nil
	}

	texts := make([]string, len(raws))
	for i, r := range raws {
		texts[i] = r.Text
	}

	embeddings, err := in.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch: %w", err)
	}
	if len(embeddings) != len(raws) {
		return 0, fmt.Errorf("embed batch: got %d vectors for %d articles", len(embeddings), len(raws))
	}

	articles := make([]domain.Article, 0, len(raws))
	for i, r := range raws {
		if len(embeddings[i]) != in.dimension {
			in.logger.Warn("skipping article with unexpected embedding dimension",
				"article", r.ID,
				"got", len(embeddings[i]),
				"want", in.dimension)
			continue
		}
		articles = append(articles, domain.Article{
			ID:          r.ID,
			Title:       r.Title,
			Embedding:   embeddings[i],
			PublishedAt: r.PublishedAt,
			NewsDate:    r.NewsDate,
		})
	}

	if err := in.store.SaveArticles(ctx, articles); err != nil {
		return 0, fmt.Errorf("save articles: %w", err)
	}

	in.logger.Info("ingested articles", "received", len(raws), "stored", len(articles))
	return len(articles), nil
}
