package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/newspulse/newspulse/internal/cluster"
	"github.com/newspulse/newspulse/internal/config"
	"github.com/newspulse/newspulse/internal/datelock"
	"github.com/newspulse/newspulse/internal/infrastructure/inference"
	"github.com/newspulse/newspulse/internal/infrastructure/scheduler"
	"github.com/newspulse/newspulse/internal/infrastructure/storage"
	"github.com/newspulse/newspulse/internal/logging"
	"github.com/newspulse/newspulse/internal/ports"
	"github.com/newspulse/newspulse/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg  config.Config
	jobs *usecase.Jobs
	db   *sql.DB
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	var (
		store ports.TopicStore
		db    *sql.DB
	)
	if cfg.Database.DSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		pg := storage.NewPostgresStore(db)
		if err := pg.EnsureSchema(context.Background(), cfg.Embedding.Dimension); err != nil {
			return nil, fmt.Errorf("prepare database: %w", err)
		}
		store = pg
	} else {
		baseLogger.Warn("no database DSN configured, using in-memory store")
		store = storage.NewMemoryStore()
	}

	strategy, err := cluster.NewStrategy(cluster.Config{
		Algorithm:         cfg.Clustering.Algorithm,
		DistanceThreshold: cfg.Clustering.DistanceThreshold,
		MinTopics:         cfg.Clustering.MinTopics,
		MaxTopics:         cfg.Clustering.MaxTopics,
		TopN:              cfg.Clustering.TopN,
		MinPointsPerTopic: cfg.Clustering.MinArticlesPerTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("build clustering strategy: %w", err)
	}

	var titles ports.TitleGenerator
	if cfg.Inference.Endpoint != "" {
		titles = inference.NewClient(cfg.Inference.Endpoint, cfg.Inference.APIKey,
			cfg.Inference.Timeout, cfg.Inference.RequestsPerSecond)
	}

	locks := datelock.NewKeyed()

	clusterer := usecase.NewClusterer(usecase.ClustererDeps{
		Store:    store,
		Locks:    locks,
		Strategy: strategy,
		Titles:   titles,
		Logger:   baseLogger.With("component", "clusterer"),
	}, usecase.ClustererOptions{
		TopN:                cfg.Clustering.TopN,
		MinTopics:           cfg.Clustering.MinTopics,
		MinArticlesPerTopic: cfg.Clustering.MinArticlesPerTopic,
		RecencyDecay:        hoursToDuration(cfg.Clustering.RecencyDecayHours),
		LockWait:            cfg.Scheduler.LockWait,
	})

	assigner := usecase.NewAssigner(usecase.AssignerDeps{
		Store:  store,
		Locks:  locks,
		Logger: baseLogger.With("component", "assigner"),
	}, usecase.AssignerOptions{
		SimilarityThreshold:  cfg.Assignment.SimilarityThreshold,
		CentroidUpdateWeight: cfg.Assignment.CentroidUpdateWeight,
		Lookback:             cfg.Assignment.Lookback,
		LockWait:             cfg.Scheduler.LockWait,
	})

	jobs := usecase.NewJobs(
		scheduler.NewIntervalScheduler(cfg.Scheduler.AssignInterval, false),
		scheduler.NewIntervalScheduler(cfg.Scheduler.ClusterInterval, true),
		assigner,
		clusterer,
		cfg.Scheduler.JobTimeout,
		cfg.Scheduler.Location(),
		baseLogger.With("component", "jobs"),
	)

	return &Application{cfg: cfg, jobs: jobs, db: db}, nil
}

// Run starts the recurring jobs and blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.jobs.Start(ctx); err != nil {
		return fmt.Errorf("start jobs: %w", err)
	}

	<-ctx.Done()

	stopCtx := context.Background()
	if err := a.jobs.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop jobs: %w", err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	return nil
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
