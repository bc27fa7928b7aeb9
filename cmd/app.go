package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/qaz741wsd856/blinko/internal/chunk"
	"github.com/qaz741wsd856/blinko/internal/config"
	"github.com/qaz741wsd856/blinko/internal/database"
	"github.com/qaz741wsd856/blinko/internal/indexer"
	"github.com/qaz741wsd856/blinko/internal/loader"
	"github.com/qaz741wsd856/blinko/internal/log"
	"github.com/qaz741wsd856/blinko/internal/note"
	"github.com/qaz741wsd856/blinko/internal/provider"
	"github.com/qaz741wsd856/blinko/internal/rebuild"
	"github.com/qaz741wsd856/blinko/internal/retrieve"
	"github.com/qaz741wsd856/blinko/internal/vector"
)

// app bundles the wired pipeline components a command needs.
type app struct {
	cfg     *config.Config
	logger  log.Logger
	pool    *pgxpool.Pool
	store   *note.PGStore
	index   *vector.Index
	indexer *indexer.Service
	rebuild *rebuild.Job
	engine  *retrieve.Engine
}

// newApp loads configuration, opens the migrated database and wires every
// pipeline component. Callers must invoke close when done.
func newApp(ctx context.Context) (*app, error) {
	logger := log.NewWithWriter(os.Stderr, log.Config{
		Level: logLevel(),
		JSON:  flagJSONLogs,
	})

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := database.OpenAndMigrate(ctx, cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	embedder, err := provider.New(cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	store := note.NewPGStore(pool, logger)
	index := vector.New(pool, cfg.EmbeddingDimensions, logger)
	files := loader.New(logger)

	svc := indexer.New(
		chunk.NewSplitter(chunk.DefaultSize, chunk.DefaultOverlap),
		embedder,
		index,
		files,
		store,
		indexer.Config{
			Collection:     cfg.Collection,
			ExcludeTagName: cfg.ExcludeTagName,
		},
		logger,
	)

	var limiter *rate.Limiter
	if cfg.EmbedRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRateLimit), 1)
	}
	job := rebuild.New(store, svc, index, cfg.Collection, limiter, logger)

	engine := retrieve.New(embedder, index, store, retrieve.Config{
		Collection:     cfg.Collection,
		TopK:           cfg.TopK,
		ScoreThreshold: cfg.ScoreThreshold,
	}, logger)

	logger.Debug("application wired",
		"provider", embedder.Name(),
		"model", cfg.ResolvedEmbeddingModel(),
		"collection", cfg.Collection)

	return &app{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		store:   store,
		index:   index,
		indexer: svc,
		rebuild: job,
		engine:  engine,
	}, nil
}

func (a *app) close() {
	a.pool.Close()
}
