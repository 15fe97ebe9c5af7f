package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/ilovetoast/brandlens/internal/asset"
	"github.com/ilovetoast/brandlens/internal/audit"
	"github.com/ilovetoast/brandlens/internal/brand"
	"github.com/ilovetoast/brandlens/internal/cache"
	"github.com/ilovetoast/brandlens/internal/coloranalysis"
	"github.com/ilovetoast/brandlens/internal/config"
	"github.com/ilovetoast/brandlens/internal/database"
	"github.com/ilovetoast/brandlens/internal/embedding"
	"github.com/ilovetoast/brandlens/internal/embeddingstore"
	"github.com/ilovetoast/brandlens/internal/incident"
	"github.com/ilovetoast/brandlens/internal/pipeline"
	"github.com/ilovetoast/brandlens/internal/queue"
	"github.com/ilovetoast/brandlens/internal/recovery"
	"github.com/ilovetoast/brandlens/internal/scoring"
	"github.com/ilovetoast/brandlens/internal/storage"
	"github.com/ilovetoast/brandlens/internal/tagging"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// Services
	assetRepo := asset.NewRepo(db)
	auditSvc := audit.NewService(db)
	incidentSvc := incident.NewService(db)
	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	centroidCache := cache.NewCache(rdb)
	brandSvc := brand.NewService(db, centroidCache)
	scoreStore := scoring.NewPgScoreStore(db)
	embedStore := embeddingstore.NewPgStore(db)
	engine := scoring.NewEngine(assetRepo, brandSvc, embedStore, scoreStore,
		centroidCache, auditSvc, scoring.DefaultOptions())

	store := storage.NewObjectStore(cfg.Storage)
	colorEngine := coloranalysis.NewEngine(coloranalysis.DefaultOptions())
	embedder := embedding.NewOpenAIProvider(cfg.Embedding)
	tagger := tagging.NewAnthropicTagger(cfg.Tagging)

	// Stage workers
	processW := pipeline.NewProcessWorker(assetRepo)
	metadataW := pipeline.NewMetadataWorker(assetRepo, store, colorEngine, queueClient,
		cfg.Storage.Bucket, cfg.Pipeline.ThumbnailStyle)
	embeddingW := pipeline.NewEmbeddingWorker(assetRepo, embedder, cfg.Embedding.Model, queueClient)
	scoringW := pipeline.NewScoringWorker(assetRepo, engine)
	taggingW := pipeline.NewTaggingWorker(assetRepo, store, tagger, queueClient,
		cfg.Storage.Bucket, cfg.Pipeline.ThumbnailStyle)

	scanner := recovery.NewScanner(assetRepo, embedStore, incidentSvc,
		incident.LogTicketer{}, queueClient, recovery.Options{StallTimeout: cfg.Pipeline.StallTimeout})
	recoveryW := recovery.NewWorker(scanner)

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeAssetProcess, asynq.HandlerFunc(processW.ProcessTask))
	registry.Register(queue.TypeAssetExtractMetadata, asynq.HandlerFunc(metadataW.ProcessTask))
	registry.Register(queue.TypeAssetGenerateEmbedding, asynq.HandlerFunc(embeddingW.ProcessTask))
	registry.Register(queue.TypeAssetScore, asynq.HandlerFunc(scoringW.ProcessTask))
	registry.Register(queue.TypeAssetTag, asynq.HandlerFunc(taggingW.ProcessTask))
	registry.Register(queue.TypeRecoveryScan, asynq.HandlerFunc(recoveryW.ProcessTask))

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
