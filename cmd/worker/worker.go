package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"rag-content-pipeline/internal/ai"
	"rag-content-pipeline/internal/config"
	"rag-content-pipeline/internal/logger"
	"rag-content-pipeline/internal/queue"
	"rag-content-pipeline/internal/store"
	"rag-content-pipeline/internal/telemetry"
	"rag-content-pipeline/services"
	"rag-content-pipeline/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("rag-content-pipeline-worker", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := utils.WithTimeout(context.Background())
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	redisClient, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer redisClient.Close()

	embedder, err := ai.NewEmbedder(cfg)
	if err != nil {
		log.Fatal("Failed to initialize embeddings provider:", err)
	}

	geminiClient, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiTier)
	if err != nil {
		log.Fatal("Failed to initialize Gemini client:", err)
	}
	defer geminiClient.Close()

	chunkStore := store.NewMongoChunkStore(db, cfg)
	experimentStore := store.NewMongoExperimentStore(db)
	documentStore := store.NewMongoDocumentStore(db)

	cache := services.NewChunkCacheService(redisClient, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	chunker := services.NewChunkerService()
	retriever := services.NewRetrieverService(embedder, chunkStore, cache)
	ingest := services.NewIngestService(chunker, embedder, chunkStore, documentStore, cache, cfg.EvaluatorWorkers)
	evaluator := services.NewEvaluatorService(retriever, geminiClient, experimentStore, cfg.EvaluatorWorkers)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(ingest, evaluator, documentStore)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocument, processor.ProcessIngest)
	mux.HandleFunc(queue.TaskEvaluateExperiment, processor.ProcessEvaluate)

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	sweeper := queue.NewSweeper(asynqClient, experimentStore, 5*time.Minute)
	if err := sweeper.Start(); err != nil {
		log.Fatal("Failed to start sweeper:", err)
	}
	defer sweeper.Stop()

	logger.Info("worker starting",
		"concurrency", 10,
		"redis", cfg.RedisURL)

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
