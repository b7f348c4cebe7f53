package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"rag-content-pipeline/internal/ai"
	"rag-content-pipeline/internal/config"
	"rag-content-pipeline/internal/logger"
	"rag-content-pipeline/internal/store"
	"rag-content-pipeline/internal/telemetry"
	"rag-content-pipeline/middleware"
	"rag-content-pipeline/models"
	"rag-content-pipeline/routes"
	"rag-content-pipeline/services"
	"rag-content-pipeline/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("rag-content-pipeline-api", cfg.OTLPEndpoint)
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

	chunkStore := store.NewMongoChunkStore(db, cfg)
	experimentStore := store.NewMongoExperimentStore(db)
	documentStore := store.NewMongoDocumentStore(db)

	cache := services.NewChunkCacheService(redisClient, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	retriever := services.NewRetrieverService(embedder, chunkStore, cache)
	analysis := services.NewAnalysisService()
	export := services.NewExportService(experimentStore, analysis)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()

	if cfg.Env == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Requested-With"}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.RateLimitMiddleware(redisClient, cfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	defaultChunking := models.ChunkingConfig{
		Strategy:  models.StrategyRecursive,
		ChunkSize: cfg.MaxChunkSize,
		Overlap:   cfg.ChunkOverlap,
	}

	routes.SetupSearchRoutes(router, retriever)
	routes.SetupDocumentRoutes(router, documentStore, chunkStore, asynqClient, defaultChunking)
	routes.SetupExperimentRoutes(router, experimentStore, analysis, export, asynqClient)
	routes.SetupTestSetRoutes(router, experimentStore)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := utils.WithLongTimeout(context.Background())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("server exited")
}
