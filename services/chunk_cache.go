package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rag-content-pipeline/internal/logger"
	"rag-content-pipeline/models"
	"rag-content-pipeline/utils"
)

// ChunkCacheService caches query results and embeddings in Redis. Cache
// failures are logged and treated as misses; Redis being down never fails a
// search.
type ChunkCacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewChunkCacheService(client *redis.Client, ttl time.Duration) *ChunkCacheService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ChunkCacheService{client: client, ttl: ttl}
}

func queryKey(text, category string, topK int, threshold float64) string {
	return utils.CacheKey("query",
		text,
		category,
		fmt.Sprintf("%d", topK),
		fmt.Sprintf("%.4f", threshold),
	)
}

// GetQueryResult returns a cached search result for the exact query shape.
func (cc *ChunkCacheService) GetQueryResult(ctx context.Context, text, category string, topK int, threshold float64) ([]models.RetrievedChunk, bool) {
	raw, err := cc.client.Get(ctx, queryKey(text, category, topK, threshold)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("query cache read failed", "error", err)
		}
		return nil, false
	}

	var hits []models.RetrievedChunk
	if err := json.Unmarshal(raw, &hits); err != nil {
		logger.Warn("query cache entry corrupt", "error", err)
		return nil, false
	}
	return hits, true
}

// PutQueryResult caches a search result with the configured TTL.
func (cc *ChunkCacheService) PutQueryResult(ctx context.Context, text, category string, topK int, threshold float64, hits []models.RetrievedChunk) {
	raw, err := json.Marshal(hits)
	if err != nil {
		logger.Warn("query cache marshal failed", "error", err)
		return
	}
	if err := cc.client.Set(ctx, queryKey(text, category, topK, threshold), raw, cc.ttl).Err(); err != nil {
		logger.Warn("query cache write failed", "error", err)
	}
}

// GetEmbedding returns a cached embedding vector for the text.
func (cc *ChunkCacheService) GetEmbedding(ctx context.Context, text string) ([]float32, bool) {
	raw, err := cc.client.Get(ctx, utils.CacheKey("embedding", text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("embedding cache read failed", "error", err)
		}
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		logger.Warn("embedding cache entry corrupt", "error", err)
		return nil, false
	}
	return vec, true
}

// PutEmbedding caches an embedding vector. Embeddings are deterministic per
// model so they get a longer TTL than query results.
func (cc *ChunkCacheService) PutEmbedding(ctx context.Context, text string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := cc.client.Set(ctx, utils.CacheKey("embedding", text), raw, 24*cc.ttl).Err(); err != nil {
		logger.Warn("embedding cache write failed", "error", err)
	}
}

// InvalidateQueries drops all cached query results. Called after ingestion
// changes the indexed corpus, since any cached result may now be stale.
func (cc *ChunkCacheService) InvalidateQueries(ctx context.Context) error {
	iter := cc.client.Scan(ctx, 0, "query:*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 500 {
			if err := cc.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return cc.client.Del(ctx, keys...).Err()
	}
	return nil
}
