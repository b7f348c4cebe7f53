package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"rag-content-pipeline/internal/logger"
	"rag-content-pipeline/internal/telemetry"
	"rag-content-pipeline/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// RetrieverService embeds a query and returns the most similar indexed
// chunks. It is read-only; the embedding call is its only external effect.
type RetrieverService struct {
	embedder EmbeddingProvider
	store    ChunkStore
	cache    *ChunkCacheService
}

// NewRetrieverService creates a retriever. cache may be nil to disable
// result caching.
func NewRetrieverService(embedder EmbeddingProvider, store ChunkStore, cache *ChunkCacheService) *RetrieverService {
	return &RetrieverService{
		embedder: embedder,
		store:    store,
		cache:    cache,
	}
}

const defaultTopK = 5

// Search returns chunks above the similarity threshold sorted descending by
// score; equal scores are broken by the lower sequence index so results are
// deterministic. Zero hits surface as NoRelevantResultsError, never as an
// empty list.
func (rs *RetrieverService) Search(ctx context.Context, query models.RetrievalQuery) ([]models.RetrievedChunk, error) {
	tracer := otel.Tracer("retriever")
	ctx, span := tracer.Start(ctx, "retriever.search")
	defer span.End()

	topK := query.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	threshold := query.SimilarityThreshold
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}

	span.SetAttributes(
		attribute.Int("retrieval.top_k", topK),
		attribute.Float64("retrieval.threshold", threshold),
		attribute.String("retrieval.category", query.Category),
	)

	if rs.cache != nil {
		if hits, ok := rs.cache.GetQueryResult(ctx, query.Text, query.Category, topK, threshold); ok {
			span.SetAttributes(attribute.Bool("retrieval.cache_hit", true))
			return hits, nil
		}
	}

	vec, err := rs.embedder.Embed(ctx, query.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	started := time.Now()
	hits, err := rs.store.QuerySimilar(ctx, vec, topK, threshold, query.Category)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	telemetry.Default().RecordRetrieval(time.Since(started).Seconds(), query.Category, len(hits))

	if len(hits) == 0 {
		categories, catErr := rs.store.Categories(ctx)
		if catErr != nil {
			logger.Warn("failed to list categories for empty-result guidance", "error", catErr)
		}
		span.SetAttributes(attribute.Bool("retrieval.empty", true))
		return nil, &NoRelevantResultsError{
			Query:               query.Text,
			Threshold:           threshold,
			AvailableCategories: categories,
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].SequenceIndex < hits[j].SequenceIndex
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	if rs.cache != nil {
		rs.cache.PutQueryResult(ctx, query.Text, query.Category, topK, threshold, hits)
	}

	span.SetAttributes(attribute.Int("retrieval.results", len(hits)))
	return hits, nil
}
