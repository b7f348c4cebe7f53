package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rag-content-pipeline/internal/config"
	"rag-content-pipeline/internal/logger"
	"rag-content-pipeline/models"
	"rag-content-pipeline/utils"
)

const chunksCollection = "chunks"

// MongoChunkStore persists indexed chunks in MongoDB. Similarity queries use
// Atlas $vectorSearch when enabled, otherwise an exhaustive cosine scan over
// the candidate set. Chunk text above the compression cutoff is stored
// compressed and base64-encoded in place.
type MongoChunkStore struct {
	collection    *mongo.Collection
	vectorEnabled bool
	vectorIndex   string
}

func NewMongoChunkStore(db *mongo.Database, cfg *config.Config) *MongoChunkStore {
	return &MongoChunkStore{
		collection:    db.Collection(chunksCollection),
		vectorEnabled: cfg.VectorSearchEnabled,
		vectorIndex:   cfg.VectorIndexName,
	}
}

// Persist upserts one indexed record per chunk, keyed by (source_doc_id,
// chunk_id) so re-ingesting a document replaces its chunks in place.
func (s *MongoChunkStore) Persist(ctx context.Context, chunks []models.Chunk, embeddings [][]float32, title, category string) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	batch := make([]mongo.WriteModel, 0, len(chunks))
	for i, ch := range chunks {
		rec := models.IndexedChunk{
			SourceDocID:   ch.SourceDocID,
			ChunkID:       ch.ChunkID,
			SequenceIndex: ch.SequenceIndex,
			StrategyTag:   ch.StrategyTag,
			Text:          ch.Text,
			CharStart:     ch.CharStart,
			CharEnd:       ch.CharEnd,
			DocumentTitle: title,
			Category:      category,
			Vector:        embeddings[i],
		}
		compressRecord(&rec)

		batch = append(batch, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"source_doc_id": rec.SourceDocID, "chunk_id": rec.ChunkID}).
			SetUpdate(bson.M{"$set": rec}).
			SetUpsert(true))
	}

	_, err := s.collection.BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}
	return nil
}

// QuerySimilar returns chunks scoring at or above threshold, best first,
// at most topK.
func (s *MongoChunkStore) QuerySimilar(ctx context.Context, embedding []float32, topK int, threshold float64, category string) ([]models.RetrievedChunk, error) {
	if s.vectorEnabled {
		return s.vectorSearch(ctx, embedding, topK, threshold, category)
	}
	return s.scanSearch(ctx, embedding, topK, threshold, category)
}

func (s *MongoChunkStore) vectorSearch(ctx context.Context, embedding []float32, topK int, threshold float64, category string) ([]models.RetrievedChunk, error) {
	vectorStage := bson.M{
		"index":         s.vectorIndex,
		"path":          "vector",
		"queryVector":   embedding,
		"numCandidates": topK * 10,
		"limit":         topK,
	}
	if category != "" {
		vectorStage["filter"] = bson.M{"category": category}
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$vectorSearch", Value: vectorStage}},
		bson.D{{Key: "$addFields", Value: bson.M{"score": bson.M{"$meta": "vectorSearchScore"}}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.RetrievedChunk
	for cursor.Next(ctx) {
		var rec struct {
			models.IndexedChunk `bson:",inline"`
			Score               float64 `bson:"score"`
		}
		if err := cursor.Decode(&rec); err != nil {
			return nil, err
		}
		if rec.Score < threshold {
			continue
		}
		text, err := recordText(rec.IndexedChunk)
		if err != nil {
			logger.Warn("skipping undecodable chunk", "chunk_id", rec.ChunkID, "error", err)
			continue
		}
		results = append(results, models.RetrievedChunk{
			ChunkText:     text,
			DocumentTitle: rec.DocumentTitle,
			Score:         rec.Score,
			SequenceIndex: rec.SequenceIndex,
			Category:      rec.Category,
		})
	}
	return results, cursor.Err()
}

func (s *MongoChunkStore) scanSearch(ctx context.Context, embedding []float32, topK int, threshold float64, category string) ([]models.RetrievedChunk, error) {
	filter := bson.M{"vector": bson.M{"$exists": true}}
	if category != "" {
		filter["category"] = category
	}

	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("chunk scan failed: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.RetrievedChunk
	for cursor.Next(ctx) {
		var rec models.IndexedChunk
		if err := cursor.Decode(&rec); err != nil {
			return nil, err
		}
		score := cosineSimilarity(embedding, rec.Vector)
		if score < threshold {
			continue
		}
		text, err := recordText(rec)
		if err != nil {
			logger.Warn("skipping undecodable chunk", "chunk_id", rec.ChunkID, "error", err)
			continue
		}
		results = append(results, models.RetrievedChunk{
			ChunkText:     text,
			DocumentTitle: rec.DocumentTitle,
			Score:         score,
			SequenceIndex: rec.SequenceIndex,
			Category:      rec.Category,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Categories lists the distinct non-empty categories of indexed chunks.
func (s *MongoChunkStore) Categories(ctx context.Context) ([]string, error) {
	raw, err := s.collection.Distinct(ctx, "category", bson.M{"category": bson.M{"$ne": ""}})
	if err != nil {
		return nil, err
	}
	categories := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			categories = append(categories, str)
		}
	}
	sort.Strings(categories)
	return categories, nil
}

func (s *MongoChunkStore) DeleteByDocument(ctx context.Context, sourceDocID string) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{"source_doc_id": sourceDocID})
	return err
}

// compressRecord compresses the chunk text in place when it is large enough
// to be worth it. Compressed text is base64-encoded so it stays a string.
func compressRecord(rec *models.IndexedChunk) {
	compressed, algorithm, err := utils.CompressText(rec.Text)
	if err != nil || algorithm == utils.CompressionNone {
		return
	}
	rec.Compressed = true
	rec.Compression = string(algorithm)
	rec.Text = base64.StdEncoding.EncodeToString(compressed)
}

func recordText(rec models.IndexedChunk) (string, error) {
	if !rec.Compressed {
		return rec.Text, nil
	}
	compressed, err := base64.StdEncoding.DecodeString(rec.Text)
	if err != nil {
		return "", fmt.Errorf("failed to decode chunk: %w", err)
	}
	return utils.DecompressText(compressed, utils.CompressionAlgorithm(rec.Compression))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
