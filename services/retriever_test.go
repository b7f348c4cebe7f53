package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"rag-content-pipeline/models"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeChunkStore struct {
	hits       []models.RetrievedChunk
	categories []string
	queryErr   error
}

func (f *fakeChunkStore) Persist(ctx context.Context, chunks []models.Chunk, embeddings [][]float32, title, category string) error {
	return nil
}

func (f *fakeChunkStore) QuerySimilar(ctx context.Context, embedding []float32, topK int, threshold float64, category string) ([]models.RetrievedChunk, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []models.RetrievedChunk
	for _, h := range f.hits {
		if h.Score >= threshold && (category == "" || h.Category == category) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) Categories(ctx context.Context) ([]string, error) {
	return f.categories, nil
}

func (f *fakeChunkStore) DeleteByDocument(ctx context.Context, sourceDocID string) error {
	return nil
}

func TestSearchOrdersByScoreDescending(t *testing.T) {
	store := &fakeChunkStore{hits: []models.RetrievedChunk{
		{ChunkText: "mid", Score: 0.85, SequenceIndex: 1},
		{ChunkText: "low", Score: 0.75, SequenceIndex: 2},
		{ChunkText: "high", Score: 0.95, SequenceIndex: 0},
	}}
	rs := NewRetrieverService(&fakeEmbedder{}, store, nil)

	hits, err := rs.Search(context.Background(), models.RetrievalQuery{Text: "q", TopK: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{0.95, 0.85, 0.75}
	if len(hits) != len(want) {
		t.Fatalf("expected %d hits, got %d", len(want), len(hits))
	}
	for i, w := range want {
		if hits[i].Score != w {
			t.Fatalf("hit %d: expected score %v, got %v", i, w, hits[i].Score)
		}
	}
}

func TestSearchTieBreakBySequenceIndex(t *testing.T) {
	store := &fakeChunkStore{hits: []models.RetrievedChunk{
		{ChunkText: "later", Score: 0.9, SequenceIndex: 7},
		{ChunkText: "earlier", Score: 0.9, SequenceIndex: 2},
	}}
	rs := NewRetrieverService(&fakeEmbedder{}, store, nil)

	hits, err := rs.Search(context.Background(), models.RetrievalQuery{Text: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits[0].SequenceIndex != 2 || hits[1].SequenceIndex != 7 {
		t.Fatalf("equal scores must order by sequence index: got %d then %d",
			hits[0].SequenceIndex, hits[1].SequenceIndex)
	}
}

func TestSearchTruncatesToTopK(t *testing.T) {
	var hits []models.RetrievedChunk
	for i := 0; i < 10; i++ {
		hits = append(hits, models.RetrievedChunk{
			ChunkText:     fmt.Sprintf("chunk %d", i),
			Score:         0.9 - float64(i)*0.01,
			SequenceIndex: i,
		})
	}
	rs := NewRetrieverService(&fakeEmbedder{}, &fakeChunkStore{hits: hits}, nil)

	got, err := rs.Search(context.Background(), models.RetrievalQuery{Text: "q", TopK: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(got))
	}
	if got[0].Score != 0.9 {
		t.Fatalf("expected best hit first, got %v", got[0].Score)
	}
}

func TestSearchNoResultsError(t *testing.T) {
	store := &fakeChunkStore{
		hits:       []models.RetrievedChunk{{ChunkText: "weak", Score: 0.3}},
		categories: []string{"billing", "onboarding"},
	}
	rs := NewRetrieverService(&fakeEmbedder{}, store, nil)

	hits, err := rs.Search(context.Background(), models.RetrievalQuery{
		Text:                "q",
		SimilarityThreshold: 0.8,
	})
	if hits != nil {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
	var nre *NoRelevantResultsError
	if !errors.As(err, &nre) {
		t.Fatalf("expected NoRelevantResultsError, got %T: %v", err, err)
	}
	if len(nre.AvailableCategories) != 2 {
		t.Fatalf("expected category guidance, got %v", nre.AvailableCategories)
	}
	if !IsNoRelevantResults(err) {
		t.Fatalf("IsNoRelevantResults must recognize the error")
	}
}

func TestSearchThresholdClamped(t *testing.T) {
	store := &fakeChunkStore{hits: []models.RetrievedChunk{{ChunkText: "a", Score: 0.5}}}
	rs := NewRetrieverService(&fakeEmbedder{}, store, nil)

	// A negative threshold clamps to 0, so the hit still qualifies.
	hits, err := rs.Search(context.Background(), models.RetrievalQuery{
		Text:                "q",
		SimilarityThreshold: -5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}

	// A threshold above 1 clamps to 1 and excludes everything below it.
	_, err = rs.Search(context.Background(), models.RetrievalQuery{
		Text:                "q",
		SimilarityThreshold: 7,
	})
	if !IsNoRelevantResults(err) {
		t.Fatalf("expected NoRelevantResultsError, got %v", err)
	}
}

func TestSearchEmbeddingFailure(t *testing.T) {
	rs := NewRetrieverService(&fakeEmbedder{err: errors.New("quota exhausted")}, &fakeChunkStore{}, nil)

	_, err := rs.Search(context.Background(), models.RetrievalQuery{Text: "q"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if IsNoRelevantResults(err) {
		t.Fatalf("embedding failure must not masquerade as empty results")
	}
}

func TestSearchCategoryFilter(t *testing.T) {
	store := &fakeChunkStore{hits: []models.RetrievedChunk{
		{ChunkText: "a", Score: 0.9, Category: "billing"},
		{ChunkText: "b", Score: 0.8, Category: "onboarding"},
	}}
	rs := NewRetrieverService(&fakeEmbedder{}, store, nil)

	hits, err := rs.Search(context.Background(), models.RetrievalQuery{Text: "q", Category: "onboarding"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].Category != "onboarding" {
		t.Fatalf("category filter not applied: %+v", hits)
	}
}
