package store

import (
	"math"
	"strings"
	"testing"

	"rag-content-pipeline/models"
)

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tc := range cases {
		got := cosineSimilarity(tc.a, tc.b)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestCompressRecordRoundTrip(t *testing.T) {
	long := strings.Repeat("This chunk is long enough to be worth compressing. ", 30)
	rec := models.IndexedChunk{ChunkID: "c1", Text: long}

	compressRecord(&rec)
	if !rec.Compressed {
		t.Fatalf("expected large text to be compressed")
	}
	if rec.Text == long {
		t.Fatalf("text should be stored encoded")
	}

	got, err := recordText(rec)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != long {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompressRecordSkipsSmallText(t *testing.T) {
	rec := models.IndexedChunk{ChunkID: "c1", Text: "tiny"}
	compressRecord(&rec)
	if rec.Compressed {
		t.Fatalf("small text must not be compressed")
	}
	got, err := recordText(rec)
	if err != nil || got != "tiny" {
		t.Fatalf("uncompressed text must pass through, got %q / %v", got, err)
	}
}
