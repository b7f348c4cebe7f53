package services

import (
	"errors"
	"strings"
	"testing"

	"rag-content-pipeline/models"
)

func validConfig(strategy models.ChunkStrategy) models.ChunkingConfig {
	return models.ChunkingConfig{
		Strategy:  strategy,
		ChunkSize: 100,
		Overlap:   20,
	}
}

func TestValidateChunkingConfigRejections(t *testing.T) {
	cases := []struct {
		name string
		cfg  models.ChunkingConfig
	}{
		{"zero chunk size", models.ChunkingConfig{Strategy: models.StrategyFixed, ChunkSize: 0}},
		{"negative chunk size", models.ChunkingConfig{Strategy: models.StrategyFixed, ChunkSize: -5}},
		{"negative overlap", models.ChunkingConfig{Strategy: models.StrategyFixed, ChunkSize: 100, Overlap: -1}},
		{"overlap equals size", models.ChunkingConfig{Strategy: models.StrategyFixed, ChunkSize: 100, Overlap: 100}},
		{"overlap beyond size", models.ChunkingConfig{Strategy: models.StrategyFixed, ChunkSize: 100, Overlap: 150}},
		{"unknown strategy", models.ChunkingConfig{Strategy: "clever", ChunkSize: 100, Overlap: 10}},
	}

	cs := NewChunkerService()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks, err := cs.Split("some text that is long enough to matter", "doc-1", tc.cfg)
			if err == nil {
				t.Fatalf("expected configuration error, got %d chunks", len(chunks))
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
			}
			if chunks != nil {
				t.Fatalf("no partial output expected on invalid config")
			}
		})
	}
}

func TestSplitEmptyText(t *testing.T) {
	cs := NewChunkerService()
	chunks, err := cs.Split("", "doc-1", validConfig(models.StrategyFixed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("empty text must yield zero chunks, got %d", len(chunks))
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	cs := NewChunkerService()
	text := "short text"

	for _, strategy := range models.KnownStrategies {
		chunks, err := cs.Split(text, "doc-1", validConfig(strategy))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", strategy, err)
		}
		if len(chunks) != 1 {
			t.Fatalf("%s: expected single chunk, got %d", strategy, len(chunks))
		}
		c := chunks[0]
		if c.Text != text || c.CharStart != 0 || c.CharEnd != len([]rune(text)) {
			t.Fatalf("%s: single chunk must equal whole text, got %+v", strategy, c)
		}
		if c.SequenceIndex != 0 {
			t.Fatalf("%s: sequence index must be 0, got %d", strategy, c.SequenceIndex)
		}
	}
}

// Every strategy must make strict forward progress and emit gapless
// sequence indexes, even on adversarial input with no boundaries at all.
func TestSplitMonotonicProgress(t *testing.T) {
	cs := NewChunkerService()
	texts := map[string]string{
		"no boundaries":      strings.Repeat("a", 5000),
		"sparse boundaries":  strings.Repeat("word ", 400) + ". " + strings.Repeat("tail", 500),
		"normal prose":       strings.Repeat("One sentence here. Another one follows! A question? ", 60),
		"paragraph breaks":   strings.Repeat("A paragraph of text.\n\n", 80),
		"unicode heavy text": strings.Repeat("これは文章です。もう一つの文。", 200),
	}

	for _, strategy := range models.KnownStrategies {
		for name, text := range texts {
			cfg := validConfig(strategy)
			chunks, err := cs.Split(text, "doc-1", cfg)
			if err != nil {
				t.Fatalf("%s/%s: unexpected error: %v", strategy, name, err)
			}
			if len(chunks) == 0 {
				t.Fatalf("%s/%s: no chunks produced", strategy, name)
			}

			for i, c := range chunks {
				if c.SequenceIndex != i {
					t.Fatalf("%s/%s: sequence index gap at %d: got %d", strategy, name, i, c.SequenceIndex)
				}
				if c.CharEnd <= c.CharStart {
					t.Fatalf("%s/%s: empty chunk span at %d: [%d,%d)", strategy, name, i, c.CharStart, c.CharEnd)
				}
				if i > 0 && c.CharStart <= chunks[i-1].CharStart {
					t.Fatalf("%s/%s: char_start not strictly increasing at %d: %d then %d",
						strategy, name, i, chunks[i-1].CharStart, c.CharStart)
				}
			}

			last := chunks[len(chunks)-1]
			if last.CharEnd != len([]rune(text)) {
				t.Fatalf("%s/%s: text tail not covered: last end %d, text %d",
					strategy, name, last.CharEnd, len([]rune(text)))
			}
		}
	}
}

// Stall regression: overlap pinned to a boundary position must not loop.
// With sparse sentence boundaries the snapped end can equal start+overlap,
// which would reproduce the same cursor forever without the guard.
func TestSplitStallGuard(t *testing.T) {
	cs := NewChunkerService()
	// A single early terminator, then a long run with none.
	text := "Intro. " + strings.Repeat("x", 3000)
	cfg := models.ChunkingConfig{
		Strategy:        models.StrategyFixed,
		ChunkSize:       50,
		Overlap:         45,
		SplitBySentence: true,
	}

	chunks, err := cs.Split(text, "doc-1", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Generous cap: the guard forces >= size-overlap progress per step on
	// average, so a runaway loop would blow far past this.
	if len(chunks) > 1200 {
		t.Fatalf("suspiciously many chunks (%d), cursor likely stalled", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].CharStart <= chunks[i-1].CharStart {
			t.Fatalf("cursor did not advance at chunk %d", i)
		}
	}
}

func TestSplitSentenceBoundaries(t *testing.T) {
	cs := NewChunkerService()
	text := "Sentence one. Sentence two. Sentence three."
	cfg := models.ChunkingConfig{
		Strategy:        models.StrategyFixed,
		ChunkSize:       20,
		Overlap:         5,
		SplitBySentence: true,
	}

	chunks, err := cs.Split(text, "doc-1", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// Every non-final chunk should end right after a sentence terminator.
	for i, c := range chunks[:len(chunks)-1] {
		trimmed := strings.TrimRight(c.Text, " ")
		if !strings.HasSuffix(trimmed, ".") {
			t.Fatalf("chunk %d does not end at a sentence boundary: %q", i, c.Text)
		}
	}
	if chunks[0].Text != "Sentence one." {
		t.Fatalf("first chunk mismatch: %q", chunks[0].Text)
	}
}

func TestSplitPreserveWords(t *testing.T) {
	cs := NewChunkerService()
	text := strings.Repeat("alpha beta gamma delta epsilon ", 50)
	cfg := models.ChunkingConfig{
		Strategy:      models.StrategyFixed,
		ChunkSize:     40,
		Overlap:       10,
		PreserveWords: true,
	}

	chunks, err := cs.Split(text, "doc-1", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runes := []rune(text)
	for i, c := range chunks[:len(chunks)-1] {
		// The cut may land on whitespace or just after it, never mid-word.
		if c.CharEnd < len(runes) {
			beforeSpace := c.CharEnd > 0 && runes[c.CharEnd-1] == ' '
			atSpace := runes[c.CharEnd] == ' '
			if !beforeSpace && !atSpace {
				t.Fatalf("chunk %d cuts mid-word at %d: ...%q|%q...",
					i, c.CharEnd, string(runes[c.CharEnd-3:c.CharEnd]), string(runes[c.CharEnd:c.CharEnd+3]))
			}
		}
	}
}

func TestSplitIdempotent(t *testing.T) {
	cs := NewChunkerService()
	text := strings.Repeat("Deterministic output matters. ", 40)
	cfg := validConfig(models.StrategyRecursive)

	first, err := cs.Split(text, "doc-1", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := cs.Split(text, "doc-1", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk count changed between runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Text != second[i].Text ||
			first[i].CharStart != second[i].CharStart ||
			first[i].CharEnd != second[i].CharEnd {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitParentChild(t *testing.T) {
	cs := NewChunkerService()
	text := strings.Repeat("Content for the parent and child split. ", 60)
	cfg := models.ChunkingConfig{
		Strategy:  models.StrategyParentChild,
		ChunkSize: 200,
		Overlap:   40,
	}

	chunks, err := cs.Split(text, "doc-1", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple child chunks, got %d", len(chunks))
	}

	maxParent := -1
	for i, c := range chunks {
		if c.ParentIndex < 0 {
			t.Fatalf("chunk %d missing parent index", i)
		}
		if c.ParentIndex < maxParent {
			t.Fatalf("parent index went backwards at chunk %d", i)
		}
		maxParent = c.ParentIndex
		if c.CharEnd-c.CharStart > cfg.ChunkSize {
			t.Fatalf("child chunk %d larger than parent size", i)
		}
	}
	if maxParent == 0 {
		t.Fatalf("expected more than one parent window")
	}
}

func TestSplitRuneOffsets(t *testing.T) {
	cs := NewChunkerService()
	text := strings.Repeat("héllo wörld ünïcode tèxt ", 30)
	cfg := models.ChunkingConfig{
		Strategy:      models.StrategyFixed,
		ChunkSize:     50,
		Overlap:       10,
		PreserveWords: true,
	}

	chunks, err := cs.Split(text, "doc-1", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runes := []rune(text)
	for i, c := range chunks {
		if string(runes[c.CharStart:c.CharEnd]) != c.Text {
			t.Fatalf("chunk %d text does not match its rune offsets", i)
		}
	}
}
