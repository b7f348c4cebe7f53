package services

import (
	"unicode"

	"rag-content-pipeline/models"

	"github.com/google/uuid"
)

// ChunkerService splits raw document text into overlapping chunks under a
// configurable strategy. Splitting is pure and synchronous; a service value
// is safe for concurrent use across documents.
type ChunkerService struct{}

// NewChunkerService creates a new chunker service.
func NewChunkerService() *ChunkerService {
	return &ChunkerService{}
}

// ValidateChunkingConfig rejects configurations before any chunking attempt.
func ValidateChunkingConfig(cfg models.ChunkingConfig) error {
	if cfg.ChunkSize <= 0 {
		return &ConfigurationError{Field: "chunk_size", Reason: "must be positive"}
	}
	if cfg.Overlap < 0 {
		return &ConfigurationError{Field: "overlap", Reason: "must not be negative"}
	}
	if cfg.Overlap >= cfg.ChunkSize {
		return &ConfigurationError{Field: "overlap", Reason: "must be smaller than chunk_size"}
	}
	known := false
	for _, s := range models.KnownStrategies {
		if cfg.Strategy == s {
			known = true
			break
		}
	}
	if !known {
		return &ConfigurationError{Field: "strategy", Reason: "unknown strategy " + string(cfg.Strategy)}
	}
	return nil
}

// boundaryPrefs controls how a raw window end is adjusted. Which preferences
// apply depends on the strategy and the config flags.
type boundaryPrefs struct {
	paragraph bool
	sentence  bool
	word      bool
}

func prefsFor(cfg models.ChunkingConfig) boundaryPrefs {
	switch cfg.Strategy {
	case models.StrategyRecursive:
		// Full boundary hierarchy: paragraph, then sentence, then word.
		return boundaryPrefs{paragraph: true, sentence: true, word: true}
	case models.StrategySemantic:
		return boundaryPrefs{paragraph: true, sentence: cfg.SplitBySentence, word: cfg.PreserveWords}
	default:
		return boundaryPrefs{sentence: cfg.SplitBySentence, word: cfg.PreserveWords}
	}
}

// Split chunks text under cfg. Offsets are rune-based. Empty text yields no
// chunks; text shorter than chunk_size yields a single chunk equal to the
// whole text. Chunks come out in reading order with gapless 0-based
// sequence indexes and strictly increasing char_start.
func (cs *ChunkerService) Split(text string, sourceDocID string, cfg models.ChunkingConfig) ([]models.Chunk, error) {
	if err := ValidateChunkingConfig(cfg); err != nil {
		return nil, err
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return []models.Chunk{}, nil
	}

	if len(runes) <= cfg.ChunkSize {
		return []models.Chunk{{
			ChunkID:       uuid.NewString(),
			SourceDocID:   sourceDocID,
			SequenceIndex: 0,
			StrategyTag:   string(cfg.Strategy),
			Text:          text,
			CharStart:     0,
			CharEnd:       len(runes),
		}}, nil
	}

	if cfg.Strategy == models.StrategyParentChild {
		return cs.splitParentChild(runes, sourceDocID, cfg), nil
	}

	chunks := cs.splitRegion(runes, 0, len(runes), cfg.ChunkSize, cfg.Overlap,
		prefsFor(cfg), sourceDocID, string(cfg.Strategy), 0, -1)
	return chunks, nil
}

// splitRegion runs the cursor loop over runes[lo:hi). The next cursor is
// end-overlap, but it must always move strictly forward: when boundary
// snapping would pin it at or before the current start, the overlap is
// dropped for that step and the cursor jumps to end. Sparse sentence
// boundaries on long documents otherwise resolve to the same absolute
// position forever.
func (cs *ChunkerService) splitRegion(runes []rune, lo, hi, size, overlap int, prefs boundaryPrefs, docID, tag string, seqStart, parentIdx int) []models.Chunk {
	var chunks []models.Chunk

	emit := func(start, end int) {
		c := models.Chunk{
			ChunkID:       uuid.NewString(),
			SourceDocID:   docID,
			SequenceIndex: seqStart + len(chunks),
			StrategyTag:   tag,
			Text:          string(runes[start:end]),
			CharStart:     start,
			CharEnd:       end,
		}
		if parentIdx >= 0 {
			c.ParentIndex = parentIdx
		}
		chunks = append(chunks, c)
	}

	if hi-lo <= size {
		emit(lo, hi)
		return chunks
	}

	start := lo
	for {
		end := start + size
		if end >= hi {
			end = hi
		} else {
			end = snapBoundary(runes, start, end, prefs)
		}

		emit(start, end)

		if end >= hi {
			return chunks
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
}

// splitParentChild produces child chunks nested inside non-overlapping
// parent windows. Children (half the configured size) are what gets embedded
// for matching; ParentIndex lets retrieval hand the wider parent span to the
// generator. Emitted children keep the global ordering invariants.
func (cs *ChunkerService) splitParentChild(runes []rune, docID string, cfg models.ChunkingConfig) []models.Chunk {
	childSize := cfg.ChunkSize / 2
	if childSize < 1 {
		childSize = 1
	}
	childOverlap := cfg.Overlap / 2
	if childOverlap >= childSize {
		childOverlap = childSize - 1
	}
	prefs := boundaryPrefs{sentence: cfg.SplitBySentence, word: cfg.PreserveWords}

	// Parents tile the document without overlap so children never run
	// backwards across a parent boundary.
	parents := cs.splitRegion(runes, 0, len(runes), cfg.ChunkSize, 0,
		boundaryPrefs{}, docID, string(models.StrategyParentChild), 0, -1)

	var children []models.Chunk
	for pi, p := range parents {
		part := cs.splitRegion(runes, p.CharStart, p.CharEnd, childSize, childOverlap,
			prefs, docID, string(models.StrategyParentChild), len(children), pi)
		children = append(children, part...)
	}
	return children
}

// snapBoundary adjusts a raw window end [start, rawEnd) to a cleaner cut.
// Paragraph breaks win outright; a sentence terminator inside the window is
// next; preserve_words retracts a mid-word cut to the preceding whitespace.
// The result is always strictly past start.
func snapBoundary(runes []rune, start, rawEnd int, prefs boundaryPrefs) int {
	if prefs.paragraph {
		if p := lastParagraphBreak(runes, start, rawEnd); p > start {
			return p
		}
	}

	end := rawEnd
	sentenceSnapped := false
	if prefs.sentence {
		if s := lastSentenceEnd(runes, start, rawEnd); s > start {
			end = s
			sentenceSnapped = true
		}
	}

	if prefs.word && !sentenceSnapped && end < len(runes) {
		if !unicode.IsSpace(runes[end]) && !unicode.IsSpace(runes[end-1]) {
			if w := lastWhitespace(runes, start, end); w > start {
				end = w + 1
			}
		}
	}

	if end <= start {
		end = rawEnd
	}
	return end
}

func isSentenceTerminator(r rune) bool {
	switch r {
	case '.', '。', '!', '?', '！', '？':
		return true
	}
	return false
}

// lastSentenceEnd returns the exclusive end just past the last sentence
// terminator in [start, rawEnd), or start when there is none.
func lastSentenceEnd(runes []rune, start, rawEnd int) int {
	for i := rawEnd - 1; i >= start; i-- {
		if isSentenceTerminator(runes[i]) {
			return i + 1
		}
	}
	return start
}

// lastParagraphBreak returns the exclusive end just past the last blank-line
// break in [start, rawEnd), or start when there is none.
func lastParagraphBreak(runes []rune, start, rawEnd int) int {
	for i := rawEnd - 1; i > start; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	return start
}

func lastWhitespace(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return start
}
