package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// ChunkStrategy selects how a document is split into chunks.
type ChunkStrategy string

const (
	StrategyFixed         ChunkStrategy = "fixed"
	StrategyRecursive     ChunkStrategy = "recursive"
	StrategyParentChild   ChunkStrategy = "parent_child"
	StrategySemantic      ChunkStrategy = "semantic"
	StrategySlidingWindow ChunkStrategy = "sliding_window"
)

// KnownStrategies lists every supported chunking strategy.
var KnownStrategies = []ChunkStrategy{
	StrategyFixed,
	StrategyRecursive,
	StrategyParentChild,
	StrategySemantic,
	StrategySlidingWindow,
}

// ChunkingConfig describes how a document should be chunked.
// Immutable once chunks have been produced from it.
type ChunkingConfig struct {
	Strategy        ChunkStrategy `json:"strategy" bson:"strategy"`
	ChunkSize       int           `json:"chunk_size" bson:"chunk_size"`
	Overlap         int           `json:"overlap" bson:"overlap"`
	SplitBySentence bool          `json:"split_by_sentence" bson:"split_by_sentence"`
	PreserveWords   bool          `json:"preserve_words" bson:"preserve_words"`
}

// Chunk is a contiguous slice of a source document's text, the atomic unit
// indexed for retrieval. CharStart/CharEnd are rune offsets into the source.
type Chunk struct {
	ChunkID       string `json:"chunk_id" bson:"chunk_id"`
	SourceDocID   string `json:"source_doc_id" bson:"source_doc_id"`
	SequenceIndex int    `json:"sequence_index" bson:"sequence_index"`
	ParentIndex   int    `json:"parent_index,omitempty" bson:"parent_index,omitempty"`
	StrategyTag   string `json:"strategy_tag" bson:"strategy_tag"`
	Text          string `json:"text" bson:"text"`
	CharStart     int    `json:"char_start" bson:"char_start"`
	CharEnd       int    `json:"char_end" bson:"char_end"`
}

// IndexedChunk is a denormalized chunk record for vector search. Keeping a
// separate collection enables efficient $vectorSearch with category filters.
type IndexedChunk struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	SourceDocID   string             `bson:"source_doc_id"`
	ChunkID       string             `bson:"chunk_id"`
	SequenceIndex int                `bson:"sequence_index"`
	StrategyTag   string             `bson:"strategy_tag"`
	Text          string             `bson:"text"`
	Compressed    bool               `bson:"compressed,omitempty"`
	Compression   string             `bson:"compression,omitempty"`
	CharStart     int                `bson:"char_start"`
	CharEnd       int                `bson:"char_end"`
	DocumentTitle string             `bson:"document_title"`
	Category      string             `bson:"category,omitempty"`
	Vector        []float32          `bson:"vector,omitempty"`
}
