package models

// RetrievalQuery describes a similarity search over indexed chunks.
type RetrievalQuery struct {
	Text                string  `json:"text" binding:"required"`
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	Category            string  `json:"category,omitempty"`
}

// RetrievedChunk is one search hit. Score is the similarity measure
// (1 - cosine distance), expected in [0,1] for normalized embeddings.
type RetrievedChunk struct {
	ChunkText     string  `json:"chunk_text" bson:"text"`
	DocumentTitle string  `json:"document_title" bson:"document_title"`
	Score         float64 `json:"similarity_score" bson:"score"`
	SequenceIndex int     `json:"sequence_index" bson:"sequence_index"`
	Category      string  `json:"category,omitempty" bson:"category,omitempty"`
}
