package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document ingestion status values.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document is a source document registered for ingestion. Its chunks live in
// the chunks collection; deleting the document deletes them.
type Document struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title        string             `bson:"title" json:"title"`
	Category     string             `bson:"category,omitempty" json:"category,omitempty"`
	FilePath     string             `bson:"file_path,omitempty" json:"file_path,omitempty"`
	Text         string             `bson:"text,omitempty" json:"-"`
	Status       string             `bson:"status" json:"status"`
	ChunkCount   int                `bson:"chunk_count" json:"chunk_count"`
	CharCount    int                `bson:"char_count" json:"char_count"`
	ErrorMessage string             `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ChunkingUsed ChunkingConfig     `bson:"chunking_used" json:"chunking_used"`
	UploadedAt   time.Time          `bson:"uploaded_at" json:"uploaded_at"`
	ProcessedAt  *time.Time         `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}
