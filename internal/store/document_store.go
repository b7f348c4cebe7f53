package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rag-content-pipeline/models"
)

const documentsCollection = "documents"

var ErrDocumentNotFound = errors.New("document not found")

// MongoDocumentStore tracks source documents through the ingestion lifecycle.
type MongoDocumentStore struct {
	documents *mongo.Collection
}

func NewMongoDocumentStore(db *mongo.Database) *MongoDocumentStore {
	return &MongoDocumentStore{documents: db.Collection(documentsCollection)}
}

func (s *MongoDocumentStore) Create(ctx context.Context, doc *models.Document) error {
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}

	res, err := s.documents.InsertOne(ctx, doc)
	if err != nil {
		return err
	}
	doc.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *MongoDocumentStore) Get(ctx context.Context, id primitive.ObjectID) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (s *MongoDocumentStore) Update(ctx context.Context, doc *models.Document) error {
	res, err := s.documents.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// MarkFailed records a terminal ingestion failure without clobbering other
// fields written by a concurrent update.
func (s *MongoDocumentStore) MarkFailed(ctx context.Context, id primitive.ObjectID, reason string) error {
	now := time.Now()
	_, err := s.documents.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":        models.StatusFailed,
		"error_message": reason,
		"processed_at":  now,
	}})
	return err
}

func (s *MongoDocumentStore) List(ctx context.Context, category string) ([]models.Document, error) {
	filter := bson.M{}
	if category != "" {
		filter["category"] = category
	}

	cursor, err := s.documents.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *MongoDocumentStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.documents.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}
