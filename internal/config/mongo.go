package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	// Create indexes
	err = createIndexes(client, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

func createIndexes(client *mongo.Client, dbName string) error {
	db := client.Database(dbName)

	// Documents collection indexes
	documentsCollection := db.Collection("documents")
	documentIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "category", Value: 1}},
		},
	}
	_, err := documentsCollection.Indexes().CreateMany(context.Background(), documentIndexes)
	if err != nil {
		return err
	}

	// Chunks collection indexes for vector search filters
	chunksCollection := db.Collection("chunks")
	chunkIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "source_doc_id", Value: 1}, {Key: "sequence_index", Value: 1}}},
		{Keys: bson.D{{Key: "chunk_id", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
	}
	_, err = chunksCollection.Indexes().CreateMany(context.Background(), chunkIndexes)
	if err != nil {
		return err
	}

	// Experiments collection indexes
	experimentsCollection := db.Collection("experiments")
	experimentIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
	}
	_, err = experimentsCollection.Indexes().CreateMany(context.Background(), experimentIndexes)
	if err != nil {
		return err
	}

	// Evaluation results collection indexes
	resultsCollection := db.Collection("evaluation_results")
	resultIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "experiment_id", Value: 1}, {Key: "case_index", Value: 1}}},
	}
	_, err = resultsCollection.Indexes().CreateMany(context.Background(), resultIndexes)
	if err != nil {
		return err
	}

	// Test cases collection indexes
	testCasesCollection := db.Collection("test_cases")
	testCaseIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "test_set_name", Value: 1}}},
	}
	_, err = testCasesCollection.Indexes().CreateMany(context.Background(), testCaseIndexes)
	if err != nil {
		return err
	}

	return nil
}
