package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rag-content-pipeline/models"
)

const (
	experimentsCollection = "experiments"
	resultsCollection     = "evaluation_results"
	testCasesCollection   = "test_cases"
)

var ErrExperimentNotFound = errors.New("experiment not found")

// MongoExperimentStore persists experiments, per-case evaluation results,
// and test sets.
type MongoExperimentStore struct {
	experiments *mongo.Collection
	results     *mongo.Collection
	testCases   *mongo.Collection
}

func NewMongoExperimentStore(db *mongo.Database) *MongoExperimentStore {
	return &MongoExperimentStore{
		experiments: db.Collection(experimentsCollection),
		results:     db.Collection(resultsCollection),
		testCases:   db.Collection(testCasesCollection),
	}
}

func (s *MongoExperimentStore) Create(ctx context.Context, exp *models.Experiment) error {
	if exp.Status == "" {
		exp.Status = models.ExperimentPending
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now()
	}

	res, err := s.experiments.InsertOne(ctx, exp)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("experiment name already exists: %s", exp.Name)
		}
		return err
	}
	exp.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *MongoExperimentStore) Get(ctx context.Context, id primitive.ObjectID) (*models.Experiment, error) {
	var exp models.Experiment
	err := s.experiments.FindOne(ctx, bson.M{"_id": id}).Decode(&exp)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrExperimentNotFound
		}
		return nil, err
	}
	return &exp, nil
}

func (s *MongoExperimentStore) Update(ctx context.Context, exp *models.Experiment) error {
	res, err := s.experiments.ReplaceOne(ctx, bson.M{"_id": exp.ID}, exp)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrExperimentNotFound
	}
	return nil
}

// TryStart atomically flips pending -> running. Returns false when the
// experiment was not pending, so concurrent runners lose the race cleanly.
func (s *MongoExperimentStore) TryStart(ctx context.Context, id primitive.ObjectID) (bool, error) {
	now := time.Now()
	err := s.experiments.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.ExperimentPending},
		bson.M{"$set": bson.M{"status": models.ExperimentRunning, "started_at": now}},
	).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *MongoExperimentStore) SaveResults(ctx context.Context, results []models.EvaluationResult) error {
	if len(results) == 0 {
		return nil
	}
	docs := make([]interface{}, len(results))
	for i := range results {
		if results[i].CreatedAt.IsZero() {
			results[i].CreatedAt = time.Now()
		}
		docs[i] = results[i]
	}
	_, err := s.results.InsertMany(ctx, docs)
	return err
}

func (s *MongoExperimentStore) ListByStatus(ctx context.Context, status string) ([]models.Experiment, error) {
	return s.list(ctx, bson.M{"status": status})
}

func (s *MongoExperimentStore) ListCompleted(ctx context.Context) ([]models.Experiment, error) {
	return s.list(ctx, bson.M{"status": models.ExperimentCompleted})
}

func (s *MongoExperimentStore) list(ctx context.Context, filter bson.M) ([]models.Experiment, error) {
	cursor, err := s.experiments.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var exps []models.Experiment
	if err := cursor.All(ctx, &exps); err != nil {
		return nil, err
	}
	return exps, nil
}

func (s *MongoExperimentStore) ResultsFor(ctx context.Context, id primitive.ObjectID) ([]models.EvaluationResult, error) {
	cursor, err := s.results.Find(ctx, bson.M{"experiment_id": id})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []models.EvaluationResult
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *MongoExperimentStore) TestCases(ctx context.Context, testSetName string) ([]models.TestCase, error) {
	cursor, err := s.testCases.Find(ctx, bson.M{"test_set_name": testSetName})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var cases []models.TestCase
	if err := cursor.All(ctx, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

func (s *MongoExperimentStore) TestSetNames(ctx context.Context) ([]string, error) {
	raw, err := s.testCases.Distinct(ctx, "test_set_name", bson.M{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			names = append(names, str)
		}
	}
	return names, nil
}

// SaveTestCases inserts a batch of test cases for a named test set.
func (s *MongoExperimentStore) SaveTestCases(ctx context.Context, cases []models.TestCase) error {
	if len(cases) == 0 {
		return nil
	}
	docs := make([]interface{}, len(cases))
	for i := range cases {
		docs[i] = cases[i]
	}
	_, err := s.testCases.InsertMany(ctx, docs)
	return err
}
