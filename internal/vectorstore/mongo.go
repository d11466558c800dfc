package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docqa-platform/internal/logger"
)

// MongoStore persists vectors in a MongoDB collection. When an Atlas vector
// search index is available it uses $vectorSearch; otherwise it falls back to
// an exact cosine scan over the tenant's points, which is fine at the corpus
// sizes a single tenant accumulates.
type MongoStore struct {
	collection  *mongo.Collection
	indexName   string
	dimensions  int
	atlasSearch bool
}

func NewMongoStore(db *mongo.Database, indexName string, dimensions int, atlasSearch bool) *MongoStore {
	return &MongoStore{
		collection:  db.Collection("vector_points"),
		indexName:   indexName,
		dimensions:  dimensions,
		atlasSearch: atlasSearch,
	}
}

func (s *MongoStore) ReplaceForDoc(ctx context.Context, tenantID, docID string, points []Point) error {
	for i := range points {
		if err := ValidateVector(points[i].Vector, s.dimensions); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
	}

	if _, err := s.collection.DeleteMany(ctx, bson.M{
		"payload.tenant_id": tenantID,
		"payload.doc_id":    docID,
	}); err != nil {
		return fmt.Errorf("failed to delete existing points: %w", err)
	}

	if len(points) == 0 {
		return nil
	}

	docs := make([]interface{}, len(points))
	for i, p := range points {
		docs[i] = p
	}
	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert points: %w", err)
	}

	logger.Debug("Replaced vector points", "tenant_id", tenantID, "doc_id", docID, "count", len(points))
	return nil
}

func (s *MongoStore) Search(ctx context.Context, vector []float32, filter Filter, topK int) ([]Result, error) {
	if err := ValidateVector(vector, s.dimensions); err != nil {
		return nil, err
	}
	if filter.TenantID == "" {
		return nil, fmt.Errorf("tenant filter is required")
	}
	if topK <= 0 {
		topK = 3
	}

	if s.atlasSearch {
		return s.searchAtlas(ctx, vector, filter, topK)
	}
	return s.searchScan(ctx, vector, filter, topK)
}

func (s *MongoStore) searchAtlas(ctx context.Context, vector []float32, filter Filter, topK int) ([]Result, error) {
	queryVector := make(bson.A, len(vector))
	for i, v := range vector {
		queryVector[i] = v
	}

	match := bson.M{"payload.tenant_id": filter.TenantID}
	if filter.DocID != "" {
		match["payload.doc_id"] = filter.DocID
	}

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.M{
			"index":         s.indexName,
			"path":          "vector",
			"queryVector":   queryVector,
			"numCandidates": topK * 20,
			"limit":         topK,
			"filter":        match,
		}}},
		{{Key: "$project", Value: bson.M{
			"payload": 1,
			"score":   bson.M{"$meta": "vectorSearchScore"},
		}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID      string  `bson:"_id"`
		Score   float32 `bson:"score"`
		Payload Payload `bson:"payload"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	results := make([]Result, len(rows))
	for i, r := range rows {
		results[i] = Result{ID: r.ID, Score: r.Score, Payload: r.Payload}
	}
	return results, nil
}

func (s *MongoStore) searchScan(ctx context.Context, vector []float32, filter Filter, topK int) ([]Result, error) {
	query := bson.M{"payload.tenant_id": filter.TenantID}
	if filter.DocID != "" {
		query["payload.doc_id"] = filter.DocID
	}

	cursor, err := s.collection.Find(ctx, query, options.Find())
	if err != nil {
		return nil, fmt.Errorf("vector scan failed: %w", err)
	}
	defer cursor.Close(ctx)

	var results []Result
	for cursor.Next(ctx) {
		var p Point
		if err := cursor.Decode(&p); err != nil {
			return nil, err
		}
		results = append(results, Result{
			ID:      p.ID,
			Score:   CosineSimilarity(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MongoStore) DeleteForDoc(ctx context.Context, tenantID, docID string) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{
		"payload.tenant_id": tenantID,
		"payload.doc_id":    docID,
	})
	return err
}

func (s *MongoStore) DeleteForTenant(ctx context.Context, tenantID string) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{"payload.tenant_id": tenantID})
	return err
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
