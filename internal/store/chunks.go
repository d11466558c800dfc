package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docqa-platform/models"
)

var ErrChunkNotFound = errors.New("chunk not found")

// ChunkStore persists the text chunks backing retrieval citations.
type ChunkStore struct {
	collection *mongo.Collection
}

func NewChunkStore(db *mongo.Database) *ChunkStore {
	return &ChunkStore{collection: db.Collection("chunks")}
}

// ReplaceForDoc deletes every chunk of the document and inserts the new
// batch. Delete-then-insert keeps chunk identity stable across re-ingestion
// without leaving orphans from a previous, longer version of the document.
func (s *ChunkStore) ReplaceForDoc(ctx context.Context, tenantID, docID string, chunks []models.Chunk) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{
		"tenant_id": tenantID,
		"doc_id":    docID,
	}); err != nil {
		return fmt.Errorf("failed to delete existing chunks: %w", err)
	}

	if len(chunks) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]interface{}, len(chunks))
	for i := range chunks {
		chunks[i].TenantID = tenantID
		chunks[i].DocID = docID
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = now
		}
		docs[i] = chunks[i]
	}
	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

// GetByChunkID resolves one chunk by its citation identifier.
func (s *ChunkStore) GetByChunkID(ctx context.Context, tenantID, chunkID string) (*models.Chunk, error) {
	var chunk models.Chunk
	err := s.collection.FindOne(ctx, bson.M{
		"tenant_id": tenantID,
		"chunk_id":  chunkID,
	}).Decode(&chunk)
	if err == mongo.ErrNoDocuments {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// Snippet returns the chunk plus its neighbors for citation context.
func (s *ChunkStore) Snippet(ctx context.Context, tenantID, chunkID string, radius int) ([]models.Chunk, error) {
	center, err := s.GetByChunkID(ctx, tenantID, chunkID)
	if err != nil {
		return nil, err
	}
	if radius < 0 {
		radius = 0
	}

	lo := center.Position - radius
	if lo < 0 {
		lo = 0
	}
	hi := center.Position + radius

	opts := options.Find().SetSort(bson.M{"position": 1})
	cursor, err := s.collection.Find(ctx, bson.M{
		"tenant_id": tenantID,
		"doc_id":    center.DocID,
		"position":  bson.M{"$gte": lo, "$lte": hi},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// SearchText runs a case-insensitive substring search over the tenant's
// chunks. Keyword fallback for when retrieval quality needs checking.
func (s *ChunkStore) SearchText(ctx context.Context, tenantID, query string, limit int) ([]models.Chunk, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	opts := options.Find().SetLimit(int64(limit)).SetSort(bson.M{"doc_id": 1, "position": 1})
	cursor, err := s.collection.Find(ctx, bson.M{
		"tenant_id": tenantID,
		"text":      bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// CountForDoc returns how many chunks a document currently has.
func (s *ChunkStore) CountForDoc(ctx context.Context, tenantID, docID string) (int64, error) {
	return s.collection.CountDocuments(ctx, bson.M{
		"tenant_id": tenantID,
		"doc_id":    docID,
	})
}

// DeleteForDoc removes all chunks of one document.
func (s *ChunkStore) DeleteForDoc(ctx context.Context, tenantID, docID string) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{
		"tenant_id": tenantID,
		"doc_id":    docID,
	})
	return err
}
