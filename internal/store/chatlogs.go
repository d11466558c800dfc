package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docqa-platform/models"
)

var ErrChatLogNotFound = errors.New("chat log not found")

// ChatLogStore persists question/answer exchanges.
type ChatLogStore struct {
	collection *mongo.Collection
}

func NewChatLogStore(db *mongo.Database) *ChatLogStore {
	return &ChatLogStore{collection: db.Collection("chat_logs")}
}

// Create inserts a pending exchange and returns its id.
func (s *ChatLogStore) Create(ctx context.Context, tenantID, question string) (*models.ChatLog, error) {
	now := time.Now().UTC()
	log := &models.ChatLog{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Question:  question,
		Status:    models.ChatStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.collection.InsertOne(ctx, log); err != nil {
		return nil, err
	}
	return log, nil
}

// Get fetches one exchange scoped to its tenant.
func (s *ChatLogStore) Get(ctx context.Context, tenantID, chatID string) (*models.ChatLog, error) {
	var log models.ChatLog
	err := s.collection.FindOne(ctx, bson.M{"_id": chatID, "tenant_id": tenantID}).Decode(&log)
	if err == mongo.ErrNoDocuments {
		return nil, ErrChatLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// SetStreaming marks the exchange as actively producing tokens.
func (s *ChatLogStore) SetStreaming(ctx context.Context, chatID string) error {
	return s.setStatus(ctx, chatID, bson.M{"status": models.ChatStatusStreaming})
}

// SetDone stores the final rewritten answer.
func (s *ChatLogStore) SetDone(ctx context.Context, chatID, answer string) error {
	return s.setStatus(ctx, chatID, bson.M{
		"status": models.ChatStatusDone,
		"answer": answer,
	})
}

// SetFailed records a terminal failure with the apology text as the answer.
func (s *ChatLogStore) SetFailed(ctx context.Context, chatID, answer string) error {
	return s.setStatus(ctx, chatID, bson.M{
		"status": models.ChatStatusFailed,
		"answer": answer,
	})
}

// ListRecent returns the tenant's newest exchanges.
func (s *ChatLogStore) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.ChatLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	cursor, err := s.collection.Find(ctx, bson.M{"tenant_id": tenantID},
		options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []models.ChatLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *ChatLogStore) setStatus(ctx context.Context, chatID string, fields bson.M) error {
	fields["updated_at"] = time.Now().UTC()
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": chatID}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrChatLogNotFound
	}
	return nil
}
