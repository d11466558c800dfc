package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docqa-platform/models"
)

var ErrSourceNotFound = errors.New("source not found")

// SourceStore persists per-tenant provider connections and sync watermarks.
type SourceStore struct {
	collection *mongo.Collection
}

func NewSourceStore(db *mongo.Database) *SourceStore {
	return &SourceStore{collection: db.Collection("sources")}
}

// SeedDefaults inserts a disconnected row for every provider the tenant does
// not have yet. Existing rows are left untouched.
func (s *SourceStore) SeedDefaults(ctx context.Context, tenantID string) error {
	now := time.Now().UTC()
	for _, provider := range models.DefaultProviders {
		filter := bson.M{"tenant_id": tenantID, "provider": provider}
		update := bson.M{
			"$setOnInsert": models.Source{
				TenantID:  tenantID,
				Provider:  provider,
				Status:    models.SourceDisconnected,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		opts := options.Update().SetUpsert(true)
		if _, err := s.collection.UpdateOne(ctx, filter, update, opts); err != nil {
			return fmt.Errorf("failed to seed source %s: %w", provider, err)
		}
	}
	return nil
}

// Get fetches one provider row for a tenant.
func (s *SourceStore) Get(ctx context.Context, tenantID, provider string) (*models.Source, error) {
	var source models.Source
	err := s.collection.FindOne(ctx, bson.M{
		"tenant_id": tenantID,
		"provider":  provider,
	}).Decode(&source)
	if err == mongo.ErrNoDocuments {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}

// List returns every provider row for a tenant.
func (s *SourceStore) List(ctx context.Context, tenantID string) ([]models.Source, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"tenant_id": tenantID},
		options.Find().SetSort(bson.M{"provider": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sources []models.Source
	if err := cursor.All(ctx, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

// ListConnected returns every connected row for a provider across tenants.
// The worker uses it to reconcile schedules and Slack sessions at boot.
func (s *SourceStore) ListConnected(ctx context.Context, provider string) ([]models.Source, error) {
	cursor, err := s.collection.Find(ctx, bson.M{
		"provider": provider,
		"status":   models.SourceConnected,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sources []models.Source
	if err := cursor.All(ctx, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

// Connect marks the provider connected and stores its credentials.
func (s *SourceStore) Connect(ctx context.Context, tenantID, provider string, metadata models.SourceMetadata) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"status":     models.SourceConnected,
			"metadata":   metadata,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"tenant_id":  tenantID,
			"provider":   provider,
			"created_at": now,
		},
	}
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "provider": provider},
		update,
		options.Update().SetUpsert(true))
	return err
}

// Disconnect flips the provider to disconnected, keeping the row and its
// watermark so a later reconnect can resume incrementally.
func (s *SourceStore) Disconnect(ctx context.Context, tenantID, provider string) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "provider": provider},
		bson.M{"$set": bson.M{
			"status":     models.SourceDisconnected,
			"updated_at": time.Now().UTC(),
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSourceNotFound
	}
	return nil
}

// AdvanceWatermark records the start time of a completed sync run. The
// watermark moves forward even when individual pages failed; those pages are
// picked up again on the next edit, not retried forever.
func (s *SourceStore) AdvanceWatermark(ctx context.Context, tenantID, provider string, syncedAt time.Time) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "provider": provider},
		bson.M{"$set": bson.M{
			"last_synced": syncedAt.UTC(),
			"updated_at":  time.Now().UTC(),
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSourceNotFound
	}
	return nil
}

// UpdateNotionCron stores a new sync schedule for a connected Notion source.
func (s *SourceStore) UpdateNotionCron(ctx context.Context, tenantID, cron string) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "provider": models.ProviderNotion, "status": models.SourceConnected},
		bson.M{"$set": bson.M{
			"metadata.notion.sync_cron": cron,
			"updated_at":                time.Now().UTC(),
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSourceNotFound
	}
	return nil
}
