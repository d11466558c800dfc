package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Payload carries the chunk metadata stored alongside each vector. It is what
// retrieval hands back to the chat pipeline for citation rewriting.
type Payload struct {
	TenantID string `bson:"tenant_id" json:"tenant_id"`
	DocID    string `bson:"doc_id" json:"doc_id"`
	ChunkID  string `bson:"chunk_id" json:"chunk_id"`
	Chunk    string `bson:"chunk" json:"chunk"`
	Position int    `bson:"position" json:"position"`
	Source   string `bson:"source" json:"source"`
	Provider string `bson:"provider" json:"provider"`
	FileType string `bson:"file_type,omitempty" json:"file_type,omitempty"`
}

// Point is a single embedded chunk ready for upsert.
type Point struct {
	ID      string    `bson:"_id" json:"id"`
	Vector  []float32 `bson:"vector" json:"vector"`
	Payload Payload   `bson:"payload" json:"payload"`
}

// Result is a scored retrieval hit.
type Result struct {
	ID      string
	Score   float32
	Payload Payload
}

// Filter restricts searches to a tenant and optionally a document.
type Filter struct {
	TenantID string
	DocID    string
}

// Store is the vector persistence interface. ReplaceForDoc removes every
// point for the document before inserting the new set, so re-ingesting a
// document can never leave stale vectors behind.
type Store interface {
	ReplaceForDoc(ctx context.Context, tenantID, docID string, points []Point) error
	Search(ctx context.Context, vector []float32, filter Filter, topK int) ([]Result, error)
	DeleteForDoc(ctx context.Context, tenantID, docID string) error
	DeleteForTenant(ctx context.Context, tenantID string) error
}

// PointID derives a stable point identifier from the chunk identity. The same
// chunk always maps to the same ID, making upserts idempotent.
func PointID(tenantID, chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(tenantID+"/"+chunkID)).String()
}

// ValidateVector rejects vectors whose dimension does not match the index.
func ValidateVector(vector []float32, dimensions int) error {
	if len(vector) != dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(vector), dimensions)
	}
	return nil
}
