package models

import (
	"fmt"
	"time"
)

// Chunk is the atomic unit of retrieval: one fragment of a document's text.
// Identity is (tenantId, docId, chunkId); chunkId is derived from the docId
// and the chunk's ordinal so re-processing a document is idempotent once the
// old batch is removed.
type Chunk struct {
	TenantID  string    `bson:"tenant_id"`
	DocID     string    `bson:"doc_id"`
	ChunkID   string    `bson:"chunk_id"`
	Text      string    `bson:"text"`
	Source    string    `bson:"source"`
	Position  int       `bson:"position"`
	Page      *int      `bson:"page,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

// ChunkID derives the deterministic chunk identifier for a document ordinal.
func ChunkID(docID string, position int) string {
	return fmt.Sprintf("%s_%d", docID, position)
}
