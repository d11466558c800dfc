package services

import (
	"context"
	"errors"
	"fmt"

	"docqa-platform/internal/logger"
	"docqa-platform/internal/telemetry"
	"docqa-platform/internal/vectorstore"
	"docqa-platform/models"
)

// ErrNoContent is returned when a document yields no chunks after cleaning.
var ErrNoContent = errors.New("document produced no chunks")

// Embedder produces one vector per input text, all-or-nothing.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkReplacer swaps a document's chunk set atomically from the caller's
// point of view.
type ChunkReplacer interface {
	ReplaceForDoc(ctx context.Context, tenantID, docID string, chunks []models.Chunk) error
}

// Pipeline is the shared chunk/embed/store path every ingestion worker funnels
// document text through.
type Pipeline struct {
	Embedder Embedder
	Chunks   ChunkReplacer
	Vectors  vectorstore.Store
	Splitter SplitterOptions
}

// ProcessRequest describes one document to ingest.
type ProcessRequest struct {
	TenantID string
	DocID    string
	Source   string
	Provider string
	FileType string
	Text     string

	// Progress receives percentage milestones. May be nil.
	Progress func(ctx context.Context, pct int)
}

// ProcessResult reports what the pipeline persisted.
type ProcessResult struct {
	ChunksCount  int
	VectorsCount int
}

// Process splits the text, embeds every chunk in one batch, then replaces the
// document's chunks and vectors. Progress lands at 20 after splitting, 60
// after embedding, 70 after chunk storage, 80 after vector storage and 90
// when the pipeline hands back to the caller; the caller owns the final jump
// to 100. Nothing is written unless embedding succeeded for the whole batch,
// so a failed run leaves the previous version of the document intact.
func (p *Pipeline) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	report := func(pct int) {
		if req.Progress != nil {
			req.Progress(ctx, pct)
		}
	}

	texts := SplitText(req.Text, p.Splitter)
	if len(texts) == 0 {
		return nil, ErrNoContent
	}
	report(20)

	vectors, err := p.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
	}
	report(60)

	chunks := make([]models.Chunk, len(texts))
	points := make([]vectorstore.Point, len(texts))
	for i, text := range texts {
		chunkID := models.ChunkID(req.DocID, i)
		chunks[i] = models.Chunk{
			TenantID: req.TenantID,
			DocID:    req.DocID,
			ChunkID:  chunkID,
			Text:     text,
			Source:   req.Source,
			Position: i,
		}
		points[i] = vectorstore.Point{
			ID:     vectorstore.PointID(req.TenantID, chunkID),
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				TenantID: req.TenantID,
				DocID:    req.DocID,
				ChunkID:  chunkID,
				Chunk:    text,
				Position: i,
				Source:   req.Source,
				Provider: req.Provider,
				FileType: req.FileType,
			},
		}
	}

	if err := p.Chunks.ReplaceForDoc(ctx, req.TenantID, req.DocID, chunks); err != nil {
		return nil, fmt.Errorf("chunk storage failed: %w", err)
	}
	report(70)

	if err := p.Vectors.ReplaceForDoc(ctx, req.TenantID, req.DocID, points); err != nil {
		return nil, fmt.Errorf("vector storage failed: %w", err)
	}
	report(80)

	telemetry.RecordChunksStored(ctx, req.Provider, len(chunks))
	logger.Debug("Document processed",
		"tenant_id", req.TenantID,
		"doc_id", req.DocID,
		"chunks", len(chunks))
	report(90)

	return &ProcessResult{
		ChunksCount:  len(chunks),
		VectorsCount: len(points),
	}, nil
}
