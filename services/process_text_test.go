package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/vectorstore"
	"docqa-platform/models"
)

type fakeEmbedder struct {
	calls [][]string
	err   error
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}

type fakeChunkStore struct {
	replaced map[string][]models.Chunk
	err      error
}

func (f *fakeChunkStore) ReplaceForDoc(ctx context.Context, tenantID, docID string, chunks []models.Chunk) error {
	if f.err != nil {
		return f.err
	}
	if f.replaced == nil {
		f.replaced = make(map[string][]models.Chunk)
	}
	f.replaced[tenantID+"/"+docID] = chunks
	return nil
}

func newTestPipeline(emb *fakeEmbedder, chunks *fakeChunkStore, vectors vectorstore.Store) *Pipeline {
	return &Pipeline{
		Embedder: emb,
		Chunks:   chunks,
		Vectors:  vectors,
		Splitter: SplitterOptions{MaxChunkSize: 250, Overlap: 0, MinChunkSize: 20},
	}
}

func threeParagraphText() string {
	var paras []string
	for _, word := range []string{"alpha ", "bravo ", "charlie "} {
		paras = append(paras, strings.TrimSpace(strings.Repeat(word, 30)))
	}
	return strings.Join(paras, "\n\n")
}

func TestPipelineProcess(t *testing.T) {
	emb := &fakeEmbedder{}
	chunks := &fakeChunkStore{}
	vectors := vectorstore.NewMemoryStore(3)
	p := newTestPipeline(emb, chunks, vectors)

	var milestones []int
	result, err := p.Process(context.Background(), ProcessRequest{
		TenantID: "t1",
		DocID:    "doc1",
		Source:   "manual.txt",
		Provider: models.ProviderUploads,
		Text:     threeParagraphText(),
		Progress: func(ctx context.Context, pct int) { milestones = append(milestones, pct) },
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunksCount)
	assert.Equal(t, 3, result.VectorsCount)
	assert.Equal(t, []int{20, 60, 70, 80, 90}, milestones)

	stored := chunks.replaced["t1/doc1"]
	require.Len(t, stored, 3)
	for i, c := range stored {
		assert.Equal(t, fmt.Sprintf("doc1_%d", i), c.ChunkID)
		assert.Equal(t, i, c.Position)
		assert.Equal(t, "manual.txt", c.Source)
	}
	assert.Equal(t, 3, vectors.Count())

	// One batch call covering every chunk.
	require.Len(t, emb.calls, 1)
	assert.Len(t, emb.calls[0], 3)
}

func TestPipelineProcessEmptyText(t *testing.T) {
	p := newTestPipeline(&fakeEmbedder{}, &fakeChunkStore{}, vectorstore.NewMemoryStore(3))
	_, err := p.Process(context.Background(), ProcessRequest{
		TenantID: "t1",
		DocID:    "doc1",
		Text:     "  \n\n ",
	})
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestPipelineProcessEmbeddingFailureWritesNothing(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("quota exceeded")}
	chunks := &fakeChunkStore{}
	vectors := vectorstore.NewMemoryStore(3)
	p := newTestPipeline(emb, chunks, vectors)

	_, err := p.Process(context.Background(), ProcessRequest{
		TenantID: "t1",
		DocID:    "doc1",
		Text:     threeParagraphText(),
	})
	require.Error(t, err)
	assert.Empty(t, chunks.replaced)
	assert.Equal(t, 0, vectors.Count())
}

func TestPipelineProcessReplacesPreviousVersion(t *testing.T) {
	emb := &fakeEmbedder{}
	chunks := &fakeChunkStore{}
	vectors := vectorstore.NewMemoryStore(3)
	p := newTestPipeline(emb, chunks, vectors)

	ctx := context.Background()
	_, err := p.Process(ctx, ProcessRequest{
		TenantID: "t1", DocID: "doc1", Text: threeParagraphText(),
	})
	require.NoError(t, err)

	// Shorter second version must not leave stale trailing chunks.
	result, err := p.Process(ctx, ProcessRequest{
		TenantID: "t1", DocID: "doc1", Text: "One small revision.",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksCount)
	assert.Len(t, chunks.replaced["t1/doc1"], 1)
	assert.Equal(t, 1, vectors.Count())
}
