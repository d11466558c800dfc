package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/vectorstore"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

type stubGenerator struct {
	answer string
	tokens []string
	err    error
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func (s *stubGenerator) GenerateStream(ctx context.Context, prompt string, emit func(string) error) error {
	for _, token := range s.tokens {
		if err := emit(token); err != nil {
			return err
		}
	}
	return s.err
}

func resultsFixture() []vectorstore.Result {
	return []vectorstore.Result{
		{ID: "a", Score: 0.9, Payload: vectorstore.Payload{ChunkID: "doc-1_0", Chunk: "First chunk text.", Source: "a.txt"}},
		{ID: "b", Score: 0.8, Payload: vectorstore.Payload{ChunkID: "doc-1_4", Chunk: "Second chunk text.", Source: "a.txt"}},
	}
}

func TestRewriteCitations(t *testing.T) {
	results := resultsFixture()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"single marker", "Answer [Source 1] done.", "Answer [[doc-1_0]] done."},
		{"two markers", "[Source 1] and [Source 2]", "[[doc-1_0]] and [[doc-1_4]]"},
		{"extra whitespace", "See [Source  2].", "See [[doc-1_4]]."},
		{"out of range dropped", "Per [Source 7], maybe.", "Per , maybe."},
		{"zero dropped", "[Source 0] nope", " nope"},
		{"no markers", "Plain answer.", "Plain answer."},
		{"repeated marker", "[Source 1] then [Source 1]", "[[doc-1_0]] then [[doc-1_0]]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteCitations(tt.input, results))
		})
	}
}

func TestStreamRewriterSplitMarker(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		want   string
	}{
		{"split mid word", []string{"see ", "[Sou", "rce 1]", " end"}, "see [[doc-1_0]] end"},
		{"split before digit", []string{"see [Source ", "2] end"}, "see [[doc-1_4]] end"},
		{"split after bracket", []string{"x [", "Source 1] y"}, "x [[doc-1_0]] y"},
		{"one char at a time", []string{"[", "S", "o", "u", "r", "c", "e", " ", "1", "]"}, "[[doc-1_0]]"},
		{"bracket not a marker", []string{"array[", "3] indexing"}, "array[3] indexing"},
		{"dangling partial flushed", []string{"tail [Source "}, "tail [Source "},
		{"out of range split", []string{"bad [Sour", "ce 9] gone"}, "bad  gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rewriter := NewStreamRewriter(resultsFixture())
			var out string
			for _, token := range tt.tokens {
				out += rewriter.Feed(token)
			}
			out += rewriter.Flush()
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestStreamRewriterNeverEmitsRawMarker(t *testing.T) {
	rewriter := NewStreamRewriter(resultsFixture())
	tokens := []string{"a [So", "urce", " ", "1", "] b [Source 2", "] c"}

	var out string
	for _, token := range tokens {
		piece := rewriter.Feed(token)
		assert.NotContains(t, piece, "[Source", "partial markers must be held back")
		out += piece
	}
	out += rewriter.Flush()
	assert.Equal(t, "a [[doc-1_0]] b [[doc-1_4]] c", out)
}

func TestBuildPrompt(t *testing.T) {
	svc := &AnswerService{}
	prompt := svc.BuildPrompt("What is this?", resultsFixture())

	assert.Contains(t, prompt, "[Source 1] First chunk text.")
	assert.Contains(t, prompt, "[Source 2] Second chunk text.")
	assert.Contains(t, prompt, "Question: What is this?")
	assert.Less(t, strings.Index(prompt, "[Source 1]"), strings.Index(prompt, "[Source 2]"))
}

func TestAnswerNoContextGenerates(t *testing.T) {
	svc := &AnswerService{
		Embedder:  &stubEmbedder{vector: []float32{1, 0, 0, 0}},
		Generator: &stubGenerator{answer: "I could not find anything about that in your documents."},
		Vectors:   vectorstore.NewMemoryStore(4),
	}

	answer, results, err := svc.Answer(context.Background(), "tenant-a", "anything?")
	require.NoError(t, err)
	assert.Equal(t, "I could not find anything about that in your documents.", answer)
	assert.Empty(t, results)
}

func TestAnswerNoContextFallsBackOnGenerationFailure(t *testing.T) {
	svc := &AnswerService{
		Embedder:  &stubEmbedder{vector: []float32{1, 0, 0, 0}},
		Generator: &stubGenerator{err: errors.New("model unavailable")},
		Vectors:   vectorstore.NewMemoryStore(4),
	}

	answer, results, err := svc.Answer(context.Background(), "tenant-a", "anything?")
	require.NoError(t, err, "a question with no matches never errors")
	assert.Equal(t, NoContextAnswer, answer)
	assert.Empty(t, results)
}

func TestAnswerRewritesCitations(t *testing.T) {
	vectors := vectorstore.NewMemoryStore(4)
	err := vectors.ReplaceForDoc(context.Background(), "tenant-a", "doc-1", []vectorstore.Point{
		{
			ID:     vectorstore.PointID("tenant-a", "doc-1_0"),
			Vector: []float32{1, 0, 0, 0},
			Payload: vectorstore.Payload{
				TenantID: "tenant-a",
				DocID:    "doc-1",
				ChunkID:  "doc-1_0",
				Chunk:    "Deploys happen on Tuesdays.",
			},
		},
	})
	require.NoError(t, err)

	svc := &AnswerService{
		Embedder:  &stubEmbedder{vector: []float32{1, 0, 0, 0}},
		Generator: &stubGenerator{answer: "Tuesdays [Source 1]."},
		Vectors:   vectors,
	}

	answer, results, err := svc.Answer(context.Background(), "tenant-a", "when do we deploy?")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Tuesdays [[doc-1_0]].", answer)
}

func TestRetrieveEmbedFailure(t *testing.T) {
	svc := &AnswerService{
		Embedder: &stubEmbedder{err: errors.New("quota exhausted")},
		Vectors:  vectorstore.NewMemoryStore(4),
	}

	_, err := svc.Retrieve(context.Background(), "tenant-a", "question")
	assert.Error(t, err)
}
