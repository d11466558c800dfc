package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"docqa-platform/internal/vectorstore"
)

// QueryEmbedder embeds a single question.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator produces model output for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string, emit func(token string) error) error
}

// AnswerService retrieves relevant chunks for a question and prompts the
// model with them. The model cites context as [Source N]; those markers are
// rewritten to [[chunkId]] so the frontend can link citations to snippets.
type AnswerService struct {
	Embedder  QueryEmbedder
	Generator Generator
	Vectors   vectorstore.Store
	TopK      int
}

// NoContextAnswer is the fallback reply when nothing matches the question and
// the model could not produce a no-context answer itself.
const NoContextAnswer = "I don't have any relevant information in the knowledge base to answer that question."

func (s *AnswerService) topK() int {
	if s.TopK <= 0 {
		return 3
	}
	return s.TopK
}

// Retrieve embeds the question and returns the tenant's best-matching chunks.
func (s *AnswerService) Retrieve(ctx context.Context, tenantID, question string) ([]vectorstore.Result, error) {
	vector, err := s.Embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	results, err := s.Vectors.Search(ctx, vector, vectorstore.Filter{TenantID: tenantID}, s.topK())
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	return results, nil
}

// BuildPrompt renders the retrieval context and question into the generation
// prompt. Sources are numbered 1-based in result order.
func (s *AnswerService) BuildPrompt(question string, results []vectorstore.Result) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant answering questions using only the provided context.\n")
	sb.WriteString("Cite the context you used as [Source N] inline. If the context does not contain the answer, say so.\n\n")
	sb.WriteString("Context:\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "[Source %d] %s\n\n", i+1, r.Payload.Chunk)
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

// BuildNoContextPrompt is used when retrieval finds nothing. The model still
// answers, telling the user the knowledge base has no matching content.
func (s *AnswerService) BuildNoContextPrompt(question string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant for a document knowledge base that has no content matching the question below.\n")
	sb.WriteString("Tell the user you could not find anything relevant in their indexed documents and suggest rephrasing or connecting more sources. Do not invent an answer.\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

// Answer runs the full non-streaming path: retrieve, generate, rewrite.
// A question with no matching chunks is answered through the no-context
// prompt rather than failed.
func (s *AnswerService) Answer(ctx context.Context, tenantID, question string) (string, []vectorstore.Result, error) {
	results, err := s.Retrieve(ctx, tenantID, question)
	if err != nil {
		return "", nil, err
	}
	if len(results) == 0 {
		raw, err := s.Generator.Generate(ctx, s.BuildNoContextPrompt(question))
		if err != nil || strings.TrimSpace(raw) == "" {
			return NoContextAnswer, nil, nil
		}
		return raw, nil, nil
	}

	raw, err := s.Generator.Generate(ctx, s.BuildPrompt(question, results))
	if err != nil {
		return "", results, err
	}
	return RewriteCitations(raw, results), results, nil
}

var citationPattern = regexp.MustCompile(`\[Source\s+(\d+)\]`)

// RewriteCitations replaces [Source N] markers with [[chunkId]] references.
// Markers pointing outside the result set are dropped rather than kept as
// dangling source numbers.
func RewriteCitations(text string, results []vectorstore.Result) string {
	return citationPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := citationPattern.FindStringSubmatch(match)
		n, err := strconv.Atoi(groups[1])
		if err != nil || n < 1 || n > len(results) {
			return ""
		}
		return "[[" + results[n-1].Payload.ChunkID + "]]"
	})
}

// StreamRewriter rewrites citations across token boundaries: a marker split
// over two tokens must not leak through half-rewritten. Feed returns text
// safe to emit; Flush drains whatever is still held back.
type StreamRewriter struct {
	results []vectorstore.Result
	buf     string
}

func NewStreamRewriter(results []vectorstore.Result) *StreamRewriter {
	return &StreamRewriter{results: results}
}

func (r *StreamRewriter) Feed(token string) string {
	r.buf += token
	rewritten := RewriteCitations(r.buf, r.results)

	// Hold back a trailing fragment that could grow into a marker.
	hold := partialMarkerStart(rewritten)
	out := rewritten[:hold]
	r.buf = r.buf[len(r.buf)-(len(rewritten)-hold):]
	return out
}

func (r *StreamRewriter) Flush() string {
	out := RewriteCitations(r.buf, r.results)
	r.buf = ""
	return out
}

// partialMarkerStart returns the index where a trailing partial "[Source N]"
// marker begins, or len(s) when the tail is safe to emit.
func partialMarkerStart(s string) int {
	// The longest prefix worth holding is bounded; scan the tail only.
	start := len(s) - len("[Source 9999")
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s); i++ {
		if s[i] != '[' {
			continue
		}
		if isMarkerPrefix(s[i:]) {
			return i
		}
	}
	return len(s)
}

// isMarkerPrefix reports whether s is a proper prefix of a citation marker.
func isMarkerPrefix(s string) bool {
	const literal = "[Source "
	for i := 0; i < len(s); i++ {
		if i < len(literal) {
			if s[i] != literal[i] {
				return false
			}
			continue
		}
		// Past the literal: digits, then we need the closing bracket.
		if s[i] >= '0' && s[i] <= '9' {
			continue
		}
		// A complete marker would already have been rewritten; anything else
		// means this is not a marker.
		return false
	}
	return true
}
