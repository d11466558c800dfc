package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"docqa-platform/internal/logger"
)

// GeminiClient wraps the Google Generative AI SDK with a rate limiter and a
// circuit breaker so a degraded upstream cannot stall every worker slot.
type GeminiClient struct {
	client      *genai.Client
	embedModel  string
	genModel    string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

const (
	maxGenerateAttempts = 5
	initialRetryDelay   = 2 * time.Second
)

func NewGeminiClient(apiKey, embedModel, genModel string) (*GeminiClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	// Free-tier RPM with some headroom.
	rateLimiter := rate.NewLimiter(rate.Limit(9.0/60.0), 3)

	return &GeminiClient{
		client:      client,
		embedModel:  embedModel,
		genModel:    genModel,
		breaker:     breaker,
		rateLimiter: rateLimiter,
	}, nil
}

// EmbedDocuments embeds all texts in a single batch call. A failure embeds
// nothing; callers treat the whole document as failed.
func (gc *GeminiClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.embed_documents")
	defer span.End()
	span.SetAttributes(attribute.Int("gemini.batch_size", len(texts)))

	em := gc.client.EmbeddingModel(gc.embedModel)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return nil, fmt.Errorf("batch embedding failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned for text %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (gc *GeminiClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := gc.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	em := gc.client.EmbeddingModel(gc.embedModel)
	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Embedding.Values, nil
}

// Generate produces a complete response for the prompt, retrying overload
// errors with exponential backoff before giving up.
func (gc *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate")
	defer span.End()
	span.SetAttributes(attribute.String("gemini.model", gc.genModel))

	var text string
	err := gc.withRetry(ctx, func() error {
		result, err := gc.breaker.Execute(func() (interface{}, error) {
			if err := gc.rateLimiter.Wait(ctx); err != nil {
				return nil, err
			}
			model := gc.client.GenerativeModel(gc.genModel)
			model.SetTemperature(0.7)
			model.SetMaxOutputTokens(2048)
			return model.GenerateContent(ctx, genai.Text(prompt))
		})
		if err != nil {
			return err
		}
		text = responseText(result.(*genai.GenerateContentResponse))
		return nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return "", err
	}
	return text, nil
}

// GenerateStream streams tokens for the prompt, calling emit for each text
// part. Overload errors before the first emitted token are retried; once
// tokens have flowed the stream fails as-is.
func (gc *GeminiClient) GenerateStream(ctx context.Context, prompt string, emit func(token string) error) error {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate_stream")
	defer span.End()
	span.SetAttributes(attribute.String("gemini.model", gc.genModel))

	emitted := false
	err := gc.withRetry(ctx, func() error {
		if err := gc.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		model := gc.client.GenerativeModel(gc.genModel)
		model.SetTemperature(0.7)
		model.SetMaxOutputTokens(2048)

		iter := model.GenerateContentStream(ctx, genai.Text(prompt))
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				return nil
			}
			if err != nil {
				if emitted {
					// Mid-stream failure is not retryable: tokens already
					// reached the client.
					return permanentStreamError{err}
				}
				return err
			}
			if token := responseText(resp); token != "" {
				emitted = true
				if err := emit(token); err != nil {
					return permanentStreamError{err}
				}
			}
		}
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
	}
	return err
}

func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}

type permanentStreamError struct{ err error }

func (e permanentStreamError) Error() string { return e.err.Error() }
func (e permanentStreamError) Unwrap() error { return e.err }

// withRetry retries overload/transient upstream errors with exponential
// backoff, bounded by maxGenerateAttempts.
func (gc *GeminiClient) withRetry(ctx context.Context, fn func() error) error {
	delay := initialRetryDelay
	var err error
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if pe, ok := err.(permanentStreamError); ok {
			return pe.err
		}
		if !IsOverloaded(err) || attempt == maxGenerateAttempts {
			return err
		}
		logger.Warn("Gemini overloaded, backing off", "attempt", attempt, "delay", delay.String(), "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// IsOverloaded reports whether the error looks like upstream throttling or
// temporary overload, the class of failure worth backing off for.
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return true
	}
	var apiErr *googleapi.Error
	if ok := asGoogleAPIError(err, &apiErr); ok {
		return apiErr.Code == 503 || apiErr.Code == 429
	}
	msg := err.Error()
	return strings.Contains(msg, "overloaded") || strings.Contains(msg, "503") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

func asGoogleAPIError(err error, target **googleapi.Error) bool {
	for err != nil {
		if ge, ok := err.(*googleapi.Error); ok {
			*target = ge
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}
