package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/queue"
	"docqa-platform/internal/vectorstore"
	"docqa-platform/models"
	"docqa-platform/services"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages map[string][]string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{messages: make(map[string][]string)}
}

func (f *fakePublisher) Publish(ctx context.Context, channel, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[channel] = append(f.messages[channel], message)
	return nil
}

func (f *fakePublisher) published(channel string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[channel]
}

type fakeChatLogs struct {
	mu        sync.Mutex
	nextID    int
	created   map[string]string
	streaming []string
	done      map[string]string
	failed    map[string]string
}

func newFakeChatLogs() *fakeChatLogs {
	return &fakeChatLogs{
		created: make(map[string]string),
		done:    make(map[string]string),
		failed:  make(map[string]string),
	}
}

func (f *fakeChatLogs) Create(ctx context.Context, tenantID, question string) (*models.ChatLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("chat-%d", f.nextID)
	f.created[id] = question
	return &models.ChatLog{
		ID:       id,
		TenantID: tenantID,
		Question: question,
		Status:   models.ChatStatusPending,
	}, nil
}

func (f *fakeChatLogs) createdQuestions() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.created))
	for id, q := range f.created {
		out[id] = q
	}
	return out
}

func (f *fakeChatLogs) doneAnswer(chatID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done[chatID]
}

func (f *fakeChatLogs) SetStreaming(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = append(f.streaming, chatID)
	return nil
}

func (f *fakeChatLogs) SetDone(ctx context.Context, chatID, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[chatID] = answer
	return nil
}

func (f *fakeChatLogs) SetFailed(ctx context.Context, chatID, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[chatID] = answer
	return nil
}

type fakeGenerator struct {
	tokens    []string
	answer    string
	streamErr error
	genErr    error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.answer, nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, prompt string, emit func(string) error) error {
	for _, token := range f.tokens {
		if err := emit(token); err != nil {
			return err
		}
	}
	return f.streamErr
}

func seedVectors(t *testing.T, store *vectorstore.MemoryStore, tenantID string) {
	t.Helper()
	err := store.ReplaceForDoc(context.Background(), tenantID, "doc-1", []vectorstore.Point{
		{
			ID:     vectorstore.PointID(tenantID, "doc-1_0"),
			Vector: []float32{10, 1, 0, 0},
			Payload: vectorstore.Payload{
				TenantID: tenantID,
				DocID:    "doc-1",
				ChunkID:  "doc-1_0",
				Chunk:    "The service restarts every night at two.",
				Source:   "runbook.txt",
			},
		},
		{
			ID:     vectorstore.PointID(tenantID, "doc-1_1"),
			Vector: []float32{8, 1, 0, 0},
			Payload: vectorstore.Payload{
				TenantID: tenantID,
				DocID:    "doc-1",
				ChunkID:  "doc-1_1",
				Chunk:    "Backups run before the restart window.",
				Source:   "runbook.txt",
			},
		},
	})
	require.NoError(t, err)
}

func newChatTestWorker(t *testing.T, generator *fakeGenerator, seed bool) (*ChatWorker, *fakePublisher, *fakeChatLogs) {
	t.Helper()
	vectors := vectorstore.NewMemoryStore(4)
	if seed {
		seedVectors(t, vectors, "tenant-a")
	}
	answers := &services.AnswerService{
		Embedder:  &fakeEmbedder{},
		Generator: generator,
		Vectors:   vectors,
		TopK:      3,
	}
	pub := newFakePublisher()
	chatLogs := newFakeChatLogs()
	return NewChatWorker(answers, chatLogs, pub), pub, chatLogs
}

func chatTask(t *testing.T, chatID, question string) *asynq.Task {
	t.Helper()
	task, err := queue.NewChatAskTask(chatID, "tenant-a", question)
	require.NoError(t, err)
	return task
}

func TestChatWorkerStreamsRewrittenAnswer(t *testing.T) {
	generator := &fakeGenerator{
		tokens: []string{"The restart happens nightly ", "[Sou", "rce 1]", " before backups finish."},
	}
	worker, pub, chatLogs := newChatTestWorker(t, generator, true)

	require.NoError(t, worker.HandleChatAsk(context.Background(), chatTask(t, "chat-1", "When does the service restart?")))

	messages := pub.published(ChatChannel("chat-1"))
	require.NotEmpty(t, messages)
	assert.Equal(t, EndSentinel, messages[len(messages)-1])

	full := ""
	for _, msg := range messages[:len(messages)-1] {
		full += msg
	}
	assert.Contains(t, full, "[[doc-1_0]]")
	assert.NotContains(t, full, "[Source")

	assert.Contains(t, chatLogs.streaming, "chat-1")
	assert.Equal(t, full, chatLogs.done["chat-1"])
}

func TestChatWorkerNoContextStreamsFallbackGeneration(t *testing.T) {
	generator := &fakeGenerator{tokens: []string{"Nothing in your documents ", "covers that topic."}}
	worker, pub, chatLogs := newChatTestWorker(t, generator, false)

	require.NoError(t, worker.HandleChatAsk(context.Background(), chatTask(t, "chat-2", "Anything at all?")))

	messages := pub.published(ChatChannel("chat-2"))
	require.Len(t, messages, 3)
	assert.Equal(t, EndSentinel, messages[2])
	assert.Equal(t, "Nothing in your documents covers that topic.", chatLogs.done["chat-2"])
}

func TestChatWorkerNoContextFallsBackToCannedAnswer(t *testing.T) {
	generator := &fakeGenerator{streamErr: errors.New("model unavailable")}
	worker, pub, chatLogs := newChatTestWorker(t, generator, false)

	require.NoError(t, worker.HandleChatAsk(context.Background(), chatTask(t, "chat-2", "Anything at all?")),
		"the no-context path must not fail the task")

	messages := pub.published(ChatChannel("chat-2"))
	require.Len(t, messages, 2)
	assert.Equal(t, services.NoContextAnswer, messages[0])
	assert.Equal(t, EndSentinel, messages[1])
	assert.Equal(t, services.NoContextAnswer, chatLogs.done["chat-2"])
}

func TestChatWorkerGenerationFailurePublishesApology(t *testing.T) {
	generator := &fakeGenerator{streamErr: errors.New("model unavailable")}
	worker, pub, chatLogs := newChatTestWorker(t, generator, true)

	err := worker.HandleChatAsk(context.Background(), chatTask(t, "chat-3", "When does the service restart?"))
	require.Error(t, err)
	assert.True(t, isPermanent(err), "a failed exchange must not re-stream on retry")

	messages := pub.published(ChatChannel("chat-3"))
	require.NotEmpty(t, messages)
	assert.Contains(t, messages, ApologyAnswer)
	assert.Equal(t, EndSentinel, messages[len(messages)-1])

	assert.Equal(t, ApologyAnswer, chatLogs.failed["chat-3"])
}

func TestSlackAnswerAppendsSourceFooter(t *testing.T) {
	vectors := vectorstore.NewMemoryStore(4)
	seedVectors(t, vectors, "tenant-a")
	answers := &services.AnswerService{
		Embedder:  &fakeEmbedder{},
		Generator: &fakeGenerator{answer: "Nightly at two [Source 1]."},
		Vectors:   vectors,
		TopK:      3,
	}

	text, err := SlackAnswer(context.Background(), answers, "tenant-a", "When does the restart run?")
	require.NoError(t, err)

	assert.Contains(t, text, "[[doc-1_0]]")
	assert.Contains(t, text, "*Sources:*")
	assert.Equal(t, 1, strings.Count(text, "runbook.txt"), "duplicate sources collapse to one line")
}

func TestSlackAnswerNoContext(t *testing.T) {
	answers := &services.AnswerService{
		Embedder:  &fakeEmbedder{},
		Generator: &fakeGenerator{},
		Vectors:   vectorstore.NewMemoryStore(4),
		TopK:      3,
	}

	text, err := SlackAnswer(context.Background(), answers, "tenant-a", "Anything?")
	require.NoError(t, err)
	assert.Equal(t, services.NoContextAnswer, text)
	assert.NotContains(t, text, "*Sources:*")
}
