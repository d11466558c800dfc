package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/queue"
	"docqa-platform/internal/vectorstore"
	"docqa-platform/models"
	"docqa-platform/services"
)

type fakeSlackAPI struct {
	mu      sync.Mutex
	authErr error
	history []SlackMessage
	posted  []string
}

func (f *fakeSlackAPI) AuthTest(ctx context.Context) error {
	return f.authErr
}

func (f *fakeSlackAPI) History(ctx context.Context, channelID, oldest string, limit int) ([]SlackMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SlackMessage
	for _, msg := range f.history {
		if msg.Timestamp > oldest {
			out = append(out, msg)
		}
	}
	f.history = nil
	return out, nil
}

func (f *fakeSlackAPI) PostMessage(ctx context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, text)
	return nil
}

func (f *fakeSlackAPI) postedMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posted...)
}

func (f *fakeSlackAPI) pushMessage(msg SlackMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, msg)
}

func connectedSlackSource(tenantID string) *models.Source {
	return &models.Source{
		TenantID: tenantID,
		Provider: models.ProviderSlackBot,
		Status:   models.SourceConnected,
		Metadata: models.SourceMetadata{
			Slack: &models.SlackCredentials{
				APIKey:      "xoxb-test",
				ChannelName: "support",
				ChannelID:   "C123",
			},
		},
	}
}

func newSlackTestWorker(t *testing.T, api *fakeSlackAPI, sources *fakeSourceDirectory) (*SlackWorker, *fakeChatLogs) {
	t.Helper()
	vectors := vectorstore.NewMemoryStore(4)
	seedVectors(t, vectors, "tenant-a")
	answers := &services.AnswerService{
		Embedder:  &fakeEmbedder{},
		Generator: &fakeGenerator{answer: "Nightly at two [Source 1]."},
		Vectors:   vectors,
		TopK:      3,
	}
	chatLogs := newFakeChatLogs()
	worker := NewSlackWorker(sources, chatLogs, answers, 10*time.Millisecond)
	worker.newAPI = func(token string) SlackAPI { return api }
	t.Cleanup(worker.Stop)
	return worker, chatLogs
}

func TestSlackWorkerRegisterStartsSession(t *testing.T) {
	sources := newFakeSourceDirectory()
	sources.put(connectedSlackSource("tenant-a"))
	worker, _ := newSlackTestWorker(t, &fakeSlackAPI{}, sources)

	task, err := queue.NewSlackRegisterTask("tenant-a")
	require.NoError(t, err)
	require.NoError(t, worker.HandleSlackRegister(context.Background(), task))

	assert.Equal(t, 1, worker.SessionCount())
}

func TestSlackWorkerRegisterReplacesSession(t *testing.T) {
	sources := newFakeSourceDirectory()
	sources.put(connectedSlackSource("tenant-a"))
	worker, _ := newSlackTestWorker(t, &fakeSlackAPI{}, sources)

	task, err := queue.NewSlackRegisterTask("tenant-a")
	require.NoError(t, err)
	require.NoError(t, worker.HandleSlackRegister(context.Background(), task))
	require.NoError(t, worker.HandleSlackRegister(context.Background(), task))

	assert.Equal(t, 1, worker.SessionCount())
}

func TestSlackWorkerRegisterAuthFailureDisconnects(t *testing.T) {
	sources := newFakeSourceDirectory()
	sources.put(connectedSlackSource("tenant-a"))
	api := &fakeSlackAPI{authErr: errors.New("invalid_auth")}
	worker, _ := newSlackTestWorker(t, api, sources)

	task, err := queue.NewSlackRegisterTask("tenant-a")
	require.NoError(t, err)

	err = worker.HandleSlackRegister(context.Background(), task)
	require.Error(t, err)
	assert.True(t, isPermanent(err), "bad credentials cannot be fixed by retrying")
	assert.Zero(t, worker.SessionCount())

	source, getErr := sources.Get(context.Background(), "tenant-a", models.ProviderSlackBot)
	require.NoError(t, getErr)
	assert.Equal(t, models.SourceDisconnected, source.Status)
}

func TestSlackWorkerRemoveStopsSession(t *testing.T) {
	sources := newFakeSourceDirectory()
	sources.put(connectedSlackSource("tenant-a"))
	worker, _ := newSlackTestWorker(t, &fakeSlackAPI{}, sources)

	registerTask, err := queue.NewSlackRegisterTask("tenant-a")
	require.NoError(t, err)
	require.NoError(t, worker.HandleSlackRegister(context.Background(), registerTask))
	require.Equal(t, 1, worker.SessionCount())

	removeTask, err := queue.NewSlackRemoveTask("tenant-a")
	require.NoError(t, err)
	require.NoError(t, worker.HandleSlackRemove(context.Background(), removeTask))

	assert.Zero(t, worker.SessionCount())
}

func TestSlackWorkerReconcileDisconnectsIncomplete(t *testing.T) {
	complete := connectedSlackSource("tenant-a")
	incomplete := connectedSlackSource("tenant-b")
	incomplete.Metadata.Slack.ChannelID = ""

	sources := newFakeSourceDirectory()
	sources.put(complete)
	sources.put(incomplete)
	worker, _ := newSlackTestWorker(t, &fakeSlackAPI{}, sources)

	require.NoError(t, worker.ReconcileSessions(context.Background()))

	assert.Equal(t, 1, worker.SessionCount())
	source, err := sources.Get(context.Background(), "tenant-b", models.ProviderSlackBot)
	require.NoError(t, err)
	assert.Equal(t, models.SourceDisconnected, source.Status)
}

func TestSlackWorkerAnswersChannelMessage(t *testing.T) {
	sources := newFakeSourceDirectory()
	sources.put(connectedSlackSource("tenant-a"))
	api := &fakeSlackAPI{}
	worker, chatLogs := newSlackTestWorker(t, api, sources)

	task, err := queue.NewSlackRegisterTask("tenant-a")
	require.NoError(t, err)
	require.NoError(t, worker.HandleSlackRegister(context.Background(), task))

	api.pushMessage(SlackMessage{
		Timestamp: slackTimestamp(time.Now().Add(time.Minute)),
		UserID:    "U42",
		Text:      "When does the restart run?",
	})

	require.Eventually(t, func() bool {
		return len(api.postedMessages()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	posted := api.postedMessages()
	assert.Equal(t, thinkingNotice, posted[0])
	assert.Contains(t, posted[1], "[[doc-1_0]]")
	assert.Contains(t, posted[1], "*Sources:*")

	created := chatLogs.createdQuestions()
	require.Len(t, created, 1, "each answered message gets a chat log")
	for chatID, question := range created {
		assert.Equal(t, "When does the restart run?", question)
		assert.Equal(t, posted[1], chatLogs.doneAnswer(chatID))
	}
}

func TestSlackWorkerIgnoresSystemSubtypeMessages(t *testing.T) {
	sources := newFakeSourceDirectory()
	sources.put(connectedSlackSource("tenant-a"))
	api := &fakeSlackAPI{}
	worker, chatLogs := newSlackTestWorker(t, api, sources)

	task, err := queue.NewSlackRegisterTask("tenant-a")
	require.NoError(t, err)
	require.NoError(t, worker.HandleSlackRegister(context.Background(), task))

	api.pushMessage(SlackMessage{
		Timestamp: slackTimestamp(time.Now().Add(time.Minute)),
		UserID:    "U42",
		Text:      "U42 has joined the channel",
		SubType:   "channel_join",
	})

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, api.postedMessages())
	assert.Empty(t, chatLogs.createdQuestions())
}

func TestSlackWorkerIgnoresBotMessages(t *testing.T) {
	sources := newFakeSourceDirectory()
	sources.put(connectedSlackSource("tenant-a"))
	api := &fakeSlackAPI{}
	worker, _ := newSlackTestWorker(t, api, sources)

	task, err := queue.NewSlackRegisterTask("tenant-a")
	require.NoError(t, err)
	require.NoError(t, worker.HandleSlackRegister(context.Background(), task))

	api.pushMessage(SlackMessage{
		Timestamp: slackTimestamp(time.Now().Add(time.Minute)),
		Text:      "bot echo",
		FromBot:   true,
	})

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, api.postedMessages())
}

func TestSlackTimestampFormat(t *testing.T) {
	ts := slackTimestamp(time.Unix(1700000000, 123456000))
	assert.Equal(t, "1700000000.123456", ts)

	earlier := slackTimestamp(time.Unix(1700000000, 0))
	assert.Less(t, earlier, ts)
}
