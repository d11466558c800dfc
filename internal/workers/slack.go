package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/slack-go/slack"

	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/models"
	"docqa-platform/services"
)

const thinkingNotice = "_Looking that up..._"

// SlackMessage is one channel message relevant to the bot.
type SlackMessage struct {
	Timestamp string
	UserID    string
	Text      string
	SubType   string
	FromBot   bool
}

// SlackAPI abstracts the Slack Web API surface the bot needs.
type SlackAPI interface {
	AuthTest(ctx context.Context) error
	// History returns messages newer than oldest, newest first.
	History(ctx context.Context, channelID, oldest string, limit int) ([]SlackMessage, error)
	PostMessage(ctx context.Context, channelID, text string) error
}

// SlackChatLogs is the chat persistence slice the bot needs. Slack exchanges
// land in the same collection as web chat ones.
type SlackChatLogs interface {
	Create(ctx context.Context, tenantID, question string) (*models.ChatLog, error)
	SetDone(ctx context.Context, chatID, answer string) error
	SetFailed(ctx context.Context, chatID, answer string) error
}

// slackSession polls one tenant's channel and answers questions posted there.
type slackSession struct {
	tenantID  string
	channelID string
	api       SlackAPI
	cancel    context.CancelFunc
	done      chan struct{}
}

// SlackWorker owns the per-tenant polling sessions. Sessions live in worker
// memory; the API process signals registration changes through queue tasks
// and the startup sweep rebuilds sessions from connected sources.
type SlackWorker struct {
	sources      SourceDirectory
	chatLogs     SlackChatLogs
	answers      *services.AnswerService
	pollInterval time.Duration
	newAPI       func(token string) SlackAPI

	mu       sync.Mutex
	sessions map[string]*slackSession
}

func NewSlackWorker(sources SourceDirectory, chatLogs SlackChatLogs, answers *services.AnswerService, pollInterval time.Duration) *SlackWorker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &SlackWorker{
		sources:      sources,
		chatLogs:     chatLogs,
		answers:      answers,
		pollInterval: pollInterval,
		newAPI:       newSlackAPIClient,
		sessions:     make(map[string]*slackSession),
	}
}

func (w *SlackWorker) HandleSlackRegister(ctx context.Context, t *asynq.Task) error {
	var payload queue.SlackSessionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	return w.registerTenant(ctx, payload.TenantID)
}

func (w *SlackWorker) HandleSlackRemove(ctx context.Context, t *asynq.Task) error {
	var payload queue.SlackSessionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	w.stopSession(payload.TenantID)
	return nil
}

// ReconcileSessions rebuilds polling sessions from connected sources, called
// once at worker boot. Sources with broken or incomplete credentials are
// flipped to disconnected so the dashboard reflects reality.
func (w *SlackWorker) ReconcileSessions(ctx context.Context) error {
	sources, err := w.sources.ListConnected(ctx, models.ProviderSlackBot)
	if err != nil {
		return err
	}
	for _, source := range sources {
		if err := w.startFromSource(ctx, &source); err != nil {
			logger.Warn("Disconnecting unusable slack source", "tenant_id", source.TenantID, "error", err)
			w.sources.Disconnect(ctx, source.TenantID, models.ProviderSlackBot)
		}
	}
	logger.Info("Slack sessions reconciled", "active", w.SessionCount())
	return nil
}

func (w *SlackWorker) registerTenant(ctx context.Context, tenantID string) error {
	source, err := w.sources.Get(ctx, tenantID, models.ProviderSlackBot)
	if err != nil {
		return err
	}
	if source.Status != models.SourceConnected {
		w.stopSession(tenantID)
		return nil
	}
	if err := w.startFromSource(ctx, source); err != nil {
		w.sources.Disconnect(ctx, tenantID, models.ProviderSlackBot)
		return permanent(err)
	}
	return nil
}

func (w *SlackWorker) startFromSource(ctx context.Context, source *models.Source) error {
	creds := source.Metadata.Slack
	if !creds.Complete() {
		return fmt.Errorf("slack credentials incomplete for tenant %s", source.TenantID)
	}

	api := w.newAPI(creds.APIKey)
	if err := api.AuthTest(ctx); err != nil {
		return fmt.Errorf("slack auth test failed: %w", err)
	}

	// Replace any existing session; credentials may have changed.
	w.stopSession(source.TenantID)

	sessCtx, cancel := context.WithCancel(context.Background())
	session := &slackSession{
		tenantID:  source.TenantID,
		channelID: creds.ChannelID,
		api:       api,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	w.mu.Lock()
	w.sessions[source.TenantID] = session
	w.mu.Unlock()

	go w.poll(sessCtx, session)
	logger.Info("Slack session started", "tenant_id", source.TenantID, "channel", creds.ChannelName)
	return nil
}

func (w *SlackWorker) stopSession(tenantID string) {
	w.mu.Lock()
	session, ok := w.sessions[tenantID]
	if ok {
		delete(w.sessions, tenantID)
	}
	w.mu.Unlock()
	if ok {
		session.cancel()
		<-session.done
		logger.Info("Slack session stopped", "tenant_id", tenantID)
	}
}

// Stop tears down every session, for worker shutdown.
func (w *SlackWorker) Stop() {
	w.mu.Lock()
	tenants := make([]string, 0, len(w.sessions))
	for tenantID := range w.sessions {
		tenants = append(tenants, tenantID)
	}
	w.mu.Unlock()
	for _, tenantID := range tenants {
		w.stopSession(tenantID)
	}
}

func (w *SlackWorker) SessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

func (w *SlackWorker) poll(ctx context.Context, session *slackSession) {
	defer close(session.done)

	// Only messages posted after session start are answered.
	lastTS := slackTimestamp(time.Now())

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		messages, err := session.api.History(ctx, session.channelID, lastTS, 20)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Slack history fetch failed", "tenant_id", session.tenantID, "error", err)
			continue
		}

		// History is newest first; answer in posting order.
		for i := len(messages) - 1; i >= 0; i-- {
			msg := messages[i]
			if msg.Timestamp > lastTS {
				lastTS = msg.Timestamp
			}
			// Subtyped messages are channel noise (joins, topic changes,
			// bot echoes), not questions.
			if msg.FromBot || msg.SubType != "" || msg.Text == "" {
				continue
			}
			w.answerMessage(ctx, session, msg)
		}
	}
}

func (w *SlackWorker) answerMessage(ctx context.Context, session *slackSession, msg SlackMessage) {
	if err := session.api.PostMessage(ctx, session.channelID, thinkingNotice); err != nil {
		logger.Warn("Failed to post thinking notice", "tenant_id", session.tenantID, "error", err)
	}

	// The exchange is logged like a web chat; a failed insert only costs the
	// history entry, not the answer.
	record, recordErr := w.chatLogs.Create(ctx, session.tenantID, msg.Text)
	if recordErr != nil {
		logger.Warn("Failed to record slack exchange", "tenant_id", session.tenantID, "error", recordErr)
	}

	answer, answerErr := SlackAnswer(ctx, w.answers, session.tenantID, msg.Text)
	if answerErr != nil {
		logger.Error("Slack answer failed", "tenant_id", session.tenantID, "error", answerErr)
		answer = ApologyAnswer
	}

	if record != nil {
		if answerErr != nil {
			w.chatLogs.SetFailed(ctx, record.ID, answer)
		} else {
			w.chatLogs.SetDone(ctx, record.ID, answer)
		}
	}

	if err := session.api.PostMessage(ctx, session.channelID, answer); err != nil {
		logger.Error("Failed to post slack answer", "tenant_id", session.tenantID, "error", err)
	}
}

// slackTimestamp renders a time as Slack's seconds.microseconds format.
func slackTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

// slackAPIClient implements SlackAPI on the Slack Web API.
type slackAPIClient struct {
	client *slack.Client
}

func newSlackAPIClient(token string) SlackAPI {
	return &slackAPIClient{client: slack.New(token)}
}

func (c *slackAPIClient) AuthTest(ctx context.Context) error {
	_, err := c.client.AuthTestContext(ctx)
	return err
}

func (c *slackAPIClient) History(ctx context.Context, channelID, oldest string, limit int) ([]SlackMessage, error) {
	resp, err := c.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    oldest,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	messages := make([]SlackMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		messages = append(messages, SlackMessage{
			Timestamp: m.Timestamp,
			UserID:    m.User,
			Text:      m.Text,
			SubType:   m.SubType,
			FromBot:   m.BotID != "",
		})
	}
	return messages, nil
}

func (c *slackAPIClient) PostMessage(ctx context.Context, channelID, text string) error {
	_, _, err := c.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	return err
}
