package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/telemetry"
	"docqa-platform/services"
)

// ChatChannel is the redis pub/sub channel tokens for one exchange are
// published on.
func ChatChannel(chatID string) string {
	return "chat:" + chatID
}

// EndSentinel closes a token stream; subscribers stop reading when they see
// it.
const EndSentinel = "[END]"

// ApologyAnswer is streamed when generation fails terminally.
const ApologyAnswer = "Sorry, I ran into a problem while answering. Please try asking again."

// Publisher pushes stream tokens to subscribers. Implemented by redis.
type Publisher interface {
	Publish(ctx context.Context, channel, message string) error
}

// RedisPublisher adapts a redis client to the Publisher interface.
type RedisPublisher struct {
	Client *redis.Client
}

func (p RedisPublisher) Publish(ctx context.Context, channel, message string) error {
	return p.Client.Publish(ctx, channel, message).Err()
}

// ChatLogRecorder is the slice of chat persistence the worker needs.
type ChatLogRecorder interface {
	SetStreaming(ctx context.Context, chatID string) error
	SetDone(ctx context.Context, chatID, answer string) error
	SetFailed(ctx context.Context, chatID, answer string) error
}

// ChatWorker answers questions: retrieve context, stream the generation, and
// publish rewritten tokens to the exchange's channel.
type ChatWorker struct {
	answers  *services.AnswerService
	chatLogs ChatLogRecorder
	pub      Publisher
}

func NewChatWorker(answers *services.AnswerService, chatLogs ChatLogRecorder, pub Publisher) *ChatWorker {
	return &ChatWorker{answers: answers, chatLogs: chatLogs, pub: pub}
}

func (w *ChatWorker) HandleChatAsk(ctx context.Context, t *asynq.Task) error {
	var payload queue.ChatAskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Answering chat question", "chat_id", payload.ChatID, "tenant_id", payload.TenantID)

	err := w.answer(ctx, payload)
	if err != nil {
		// The stream already carried the apology and sentinel; the task
		// itself must not retry and re-stream.
		w.chatLogs.SetFailed(ctx, payload.ChatID, ApologyAnswer)
		telemetry.RecordJobFailed(ctx, queue.QueueChat)
		return permanent(err)
	}

	telemetry.RecordJobProcessed(ctx, queue.QueueChat)
	return nil
}

func (w *ChatWorker) answer(ctx context.Context, payload queue.ChatAskPayload) error {
	channel := ChatChannel(payload.ChatID)

	results, err := w.answers.Retrieve(ctx, payload.TenantID, payload.Question)
	if err != nil {
		w.publishFailure(ctx, channel)
		return err
	}

	if len(results) == 0 {
		return w.answerWithoutContext(ctx, payload, channel)
	}

	if err := w.chatLogs.SetStreaming(ctx, payload.ChatID); err != nil {
		return err
	}

	prompt := w.answers.BuildPrompt(payload.Question, results)
	rewriter := services.NewStreamRewriter(results)
	var full string

	streamErr := w.answers.Generator.GenerateStream(ctx, prompt, func(token string) error {
		out := rewriter.Feed(token)
		if out == "" {
			return nil
		}
		full += out
		return w.pub.Publish(ctx, channel, out)
	})
	if streamErr != nil {
		w.publishFailure(ctx, channel)
		return streamErr
	}

	if tail := rewriter.Flush(); tail != "" {
		full += tail
		if err := w.pub.Publish(ctx, channel, tail); err != nil {
			return err
		}
	}
	if err := w.pub.Publish(ctx, channel, EndSentinel); err != nil {
		return err
	}

	return w.chatLogs.SetDone(ctx, payload.ChatID, full)
}

// answerWithoutContext streams the no-context fallback generation. This path
// never fails the task: if the model has nothing to say, the canned fallback
// goes out instead.
func (w *ChatWorker) answerWithoutContext(ctx context.Context, payload queue.ChatAskPayload, channel string) error {
	if err := w.chatLogs.SetStreaming(ctx, payload.ChatID); err != nil {
		return err
	}

	var full string
	prompt := w.answers.BuildNoContextPrompt(payload.Question)
	streamErr := w.answers.Generator.GenerateStream(ctx, prompt, func(token string) error {
		full += token
		return w.pub.Publish(ctx, channel, token)
	})
	if streamErr != nil {
		logger.Warn("No-context generation failed, using fallback answer", "chat_id", payload.ChatID, "error", streamErr)
	}
	if full == "" {
		full = services.NoContextAnswer
		if err := w.pub.Publish(ctx, channel, full); err != nil {
			return err
		}
	}
	if err := w.pub.Publish(ctx, channel, EndSentinel); err != nil {
		return err
	}
	return w.chatLogs.SetDone(ctx, payload.ChatID, full)
}

func (w *ChatWorker) publishFailure(ctx context.Context, channel string) {
	w.pub.Publish(ctx, channel, ApologyAnswer)
	w.pub.Publish(ctx, channel, EndSentinel)
}

// SlackAnswer produces a one-shot answer with a source footer for the Slack
// bot, which has no token stream to publish into.
func SlackAnswer(ctx context.Context, answers *services.AnswerService, tenantID, question string) (string, error) {
	text, results, err := answers.Answer(ctx, tenantID, question)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return text, nil
	}

	seen := make(map[string]struct{})
	footer := ""
	for _, r := range results {
		name := r.Payload.Source
		if name == "" {
			name = r.Payload.DocID
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		footer += "\n• " + name
	}
	if footer != "" {
		text += "\n\n*Sources:*" + footer
	}
	return text, nil
}
