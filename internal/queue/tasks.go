package queue

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Queue names. site-crawl and notion-sync run on the serialized server so a
// tenant's long crawls and syncs never interleave.
const (
	QueueFileProcess = "file-process"
	QueueSiteCrawl   = "site-crawl"
	QueueGDocFetch   = "gdoc-fetch"
	QueueNotionSync  = "notion-sync"
	QueueSlackBot    = "slack-bot"
	QueueChat        = "chat"
)

// SerializedQueues run with concurrency 1.
var SerializedQueues = []string{QueueSiteCrawl, QueueNotionSync}

// ConcurrentQueues share the parallel worker pool.
var ConcurrentQueues = []string{QueueFileProcess, QueueGDocFetch, QueueChat, QueueSlackBot}

// Task type identifiers.
const (
	TaskFileProcess    = "file:process"
	TaskSiteCrawl      = "site:crawl"
	TaskGDocFetch      = "gdoc:fetch"
	TaskNotionSync     = "notion:sync"
	TaskNotionSchedule = "notion:schedule"
	TaskSlackRegister  = "slack:register"
	TaskSlackRemove    = "slack:remove"
	TaskChatAsk        = "chat:ask"
	TaskOrderingProbe  = "probe:ordering"
)

type FileProcessPayload struct {
	JobID        string `json:"job_id"`
	TenantID     string `json:"tenant_id"`
	FilePath     string `json:"file_path"`
	OriginalName string `json:"original_name"`
}

type SiteCrawlPayload struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
	SeedURL  string `json:"seed_url"`
}

// GDocFetchPayload carries the parsed link; Kind distinguishes a Docs
// document from a shared Drive file. An empty Kind means document.
type GDocFetchPayload struct {
	JobID       string `json:"job_id"`
	TenantID    string `json:"tenant_id"`
	DocID       string `json:"doc_id"`
	Kind        string `json:"kind,omitempty"`
	OriginalURL string `json:"original_url"`
}

// NotionSyncPayload with an empty JobID is a scheduled run; the worker
// creates the job record itself.
type NotionSyncPayload struct {
	JobID    string `json:"job_id,omitempty"`
	TenantID string `json:"tenant_id"`
}

// NotionSchedulePayload tells the worker to (re)register or drop the periodic
// sync for a tenant. An empty Cron removes the schedule.
type NotionSchedulePayload struct {
	TenantID string `json:"tenant_id"`
	Cron     string `json:"cron,omitempty"`
}

type SlackSessionPayload struct {
	TenantID string `json:"tenant_id"`
}

type ChatAskPayload struct {
	ChatID   string `json:"chat_id"`
	TenantID string `json:"tenant_id"`
	Question string `json:"question"`
}

// OrderingProbePayload carries a probe's position within its batch so the
// admin API can verify dispatch order per queue.
type OrderingProbePayload struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
	BatchID  string `json:"batch_id"`
	Sequence int    `json:"sequence"`
}

// Task creators

func NewFileProcessTask(jobID, tenantID, filePath, originalName string) (*asynq.Task, error) {
	payload, err := json.Marshal(FileProcessPayload{
		JobID:        jobID,
		TenantID:     tenantID,
		FilePath:     filePath,
		OriginalName: originalName,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskFileProcess,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue(QueueFileProcess),
	), nil
}

func NewSiteCrawlTask(jobID, tenantID, seedURL string) (*asynq.Task, error) {
	payload, err := json.Marshal(SiteCrawlPayload{
		JobID:    jobID,
		TenantID: tenantID,
		SeedURL:  seedURL,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskSiteCrawl,
		payload,
		asynq.MaxRetry(2),
		asynq.Timeout(30*time.Minute),
		asynq.Queue(QueueSiteCrawl),
	), nil
}

func NewGDocFetchTask(jobID, tenantID, docID, kind, originalURL string) (*asynq.Task, error) {
	payload, err := json.Marshal(GDocFetchPayload{
		JobID:       jobID,
		TenantID:    tenantID,
		DocID:       docID,
		Kind:        kind,
		OriginalURL: originalURL,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskGDocFetch,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Queue(QueueGDocFetch),
	), nil
}

func NewNotionSyncTask(jobID, tenantID string) (*asynq.Task, error) {
	payload, err := json.Marshal(NotionSyncPayload{
		JobID:    jobID,
		TenantID: tenantID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskNotionSync,
		payload,
		asynq.MaxRetry(2),
		asynq.Timeout(30*time.Minute),
		asynq.Queue(QueueNotionSync),
	), nil
}

func NewNotionScheduleTask(tenantID, cron string) (*asynq.Task, error) {
	payload, err := json.Marshal(NotionSchedulePayload{
		TenantID: tenantID,
		Cron:     cron,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskNotionSchedule,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Queue(QueueNotionSync),
	), nil
}

func NewSlackRegisterTask(tenantID string) (*asynq.Task, error) {
	payload, err := json.Marshal(SlackSessionPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskSlackRegister,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Queue(QueueSlackBot),
	), nil
}

func NewSlackRemoveTask(tenantID string) (*asynq.Task, error) {
	payload, err := json.Marshal(SlackSessionPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskSlackRemove,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Queue(QueueSlackBot),
	), nil
}

func NewChatAskTask(chatID, tenantID, question string) (*asynq.Task, error) {
	payload, err := json.Marshal(ChatAskPayload{
		ChatID:   chatID,
		TenantID: tenantID,
		Question: question,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskChatAsk,
		payload,
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
		asynq.Queue(QueueChat),
	), nil
}

func NewOrderingProbeTask(queueName, jobID, tenantID, batchID string, sequence int) (*asynq.Task, error) {
	payload, err := json.Marshal(OrderingProbePayload{
		JobID:    jobID,
		TenantID: tenantID,
		BatchID:  batchID,
		Sequence: sequence,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskOrderingProbe,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(time.Minute),
		asynq.Queue(queueName),
	), nil
}
