package queue

import (
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskSummary is the admin-facing view of one queued task.
type TaskSummary struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Queue     string `json:"queue"`
	State     string `json:"state"`
	Retried   int    `json:"retried"`
	MaxRetry  int    `json:"max_retry"`
	LastError string `json:"last_error,omitempty"`
}

// QueueSnapshot summarizes one queue's backlog.
type QueueSnapshot struct {
	Name      string `json:"name"`
	Size      int    `json:"size"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Completed int    `json:"completed"`
	Paused    bool   `json:"paused"`
}

// Inspector wraps asynq's inspector with the subset of operations the admin
// routes expose.
type Inspector struct {
	inner *asynq.Inspector
}

func NewInspector(opt asynq.RedisClientOpt) *Inspector {
	return &Inspector{inner: asynq.NewInspector(opt)}
}

// AllQueues returns snapshots for every queue the platform uses, in a fixed
// order. Queues asynq has not seen yet report as empty.
func (i *Inspector) AllQueues() ([]QueueSnapshot, error) {
	names := append(append([]string{}, SerializedQueues...), ConcurrentQueues...)
	snapshots := make([]QueueSnapshot, 0, len(names))
	for _, name := range names {
		info, err := i.inner.GetQueueInfo(name)
		if err != nil {
			// Unknown queue means nothing was ever enqueued on it.
			snapshots = append(snapshots, QueueSnapshot{Name: name})
			continue
		}
		snapshots = append(snapshots, QueueSnapshot{
			Name:      name,
			Size:      info.Size,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Completed: info.Completed,
			Paused:    info.Paused,
		})
	}
	return snapshots, nil
}

// ListTasks returns tasks in one state of one queue.
func (i *Inspector) ListTasks(queueName, state string) ([]TaskSummary, error) {
	var (
		infos []*asynq.TaskInfo
		err   error
	)
	switch state {
	case "pending":
		infos, err = i.inner.ListPendingTasks(queueName)
	case "active":
		infos, err = i.inner.ListActiveTasks(queueName)
	case "scheduled":
		infos, err = i.inner.ListScheduledTasks(queueName)
	case "retry":
		infos, err = i.inner.ListRetryTasks(queueName)
	case "archived":
		infos, err = i.inner.ListArchivedTasks(queueName)
	default:
		return nil, fmt.Errorf("unknown task state %q", state)
	}
	if err != nil {
		return nil, err
	}

	tasks := make([]TaskSummary, len(infos))
	for idx, info := range infos {
		tasks[idx] = TaskSummary{
			ID:        info.ID,
			Type:      info.Type,
			Queue:     info.Queue,
			State:     info.State.String(),
			Retried:   info.Retried,
			MaxRetry:  info.MaxRetry,
			LastError: info.LastErr,
		}
	}
	return tasks, nil
}

// DeleteTask removes a non-active task from its queue.
func (i *Inspector) DeleteTask(queueName, taskID string) error {
	return i.inner.DeleteTask(queueName, taskID)
}

// Close releases the inspector's redis connections.
func (i *Inspector) Close() error {
	return i.inner.Close()
}
