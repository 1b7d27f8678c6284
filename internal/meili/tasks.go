package meili

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Iron-Ham/meilidash/internal/errors"
)

// Task statuses.
const (
	TaskEnqueued   = "enqueued"
	TaskProcessing = "processing"
	TaskSucceeded  = "succeeded"
	TaskFailed     = "failed"
	TaskCanceled   = "canceled"
)

// TaskInfo is the summary returned when the service accepts an
// asynchronous operation.
type TaskInfo struct {
	TaskUID    int64     `json:"taskUid"`
	IndexUID   string    `json:"indexUid"`
	Status     string    `json:"status"`
	Type       string    `json:"type"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// TaskError describes why a task failed.
type TaskError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
	Link    string `json:"link"`
}

// Task is the full state of an asynchronous operation.
type Task struct {
	UID        int64          `json:"uid"`
	IndexUID   string         `json:"indexUid"`
	Status     string         `json:"status"`
	Type       string         `json:"type"`
	Details    map[string]any `json:"details,omitempty"`
	Error      *TaskError     `json:"error,omitempty"`
	Duration   string         `json:"duration,omitempty"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
}

// Done reports whether the task reached a terminal status.
func (t Task) Done() bool {
	switch t.Status {
	case TaskSucceeded, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// Err returns nil for a succeeded task and an error matching
// errors.ErrTaskFailed for a failed or canceled one.
func (t Task) Err() error {
	switch t.Status {
	case TaskFailed:
		msg := "unknown error"
		if t.Error != nil {
			msg = t.Error.Message
			if t.Error.Code != "" {
				msg += " (" + t.Error.Code + ")"
			}
		}
		return fmt.Errorf("task %d failed: %s: %w", t.UID, msg, errors.ErrTaskFailed)
	case TaskCanceled:
		return fmt.Errorf("task %d was canceled: %w", t.UID, errors.ErrTaskFailed)
	}
	return nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, uid int64) (Task, error) {
	var task Task
	err := c.do(ctx, http.MethodGet, "/tasks/"+strconv.FormatInt(uid, 10), nil, &task)
	return task, err
}

// maxPollFailures is how many transient errors in a row WaitForTask
// tolerates before giving up.
const maxPollFailures = 3

// WaitForTask polls the task until it reaches a terminal status. Requests
// are spaced by the client's poll interval. The returned error is the
// task's own failure when it did not succeed. Transient request failures
// are retried up to maxPollFailures times in a row.
func (c *Client) WaitForTask(ctx context.Context, uid int64) (Task, error) {
	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)
	failures := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return Task{}, err
		}

		task, err := c.GetTask(ctx, uid)
		if err != nil {
			if errors.IsRetryable(err) && failures < maxPollFailures {
				failures++
				c.logger.Warn("task poll failed, retrying", "task_uid", uid, "attempt", failures, "error", err.Error())
				continue
			}
			return task, err
		}
		failures = 0
		if task.Done() {
			c.logger.Debug("task finished", "task_uid", uid, "status", task.Status)
			return task, task.Err()
		}
	}
}
