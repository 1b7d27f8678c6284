package settingsync

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Config is a settings payload: an arbitrary key/value record. A Config held
// by a Session is treated as immutable; edits produce a new Config.
type Config map[string]any

// IsEmpty reports whether c has no keys. A nil Config is empty.
func (c Config) IsEmpty() bool {
	return len(c) == 0
}

// Equal reports structural equality. Nil and empty configs are equal.
func (c Config) Equal(other Config) bool {
	if len(c) == 0 && len(other) == 0 {
		return true
	}
	return reflect.DeepEqual(map[string]any(c), map[string]any(other))
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Config:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// maxExactInt is the largest integer magnitude a float64 holds exactly.
const maxExactInt = 1 << 53

// FromJSON turns an object decoded with json.Decoder.UseNumber into a Config.
// Numbers become float64, except integers beyond the exact float64 range,
// which stay json.Number so they are written back unchanged.
func FromJSON(m map[string]any) Config {
	if m == nil {
		return nil
	}
	return Config(exactNumbers(m).(map[string]any))
}

// exactNumbers replaces json.Number values in v in place.
func exactNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, vv := range t {
			t[k] = exactNumbers(vv)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = exactNumbers(vv)
		}
		return t
	case json.Number:
		return numberValue(t)
	default:
		return v
	}
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		if i > maxExactInt || i < -maxExactInt {
			return n
		}
		return float64(i)
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}

// TaskHandle references an asynchronous operation the remote service
// enqueued in response to an update.
type TaskHandle struct {
	UID        int64
	IndexUID   string
	Status     string
	Type       string
	EnqueuedAt time.Time
}

// String returns a one-line description for notifications.
func (t TaskHandle) String() string {
	s := fmt.Sprintf("task %d", t.UID)
	if t.Type != "" {
		s += " " + t.Type
	}
	if t.IndexUID != "" {
		s += " on " + t.IndexUID
	}
	if t.Status != "" {
		s += ": " + t.Status
	}
	return s
}

// Resource is the remote settings store a Session synchronizes with.
// UpdateConfig returns as soon as the service has accepted the change;
// applying it happens later, server side.
type Resource interface {
	FetchConfig(ctx context.Context, target string) (Config, error)
	UpdateConfig(ctx context.Context, target string, cfg Config) (TaskHandle, error)
}

// TaskWaiter is implemented by resources that can report when a task has
// finished. WaitTask returns nil once the task succeeded.
type TaskWaiter interface {
	WaitTask(ctx context.Context, task TaskHandle) error
}

// Notifier surfaces save outcomes to the user. Calls must not block.
type Notifier interface {
	TaskSubmitted(task TaskHandle)
	Failed(err error)
}

type nopNotifier struct{}

func (nopNotifier) TaskSubmitted(TaskHandle) {}
func (nopNotifier) Failed(error)             {}
