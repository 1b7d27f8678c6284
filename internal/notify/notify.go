// Package notify delivers save outcomes of the settings workflow to the
// user: a line on the terminal, a log entry, a terminal bell, or a message
// into the TUI. Every notifier is fire-and-forget.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/meilidash/internal/config"
	"github.com/Iron-Ham/meilidash/internal/errors"
	"github.com/Iron-Ham/meilidash/internal/logging"
	"github.com/Iron-Ham/meilidash/internal/settingsync"
)

// Notifier is the notification contract of a settings session.
type Notifier = settingsync.Notifier

// TaskMessage returns the text shown when the service accepted an update.
func TaskMessage(task settingsync.TaskHandle) string {
	return fmt.Sprintf("Settings update submitted (%s)", task)
}

// FailureMessage returns the text shown when an update failed.
func FailureMessage(err error) string {
	return fmt.Sprintf("Settings update failed: %s", errors.UserMessage(err))
}

// Func adapts plain functions to Notifier. Nil fields are skipped.
type Func struct {
	OnTask    func(task settingsync.TaskHandle)
	OnFailure func(err error)
}

// TaskSubmitted calls OnTask.
func (f Func) TaskSubmitted(task settingsync.TaskHandle) {
	if f.OnTask != nil {
		f.OnTask(task)
	}
}

// Failed calls OnFailure.
func (f Func) Failed(err error) {
	if f.OnFailure != nil {
		f.OnFailure(err)
	}
}

// Multi fans every notification out to each notifier in order.
type Multi []Notifier

// TaskSubmitted notifies every member.
func (m Multi) TaskSubmitted(task settingsync.TaskHandle) {
	for _, n := range m {
		n.TaskSubmitted(task)
	}
}

// Failed notifies every member.
func (m Multi) Failed(err error) {
	for _, n := range m {
		n.Failed(err)
	}
}

// Discard drops every notification.
var Discard Notifier = Func{}

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
)

// Writer prints one line per notification.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer notifier over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// TaskSubmitted prints the task line.
func (n *Writer) TaskSubmitted(task settingsync.TaskHandle) {
	n.println(successStyle.Render(TaskMessage(task)))
}

// Failed prints the failure line.
func (n *Writer) Failed(err error) {
	n.println(failureStyle.Render(FailureMessage(err)))
}

func (n *Writer) println(line string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintln(n.w, line)
}

// Log records notifications in the debug log.
type Log struct {
	logger *logging.Logger
}

// NewLog creates a Log notifier.
func NewLog(logger *logging.Logger) *Log {
	return &Log{logger: logger.WithComponent("notify")}
}

// TaskSubmitted logs the task at info level.
func (n *Log) TaskSubmitted(task settingsync.TaskHandle) {
	n.logger.Info("task submitted",
		"task_uid", task.UID,
		"index", task.IndexUID,
		"type", task.Type,
		"status", task.Status,
	)
}

// Failed logs the error at the level matching its severity.
func (n *Log) Failed(err error) {
	if errors.GetSeverity(err) <= errors.SeverityWarning {
		n.logger.Warn("settings update failed", "error", err.Error())
		return
	}
	n.logger.Error("settings update failed", "error", err.Error())
}

// Bell writes the terminal bell character on failures.
type Bell struct {
	w io.Writer
}

// NewBell creates a Bell notifier writing to w, typically os.Stdout.
func NewBell(w io.Writer) *Bell {
	return &Bell{w: w}
}

// TaskSubmitted does nothing.
func (b *Bell) TaskSubmitted(settingsync.TaskHandle) {}

// Failed rings the bell.
func (b *Bell) Failed(error) {
	_, _ = b.w.Write([]byte{'\a'})
}

// FromConfig assembles the notifiers enabled in cfg. The log notifier is
// always included; out receives the visible line and, when enabled, the bell.
func FromConfig(cfg config.NotificationsConfig, out io.Writer, logger *logging.Logger) Notifier {
	notifiers := Multi{NewLog(logger)}
	if !cfg.Enabled {
		return notifiers
	}
	notifiers = append(notifiers, NewWriter(out))
	if cfg.Bell {
		notifiers = append(notifiers, NewBell(out))
	}
	return notifiers
}
