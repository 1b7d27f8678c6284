package settings

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/meilidash/internal/settingsync"
)

type taskSubmittedMsg struct {
	task settingsync.TaskHandle
}

type saveFailedMsg struct {
	err error
}

// ProgramNotifier forwards workflow notifications into a running program as
// status messages. Notifications that arrive before Attach are dropped.
type ProgramNotifier struct {
	mu      sync.Mutex
	program *tea.Program
}

// NewProgramNotifier creates an unattached ProgramNotifier.
func NewProgramNotifier() *ProgramNotifier {
	return &ProgramNotifier{}
}

// Attach directs notifications to p.
func (n *ProgramNotifier) Attach(p *tea.Program) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.program = p
}

func (n *ProgramNotifier) send(msg tea.Msg) {
	n.mu.Lock()
	p := n.program
	n.mu.Unlock()
	if p != nil {
		go p.Send(msg)
	}
}

// TaskSubmitted implements settingsync.Notifier.
func (n *ProgramNotifier) TaskSubmitted(task settingsync.TaskHandle) {
	n.send(taskSubmittedMsg{task: task})
}

// Failed implements settingsync.Notifier.
func (n *ProgramNotifier) Failed(err error) {
	n.send(saveFailedMsg{err: err})
}
