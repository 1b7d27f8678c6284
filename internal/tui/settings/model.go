// Package settings is the interactive settings editor. It renders a
// settingsync.Session and turns key presses into session operations; all
// synchronization logic stays in the session.
package settings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/meilidash/internal/errors"
	"github.com/Iron-Ham/meilidash/internal/logging"
	"github.com/Iron-Ham/meilidash/internal/notify"
	"github.com/Iron-Ham/meilidash/internal/settingsync"
	"github.com/Iron-Ham/meilidash/internal/tui/styles"
)

// Options configure the settings view.
type Options struct {
	// Indexes the user can switch between; the session target should be
	// one of them.
	Indexes       []string
	EditorHeight  int
	StatusTimeout time.Duration
	Notifier      *ProgramNotifier
	Logger        *logging.Logger
}

type sessionChangedMsg struct{}

type refreshedMsg struct {
	err error
}

type statusTimeoutMsg struct {
	seq int
}

// Model is the Bubbletea model for the settings editor
type Model struct {
	ctx     context.Context
	session *settingsync.Session
	logger  *logging.Logger

	snap     settingsync.Snapshot
	indexes  []string
	indexPos int

	viewport     viewport.Model
	editor       textarea.Model
	spinner      spinner.Model
	editorHeight int
	draftInvalid bool

	width  int
	height int

	status         string
	statusErr      bool
	statusSeq      int
	statusTimeout  time.Duration
	statusTimerCmd tea.Cmd

	quitting bool
}

// New creates a settings model for session.
func New(ctx context.Context, session *settingsync.Session, opts Options) Model {
	if opts.EditorHeight <= 0 {
		opts.EditorHeight = 24
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}

	ta := textarea.New()
	ta.ShowLineNumbers = true
	ta.CharLimit = 0
	ta.MaxHeight = 0
	ta.Placeholder = "{}"

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Primary

	m := Model{
		ctx:           ctx,
		session:       session,
		logger:        opts.Logger.WithComponent("tui"),
		indexes:       opts.Indexes,
		viewport:      viewport.New(80, 10),
		editor:        ta,
		spinner:       sp,
		editorHeight:  opts.EditorHeight,
		statusTimeout: opts.StatusTimeout,
	}
	for i, name := range m.indexes {
		if name == session.Target() {
			m.indexPos = i
		}
	}
	m.sync()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refreshCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case sessionChangedMsg:
		m.sync()

	case refreshedMsg:
		m.sync()
		if msg.err != nil {
			m.setStatus("Refresh failed: "+errors.UserMessage(msg.err), true)
		}

	case taskSubmittedMsg:
		m.sync()
		m.setStatus(notify.TaskMessage(msg.task), false)

	case saveFailedMsg:
		m.sync()
		m.setStatus(notify.FailureMessage(msg.err), true)

	case externalEditMsg:
		m.handleExternalEdit(msg)

	case statusTimeoutMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
			m.statusErr = false
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		cmds = append(cmds, m.handleKey(msg))

	default:
		if m.editing() {
			var cmd tea.Cmd
			m.editor, cmd = m.editor.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	if m.statusTimerCmd != nil {
		cmds = append(cmds, m.statusTimerCmd)
		m.statusTimerCmd = nil
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return tea.Quit
	}
	if m.editing() {
		return m.handleEditingKey(msg)
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return tea.Quit

	case "e", "enter":
		return m.beginEdit()

	case "E":
		cmd := m.beginEdit()
		if !m.editing() {
			return cmd
		}
		return tea.Batch(cmd, externalEditCmd(m.editor.Value(), m.session.Codec().Format()))

	case "r":
		m.setStatus("Refreshing...", false)
		return m.refreshCmd()

	case "tab", "]":
		m.switchIndex(1)
		return nil

	case "shift+tab", "[":
		m.switchIndex(-1)
		return nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return cmd
}

func (m *Model) handleEditingKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		m.session.CancelEdit()
		m.editor.Blur()
		m.sync()
		m.setStatus("Edit cancelled", false)
		return nil

	case "ctrl+s":
		m.save()
		return nil

	case "ctrl+e":
		return externalEditCmd(m.editor.Value(), m.session.Codec().Format())
	}

	before := m.editor.Value()
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	if m.editor.Value() != before {
		m.updateDraft()
	}
	return cmd
}

// updateDraft hands the editor text to the session. Text that does not parse
// keeps the last valid draft and is reported in the status line.
func (m *Model) updateDraft() {
	if err := m.session.UpdateDraft(m.editor.Value()); err != nil {
		m.draftInvalid = true
		m.setStatus("Invalid: "+errors.UserMessage(err), true)
		return
	}
	if m.draftInvalid {
		m.draftInvalid = false
		m.setStatus("", false)
	}
}

func (m *Model) beginEdit() tea.Cmd {
	if m.snap.Displayed == nil && m.snap.FetchErr != nil {
		m.setStatus("Settings are not loaded yet, press r to retry", true)
		return nil
	}
	m.session.BeginEdit()
	m.draftInvalid = false
	m.editor.SetValue(m.session.Text())
	m.sync()
	return m.editor.Focus()
}

func (m *Model) save() {
	m.updateDraft()
	if m.draftInvalid {
		return
	}
	if err := m.session.Save(m.ctx); err != nil {
		m.setStatus(errors.UserMessage(err), true)
		return
	}
	m.sync()
	if m.editing() {
		m.setStatus("Nothing to save: the draft is empty", true)
		return
	}
	m.editor.Blur()
	m.setStatus("Saving settings...", false)
}

func (m *Model) handleExternalEdit(msg externalEditMsg) {
	if msg.err != nil {
		m.logger.Warn("external editor failed", "error", msg.err.Error())
		m.setStatus(msg.err.Error(), true)
		return
	}
	if !msg.changed {
		m.setStatus("No changes from editor", false)
		return
	}
	if !m.editing() {
		return
	}
	m.editor.SetValue(msg.text)
	m.updateDraft()
	if m.draftInvalid {
		return
	}
	m.sync()
	m.setStatus("Draft updated from editor, ctrl+s to save", false)
}

func (m *Model) switchIndex(delta int) {
	n := len(m.indexes)
	if n < 2 {
		return
	}
	m.indexPos = (m.indexPos + delta + n) % n
	target := m.indexes[m.indexPos]
	m.logger.Debug("switching index", "target", target)
	m.session.SetTarget(target)
	m.editor.Blur()
	m.sync()
	m.viewport.GotoTop()
	m.setStatus("Switched to "+target, false)
}

func (m Model) refreshCmd() tea.Cmd {
	session, ctx := m.session, m.ctx
	return func() tea.Msg {
		return refreshedMsg{err: session.Refresh(ctx)}
	}
}

// sync re-reads the session. Every session change funnels through here.
func (m *Model) sync() {
	m.snap = m.session.Snapshot()
	if !m.editing() && m.editor.Focused() {
		m.editor.Blur()
	}
	if m.snap.Displayed != nil {
		m.viewport.SetContent(m.session.Render(m.snap.Displayed))
	} else {
		m.viewport.SetContent("")
	}
}

func (m Model) editing() bool {
	return m.snap.State == settingsync.Editing
}

func (m *Model) resize() {
	inner := max(m.width-4, 10)
	body := max(m.height-styles.ChromeLines, 3)
	m.viewport.Width = inner
	m.viewport.Height = body
	m.editor.SetWidth(inner)
	m.editor.SetHeight(min(m.editorHeight, body))
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
	m.statusSeq++
	if text == "" || m.statusTimeout <= 0 {
		m.statusTimerCmd = nil
		return
	}
	seq := m.statusSeq
	m.statusTimerCmd = tea.Tick(m.statusTimeout, func(time.Time) tea.Msg {
		return statusTimeoutMsg{seq: seq}
	})
}

func (m Model) busy() bool {
	return m.snap.Loading || m.snap.Saving || m.snap.Pending
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := styles.Header.Width(m.width - 4).Render("Meilisearch Settings")
	b.WriteString(header)
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	b.WriteString(ansi.Truncate(m.renderState(), m.width, "…"))
	b.WriteString("\n")

	switch {
	case m.editing():
		b.WriteString(styles.EditorBox.Render(m.editor.View()))
	case m.snap.Displayed == nil && m.snap.FetchErr != nil:
		b.WriteString(styles.ContentBox.Render(styles.ErrorMsg.Render(errors.UserMessage(m.snap.FetchErr))))
	case m.snap.Displayed == nil:
		b.WriteString(styles.ContentBox.Render(styles.Muted.Render("Loading settings...")))
	default:
		b.WriteString(styles.ContentBox.Render(m.viewport.View()))
	}
	b.WriteString("\n")

	if m.status != "" {
		style := styles.SuccessMsg
		if m.statusErr {
			style = styles.ErrorMsg
		}
		b.WriteString(ansi.Truncate(style.Render(m.status), m.width, "…"))
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m Model) renderTabs() string {
	if len(m.indexes) == 0 {
		return styles.TabActive.Render(m.snap.Target)
	}
	tabs := make([]string, len(m.indexes))
	for i, name := range m.indexes {
		if name == m.snap.Target {
			tabs[i] = styles.TabActive.Render(name)
		} else {
			tabs[i] = styles.TabInactive.Render(name)
		}
	}
	return ansi.Truncate(strings.Join(tabs, ""), m.width, "…")
}

func (m Model) renderState() string {
	var parts []string

	if m.busy() {
		parts = append(parts, m.spinner.View())
	}

	state := m.snap.State.String()
	if m.snap.Saving {
		state = "saving"
	}
	parts = append(parts, styles.Primary.Bold(true).Render(state))

	if m.snap.Pending {
		parts = append(parts, styles.Warning.Render("syncing"))
	}
	if m.snap.LastTask != nil {
		task := m.snap.LastTask
		parts = append(parts, styles.Muted.Render(fmt.Sprintf("task %d", task.UID))+" "+styles.RenderStatus(task.Status))
	}
	if !m.snap.UpdatedAt.IsZero() {
		parts = append(parts, styles.Muted.Render("updated "+m.snap.UpdatedAt.Format("15:04:05")))
	}
	if m.snap.FetchErr != nil && m.snap.Displayed != nil {
		parts = append(parts, styles.Error.Render("stale: "+errors.UserMessage(m.snap.FetchErr)))
	}

	return strings.Join(parts, "  ")
}

func (m Model) renderHelp() string {
	helpStyle := styles.HelpBar
	keyStyle := styles.HelpKey

	if m.editing() {
		return helpStyle.Render(
			keyStyle.Render("ctrl+s") + " save  " +
				keyStyle.Render("ctrl+e") + " $EDITOR  " +
				keyStyle.Render("esc") + " cancel",
		)
	}

	help := keyStyle.Render("e") + " edit  " +
		keyStyle.Render("E") + " edit in $EDITOR  " +
		keyStyle.Render("r") + " refresh  "
	if len(m.indexes) > 1 {
		help += keyStyle.Render("tab") + " next index  "
	}
	help += keyStyle.Render("j/k") + " scroll  " +
		keyStyle.Render("q") + " quit"
	return helpStyle.Render(help)
}

// Run starts the interactive settings editor and blocks until the user
// quits.
func Run(ctx context.Context, session *settingsync.Session, opts Options) error {
	p := tea.NewProgram(New(ctx, session, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if opts.Notifier != nil {
		opts.Notifier.Attach(p)
	}

	// Send asynchronously: listeners can fire from inside Update.
	cancel := session.Subscribe(func(settingsync.Snapshot) {
		go p.Send(sessionChangedMsg{})
	})
	defer cancel()

	_, err := p.Run()
	return err
}
