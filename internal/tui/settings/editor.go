package settings

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// externalEditMsg carries the result of an $EDITOR round-trip.
type externalEditMsg struct {
	text    string
	changed bool
	err     error
}

// Wrapper for exec to allow testing
var execLookPath = exec.LookPath

// externalEditCmd writes text to a temporary file, suspends the program while
// the user's editor runs, and reports what was saved.
func externalEditCmd(text, format string) tea.Cmd {
	tmp, err := os.CreateTemp("", "meilidash-settings-*."+format)
	if err != nil {
		return func() tea.Msg { return externalEditMsg{err: err} }
	}
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return func() tea.Msg { return externalEditMsg{err: err} }
	}
	tmp.Close()

	cmd, err := buildEditorCommand(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return func() tea.Msg { return externalEditMsg{err: err} }
	}

	return tea.ExecProcess(cmd, func(err error) tea.Msg {
		defer os.Remove(tmp.Name())
		if err != nil {
			return externalEditMsg{err: fmt.Errorf("editor exited with error: %w", err)}
		}
		return readEditedFile(tmp.Name(), text)
	})
}

func readEditedFile(path, original string) externalEditMsg {
	data, err := os.ReadFile(path)
	if err != nil {
		return externalEditMsg{err: err}
	}
	edited := string(data)
	if normalizeEditorContent(edited) == normalizeEditorContent(original) {
		return externalEditMsg{text: original}
	}
	return externalEditMsg{text: edited, changed: true}
}

// buildEditorCommand resolves $VISUAL, then $EDITOR, then vi.
func buildEditorCommand(path string) (*exec.Cmd, error) {
	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return nil, fmt.Errorf("no editor configured. Set $EDITOR")
	}
	parts = append(parts, path)
	if _, err := execLookPath(parts[0]); err != nil {
		return nil, fmt.Errorf("unable to launch editor %q: %w", parts[0], err)
	}
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd, nil
}

func normalizeEditorContent(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	return strings.TrimRight(value, "\n")
}
