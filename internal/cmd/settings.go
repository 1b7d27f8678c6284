package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/meilidash/internal/errors"
	"github.com/Iron-Ham/meilidash/internal/notify"
	"github.com/Iron-Ham/meilidash/internal/settingsync"
	tuisettings "github.com/Iron-Ham/meilidash/internal/tui/settings"
	"github.com/Iron-Ham/meilidash/internal/tui/styles"
	"github.com/Iron-Ham/meilidash/internal/watch"
)

// drainTimeout bounds how long a command waits for outstanding saves and
// refetches before exiting.
const drainTimeout = 30 * time.Second

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and edit index settings",
	Long: `Show and edit the settings of a Meilisearch index.

Without a subcommand, opens the interactive editor for the given index
(or meilisearch.index when none is given).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSettingsEdit,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show [index]",
	Short: "Print the current settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettingsShow,
}

var settingsEditCmd = &cobra.Command{
	Use:   "edit [index]",
	Short: "Edit settings interactively",
	Long: `Open the interactive settings editor.

Keys:
  e / enter   start editing
  E           edit in $VISUAL or $EDITOR
  ctrl+s      save the draft
  esc         discard the draft
  r           refresh
  tab         switch to the next index`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSettingsEdit,
}

var settingsApplyCmd = &cobra.Command{
	Use:   "apply [index] -f <file>",
	Short: "Apply settings from a file",
	Long: `Submit the settings in a JSON or YAML file as one update.

The file replaces only the settings it names. The command returns once the
update was accepted and the settings were read back; with --wait it reads
them back only after the update task has finished.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSettingsApply,
}

var settingsSyncCmd = &cobra.Command{
	Use:   "sync [index] -f <file>",
	Short: "Save a settings file every time it changes",
	Long: `Watch a JSON or YAML settings file and submit it each time it is saved.

A missing file is created with the current settings. Content that does not
parse is reported and skipped. Stop with ctrl+c.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSettingsSync,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset [index]",
	Short: "Reset all settings to their defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettingsReset,
}

var (
	settingsFormat string
	settingsFile   string
	settingsWait   bool
)

func init() {
	for _, c := range []*cobra.Command{settingsShowCmd, settingsEditCmd, settingsApplyCmd, settingsSyncCmd} {
		c.Flags().StringVar(&settingsFormat, "format", "", "text format: json or yaml")
	}
	for _, c := range []*cobra.Command{settingsApplyCmd, settingsSyncCmd} {
		c.Flags().StringVarP(&settingsFile, "file", "f", "", "settings file")
		_ = c.MarkFlagRequired("file")
	}
	settingsApplyCmd.Flags().BoolVar(&settingsWait, "wait", false, "wait for the update task to finish")
	settingsResetCmd.Flags().BoolVar(&settingsWait, "wait", false, "wait for the reset task to finish")

	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsEditCmd)
	settingsCmd.AddCommand(settingsApplyCmd)
	settingsCmd.AddCommand(settingsSyncCmd)
	settingsCmd.AddCommand(settingsResetCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	index, err := a.resolveIndex(args)
	if err != nil {
		return err
	}
	codec, err := a.codecFor(settingsFormat, "")
	if err != nil {
		return err
	}

	session := a.newSession(index, codec, nil, false)
	defer session.Close()

	if err := session.Refresh(cmd.Context()); err != nil {
		return err
	}

	if isTerminal(a.out) {
		fmt.Fprintln(a.out, styles.Title.Render(fmt.Sprintf("%s settings (%s)", index, a.client.Host())))
	}
	fmt.Fprintln(a.out, session.Text())
	return nil
}

func runSettingsEdit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	index, err := a.resolveIndex(args)
	if err != nil {
		return err
	}
	codec, err := a.codecFor(settingsFormat, "")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	indexes := []string{index}
	if all, err := a.client.ListIndexes(ctx); err != nil {
		a.logger.Warn("failed to list indexes", "error", err.Error())
	} else {
		indexes = indexUIDs(all, index)
	}

	programNotifier := tuisettings.NewProgramNotifier()
	notifier := notify.Multi{notify.NewLog(a.logger), programNotifier}
	if a.cfg.Notifications.Enabled && a.cfg.Notifications.Bell {
		notifier = append(notifier, notify.NewBell(os.Stderr))
	}

	session := a.newSession(index, codec, notifier, false)
	defer session.Close()

	err = tuisettings.Run(ctx, session, tuisettings.Options{
		Indexes:       indexes,
		EditorHeight:  a.cfg.TUI.EditorHeight,
		StatusTimeout: a.cfg.TUI.StatusTimeout(),
		Notifier:      programNotifier,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}
	if err := drain(session); err != nil {
		a.logger.Warn("exited with unsettled saves", "error", err.Error())
	}
	return nil
}

func runSettingsApply(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	index, err := a.resolveIndex(args)
	if err != nil {
		return err
	}
	codec, err := a.codecFor(settingsFormat, settingsFile)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(settingsFile)
	if err != nil {
		return errors.Wrap(err, "failed to read settings file")
	}

	notifier := notify.FromConfig(a.cfg.Notifications, a.out, a.logger)
	session := a.newSession(index, codec, notifier, settingsWait)
	defer session.Close()

	ctx := cmd.Context()
	if err := session.Refresh(ctx); err != nil {
		return err
	}

	session.BeginEdit()
	if err := session.UpdateDraft(string(data)); err != nil {
		return err
	}
	draft := session.Draft()
	if draft.IsEmpty() {
		fmt.Fprintln(a.out, "Nothing to apply: the settings file is empty")
		return nil
	}
	if err := session.Save(ctx); err != nil {
		return err
	}
	if err := session.Wait(ctx); err != nil {
		return err
	}

	if applied(session.Displayed(), draft) {
		fmt.Fprintln(a.out, styles.SuccessMsg.Render("Settings applied to "+index))
	} else {
		fmt.Fprintln(a.out, styles.WarningMsg.Render("Settings submitted; the service has not applied them yet"))
	}
	return nil
}

// applied reports whether every key of want has the same value in got.
func applied(got, want settingsync.Config) bool {
	for k, v := range want {
		if !(settingsync.Config{k: v}).Equal(settingsync.Config{k: got[k]}) {
			return false
		}
	}
	return true
}

func runSettingsSync(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	index, err := a.resolveIndex(args)
	if err != nil {
		return err
	}
	codec, err := a.codecFor(settingsFormat, settingsFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	notifier := notify.FromConfig(a.cfg.Notifications, a.out, a.logger)
	session := a.newSession(index, codec, notifier, false)
	defer session.Close()

	if err := session.Refresh(ctx); err != nil {
		return err
	}

	if _, err := os.Stat(settingsFile); os.IsNotExist(err) {
		if err := os.WriteFile(settingsFile, []byte(session.Text()+"\n"), 0644); err != nil {
			return errors.Wrap(err, "failed to create settings file")
		}
		fmt.Fprintf(a.out, "Created %s with the current settings of %s\n", settingsFile, index)
	}

	w, err := watch.New(settingsFile, watch.WithLogger(a.logger))
	if err != nil {
		return err
	}
	w.SetChangeCallback(func(data []byte) {
		if err := syncDraft(ctx, session, data); err != nil {
			a.logger.Warn("skipped settings change", "error", err.Error())
			fmt.Fprintln(a.out, styles.ErrorMsg.Render("Skipped: "+errors.UserMessage(err)))
		}
	})
	w.Start()
	defer w.Stop()

	fmt.Fprintf(a.out, "Watching %s for changes to %s (ctrl+c to stop)\n", w.Path(), index)
	<-ctx.Done()

	fmt.Fprintln(a.out, "Stopping...")
	w.Stop()
	if err := drain(session); err != nil && !errors.IsWorkflowError(err) {
		return err
	}
	return nil
}

// syncDraft submits data as the new settings. Malformed content leaves the
// session in Viewing.
func syncDraft(ctx context.Context, session *settingsync.Session, data []byte) error {
	session.BeginEdit()
	if err := session.UpdateDraft(string(data)); err != nil {
		session.CancelEdit()
		return err
	}
	if session.Draft().IsEmpty() {
		session.CancelEdit()
		return nil
	}
	return session.Save(ctx)
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	index, err := a.resolveIndex(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	info, err := a.client.ResetSettings(ctx, index)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, notify.TaskMessage(taskHandle(info)))

	if !settingsWait {
		return nil
	}
	task, err := a.client.WaitForTask(ctx, info.TaskUID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Task %d %s\n", task.UID, styles.RenderStatus(task.Status))
	return nil
}

// drain waits for outstanding saves and refetches with a fresh deadline, so
// an interrupted command still lets submitted work settle.
func drain(session *settingsync.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	err := session.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError("waiting for pending saves", drainTimeout).WithCause(err)
	}
	return err
}
