package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/meilidash/internal/errors"
	"github.com/Iron-Ham/meilidash/internal/meili"
	"github.com/Iron-Ham/meilidash/internal/tui/styles"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect asynchronous tasks",
}

var tasksGetCmd = &cobra.Command{
	Use:   "get <uid>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksGet,
}

var (
	tasksWait bool
)

func init() {
	tasksGetCmd.Flags().BoolVar(&tasksWait, "wait", false, "wait until the task has finished")
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksGetCmd)
}

func runTasksGet(cmd *cobra.Command, args []string) error {
	uid, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || uid < 0 {
		return errors.NewValidationError("task uid must be a non-negative integer").
			WithField("uid").
			WithValue(args[0])
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	var task meili.Task
	if tasksWait {
		task, err = a.client.WaitForTask(cmd.Context(), uid)
		if err != nil && !errors.Is(err, errors.ErrTaskFailed) {
			return err
		}
	} else {
		task, err = a.client.GetTask(cmd.Context(), uid)
		if err != nil {
			return err
		}
	}

	printTask(a.out, task)
	return nil
}

func printTask(w io.Writer, task meili.Task) {
	fmt.Fprintf(w, "Task %d\n", task.UID)
	fmt.Fprintf(w, "  status:   %s\n", styles.RenderStatus(task.Status))
	fmt.Fprintf(w, "  type:     %s\n", task.Type)
	if task.IndexUID != "" {
		fmt.Fprintf(w, "  index:    %s\n", task.IndexUID)
	}
	fmt.Fprintf(w, "  enqueued: %s\n", task.EnqueuedAt.Format("2006-01-02 15:04:05"))
	if task.FinishedAt != nil {
		fmt.Fprintf(w, "  finished: %s\n", task.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if task.Duration != "" {
		fmt.Fprintf(w, "  duration: %s\n", task.Duration)
	}
	if task.Error != nil {
		fmt.Fprintf(w, "  error:    %s\n", styles.ErrorMsg.Render(task.Error.Message))
		if task.Error.Link != "" {
			fmt.Fprintf(w, "            %s\n", task.Error.Link)
		}
	}
}
