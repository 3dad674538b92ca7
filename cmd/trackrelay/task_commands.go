package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trackrelay/internal/api"
	"trackrelay/internal/ipc"
)

const watchPollWait = 5 * time.Second

func newTaskCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newSubmitCommand(ctx),
		newCancelCommand(ctx),
		newTaskCommand(ctx),
		newTasksCommand(ctx),
		newWatchCommand(ctx),
		newStatsCommand(ctx),
	}
}

// defaultRequester identifies CLI submissions when --requester is not set.
func defaultRequester() string {
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return "cli:" + user
	}
	return "cli"
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var requester, quality, storefront string
	var noLyrics, noCover, force, wait bool

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Queue a single-track download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.SubmitRequest{
				RequesterID: requester,
				URL:         strings.TrimSpace(args[0]),
				Quality:     quality,
				Storefront:  storefront,
				Force:       force,
			}
			if noLyrics {
				req.Lyrics = boolPtr(false)
			}
			if noCover {
				req.Cover = boolPtr(false)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(req)
				if err != nil {
					return err
				}
				if ctx.JSONMode() && !wait {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Rejected {
					if resp.ExistingTaskID != "" {
						return fmt.Errorf("rejected (%s): %s [task %s]", resp.RejectionCode, resp.Message, resp.ExistingTaskID)
					}
					return fmt.Errorf("rejected (%s): %s", resp.RejectionCode, resp.Message)
				}
				if resp.Task == nil {
					return errors.New("missing task in submit response")
				}
				if !ctx.JSONMode() {
					fmt.Fprintf(out, "Queued task %s (%s)\n", resp.Task.ID, api.Outcome(*resp.Task))
				}
				if !wait {
					return nil
				}
				return followTask(cmd, ctx, client, resp.Task.ID)
			})
		},
	}
	cmd.Flags().StringVarP(&requester, "requester", "r", defaultRequester(), "Requester identity used for limits and cancellation")
	cmd.Flags().StringVarP(&quality, "quality", "q", "", "Quality tier (alac, aac, aac-lc, atmos, ...)")
	cmd.Flags().StringVar(&storefront, "storefront", "", "Override the storefront parsed from the link")
	cmd.Flags().BoolVar(&noLyrics, "no-lyrics", false, "Skip lyrics for this task")
	cmd.Flags().BoolVar(&noCover, "no-cover", false, "Skip cover art for this task")
	cmd.Flags().BoolVar(&force, "force", false, "Re-download even if the output file exists")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Follow the task until it finishes")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var requester string
	var all bool

	cmd := &cobra.Command{
		Use:   "cancel [taskID...]",
		Short: "Cancel queued or running tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("specify task IDs or --all")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				if all {
					resp, err := client.CancelAll(requester)
					if err != nil {
						return err
					}
					return emit(cmd, ctx, resp, func() error {
						fmt.Fprintf(out, "Cancelled %d tasks\n", resp.Cancelled)
						return nil
					})
				}
				results := make(map[string]bool, len(args))
				for _, id := range args {
					resp, err := client.Cancel(strings.TrimSpace(id), requester)
					if err != nil {
						return err
					}
					results[id] = resp.Cancelled
				}
				return emit(cmd, ctx, results, func() error {
					for _, id := range args {
						if results[id] {
							fmt.Fprintf(out, "Task %s cancelled\n", id)
						} else {
							fmt.Fprintf(out, "Task %s not cancelled (unknown, finished, or owned by another requester)\n", id)
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&requester, "requester", "r", defaultRequester(), "Requester whose tasks may be cancelled (\"*\" for any)")
	cmd.Flags().BoolVar(&all, "all", false, "Cancel every active task of the requester")
	return cmd
}

func newTaskCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "task <taskID>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Task(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if !resp.Found {
					return fmt.Errorf("task %s not found", args[0])
				}
				if follow {
					return followTask(cmd, ctx, client, resp.Task.ID)
				}
				return emit(cmd, ctx, resp.Task, func() error {
					fmt.Fprint(cmd.OutOrStdout(), renderTaskDetail(resp.Task))
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow the task until it finishes")
	return cmd
}

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var requester string
	var history int

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List active tasks and recent history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Tasks(ipc.TasksRequest{RequesterID: requester, History: history})
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp.Tasks, func() error {
					out := cmd.OutOrStdout()
					if len(resp.Tasks) == 0 {
						fmt.Fprintln(out, "No tasks")
						return nil
					}
					fmt.Fprint(out, renderTable(
						[]string{"ID", "Requester", "Track", "Status", "Outcome", "Created"},
						buildTaskRows(resp.Tasks),
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
					))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&requester, "requester", "r", "", "Only show tasks of this requester")
	cmd.Flags().IntVar(&history, "history", 10, "Number of finished tasks to include")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var taskID, requester string
	var types []string
	var since uint64

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream task and wrapper events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				req := ipc.EventsRequest{
					Since:       since,
					TaskID:      taskID,
					RequesterID: requester,
					Types:       types,
					WaitMillis:  int(watchPollWait.Milliseconds()),
				}
				return streamEvents(cmd, ctx, client, req, nil)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Only show events of this task")
	cmd.Flags().StringVarP(&requester, "requester", "r", "", "Only show events of this requester")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only show these event types (repeatable)")
	cmd.Flags().Uint64Var(&since, "since", 0, "Resume after this event sequence")
	return cmd
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters and success rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				stats := resp.Status.Queue
				return emit(cmd, ctx, stats, func() error {
					out := cmd.OutOrStdout()
					running := stats.RunningTaskID
					if running == "" {
						running = "none"
					}
					fmt.Fprint(out, renderKeyValues([][2]string{
						{"Accepting", yesNo(stats.Accepting)},
						{"Running", running},
						{"Pending", fmt.Sprintf("%d of %d", stats.Pending, stats.MaxQueueSize)},
						{"Total", strconv.Itoa(stats.Total)},
						{"Success rate", fmt.Sprintf("%.1f%%", stats.SuccessRate*100)},
						{"Average duration", (time.Duration(stats.AverageDurationMs) * time.Millisecond).Round(time.Millisecond).String()},
					}))
					if rows := buildQueueStatusRows(stats.Counts); len(rows) > 0 {
						fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
					}
					return nil
				})
			})
		},
	}
}

// followTask streams a task's events until it reaches a terminal state and
// returns an error when it did not succeed.
func followTask(cmd *cobra.Command, ctx *commandContext, client *ipc.Client, taskID string) error {
	var final api.TaskItem
	req := ipc.EventsRequest{TaskID: taskID, WaitMillis: int(watchPollWait.Milliseconds())}
	err := streamEvents(cmd, ctx, client, req, func() bool {
		resp, err := client.Task(taskID)
		if err != nil || !resp.Found {
			return false
		}
		final = resp.Task
		return isTerminal(final.Status)
	})
	if err != nil {
		return err
	}
	if ctx.JSONMode() {
		return writeJSON(cmd, final)
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderTaskDetail(final))
	if final.Status != "succeeded" {
		return fmt.Errorf("task %s %s: %s", final.ID, final.Status, api.Outcome(final))
	}
	return nil
}

// streamEvents long-polls the daemon and prints events until the command
// context ends or done reports true after a page.
func streamEvents(cmd *cobra.Command, ctx *commandContext, client *ipc.Client, req ipc.EventsRequest, done func() bool) error {
	runCtx := cmd.Context()
	out := cmd.OutOrStdout()
	for {
		if runCtx != nil && runCtx.Err() != nil {
			return nil
		}
		resp, err := client.Events(req)
		if err != nil {
			return err
		}
		for _, evt := range resp.Events {
			if ctx.JSONMode() {
				if done == nil {
					if err := writeJSON(cmd, evt); err != nil {
						return err
					}
				}
				continue
			}
			fmt.Fprintln(out, formatEvent(evt))
		}
		req.Since = resp.Next
		if done != nil && done() {
			return nil
		}
	}
}

func isTerminal(status string) bool {
	switch status {
	case "succeeded", "failed", "cancelled":
		return true
	default:
		return false
	}
}

func formatEvent(evt api.Event) string {
	var b strings.Builder
	ts := evt.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, evt.Timestamp); err == nil {
		ts = t.Local().Format("15:04:05")
	}
	fmt.Fprintf(&b, "%s #%d %s", ts, evt.Sequence, evt.Type)
	if evt.TaskID != "" {
		fmt.Fprintf(&b, " task=%s", evt.TaskID)
	}
	for _, kv := range [][2]string{
		{"stage", evt.Stage},
		{"status", evt.Status},
		{"reason", evt.ReasonCode},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, " %s=%s", kv[0], kv[1])
		}
	}
	if evt.Position > 0 {
		fmt.Fprintf(&b, " position=%d", evt.Position)
	}
	if evt.Attempt > 0 {
		fmt.Fprintf(&b, " attempt=%d", evt.Attempt)
	}
	if evt.Message != "" {
		fmt.Fprintf(&b, " %q", evt.Message)
	}
	return b.String()
}

func buildTaskRows(tasks []api.TaskItem) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, []string{
			task.ID,
			task.RequesterID,
			api.TaskLabel(task),
			task.Status,
			api.Outcome(task),
			api.RelativeTime(task.CreatedAt),
		})
	}
	return rows
}

func renderTaskDetail(task api.TaskItem) string {
	duration := ""
	if task.DurationMs > 0 {
		duration = (time.Duration(task.DurationMs) * time.Millisecond).Round(time.Millisecond).String()
	}
	return renderKeyValues([][2]string{
		{"ID", task.ID},
		{"Track", api.TaskLabel(task)},
		{"Requester", task.RequesterID},
		{"Source", task.SourceURL},
		{"Status", task.Status},
		{"Outcome", api.Outcome(task)},
		{"Quality", task.Quality},
		{"Codec", task.ActualCodec},
		{"Attempts", strconv.Itoa(task.Attempts)},
		{"Created", api.RelativeTime(task.CreatedAt)},
		{"Duration", duration},
		{"Error", task.ErrorDetail},
		{"Artifact", task.ArtifactID},
	})
}

func boolPtr(v bool) *bool { return &v }
