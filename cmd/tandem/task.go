package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/olebedev/when"
	"github.com/spf13/cobra"

	"github.com/tandemsync/tandem/internal/engine"
	"github.com/tandemsync/tandem/internal/status"
	"github.com/tandemsync/tandem/internal/store"
	"github.com/tandemsync/tandem/internal/types"
	"github.com/tandemsync/tandem/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and inspect local tasks",
}

var (
	taskBody     string
	taskStatus   string
	taskPriority int
	taskAssignee string
	taskDue      string
	taskProgress int
	syncGitHub   bool
	syncBitable  bool
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task and queue its sync events",
	Long: `Create a task in the local database.

With --github and/or --bitable, a create event for that side is enqueued
in the same transaction as the task, so the remote copy is guaranteed to
follow once 'tandem sync run' (or the daemon) drains the queue.

The --due flag accepts natural language ("tomorrow at 5pm", "next friday")
as well as RFC3339 timestamps.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		task := &types.Task{
			ID:       uuid.NewString(),
			Title:    args[0],
			Body:     taskBody,
			Status:   status.Normalize(taskStatus),
			Priority: taskPriority,
			Source:   "cli",
			Assignee: taskAssignee,
			Progress: taskProgress,
		}

		if taskDue != "" {
			due, err := parseDue(taskDue)
			if err != nil {
				return err
			}
			task.DueAt = &due
		}

		events, err := createEvents(task.ID, syncGitHub, syncBitable)
		if err != nil {
			return err
		}

		if err := db.CreateTaskWithEvents(ctx, task, events); err != nil {
			return err
		}

		fmt.Printf("%s Created task %s\n", ui.RenderPass("✓"), task.ID)
		if len(events) > 0 {
			fmt.Printf("   Queued %d sync event(s); run 'tandem sync run' to deliver\n", len(events))
		}
		return nil
	},
}

var (
	listStatus   string
	listAssignee string
	listLimit    int
)

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		filter := store.TaskFilter{Assignee: listAssignee, Limit: listLimit}
		if listStatus != "" {
			filter.Status = status.Normalize(listStatus)
		}

		tasks, err := db.ListTasks(ctx, filter)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks")
			return nil
		}

		for _, t := range tasks {
			marker := statusMarker(t.Status)
			line := fmt.Sprintf("%s [p%d] %s  %s", marker, t.Priority, ui.RenderMuted(shortID(t.ID)), t.Title)
			if t.Assignee != "" {
				line += ui.RenderMuted(" @" + t.Assignee)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task with its remote links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		task, err := db.GetTask(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("\n%s %s\n\n", statusMarker(task.Status), ui.RenderBold(task.Title))
		fmt.Printf("ID:       %s\n", task.ID)
		fmt.Printf("Status:   %s\n", task.Status)
		fmt.Printf("Priority: %d\n", task.Priority)
		if task.Assignee != "" {
			fmt.Printf("Assignee: %s\n", task.Assignee)
		}
		if task.DueAt != nil {
			fmt.Printf("Due:      %s\n", task.DueAt.Format("2006-01-02 15:04"))
		}
		if task.Progress > 0 {
			fmt.Printf("Progress: %d%%\n", task.Progress)
		}
		if task.Body != "" {
			fmt.Printf("\n%s\n", task.Body)
		}

		m, err := db.GetMapping(ctx, task.ID)
		if err == nil {
			fmt.Println()
			if m.HasIssue() {
				fmt.Printf("Issue:    %s#%d (%s)\n", m.IssueRepo, m.IssueNumber, m.SyncState)
			}
			if m.HasRecord() {
				fmt.Printf("Record:   %s (%s)\n", m.RecordID, m.SyncState)
			}
		}
		fmt.Println()
		return nil
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Update a task and queue propagation to its linked remotes",
	Long: `Update fields of a task.

When the task is linked to an issue or a record, an update event for each
linked side is enqueued in the same transaction as the change.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		task, err := db.GetTask(ctx, args[0])
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("body") {
			task.Body = taskBody
		}
		if cmd.Flags().Changed("status") {
			task.Status = status.Normalize(taskStatus)
		}
		if cmd.Flags().Changed("priority") {
			task.Priority = taskPriority
		}
		if cmd.Flags().Changed("assignee") {
			task.Assignee = taskAssignee
		}
		if cmd.Flags().Changed("progress") {
			task.Progress = taskProgress
		}
		if cmd.Flags().Changed("due") {
			due, err := parseDue(taskDue)
			if err != nil {
				return err
			}
			task.DueAt = &due
		}

		if err := db.UpdateTask(ctx, task); err != nil {
			return err
		}

		queued := 0
		if m, err := db.GetMapping(ctx, task.ID); err == nil {
			payload, err := json.Marshal(engine.Payload{TaskID: task.ID})
			if err != nil {
				return err
			}
			if m.HasIssue() {
				if err := db.EnqueueEvent(ctx, &types.OutboxEvent{Type: types.EventGitHubUpdate, Payload: payload}); err != nil {
					return err
				}
				queued++
			}
			if m.HasRecord() {
				if err := db.EnqueueEvent(ctx, &types.OutboxEvent{Type: types.EventBitableUpdate, Payload: payload}); err != nil {
					return err
				}
				queued++
			}
		}

		fmt.Printf("%s Updated task %s\n", ui.RenderPass("✓"), task.ID)
		if queued > 0 {
			fmt.Printf("   Queued %d propagation event(s)\n", queued)
		}
		return nil
	},
}

// parseDue accepts natural language dates and RFC3339.
func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	r, err := when.EN.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse due date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand due date %q", s)
	}
	return r.Time, nil
}

// createEvents builds the initial create events for the requested sides.
func createEvents(taskID string, github, bitable bool) ([]*types.OutboxEvent, error) {
	payload, err := json.Marshal(engine.Payload{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	var events []*types.OutboxEvent
	if github {
		events = append(events, &types.OutboxEvent{Type: types.EventGitHubCreate, Payload: payload})
	}
	if bitable {
		events = append(events, &types.OutboxEvent{Type: types.EventBitableCreate, Payload: payload})
	}
	return events, nil
}

func statusMarker(s types.Status) string {
	switch s {
	case types.StatusDone:
		return ui.RenderPass("●")
	case types.StatusInProgress:
		return ui.RenderAccent("◐")
	default:
		return ui.RenderMuted("○")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskBody, "body", "", "task description")
	taskCreateCmd.Flags().StringVar(&taskStatus, "status", "todo", "initial status")
	taskCreateCmd.Flags().IntVar(&taskPriority, "priority", 2, "priority 0 (highest) to 4")
	taskCreateCmd.Flags().StringVar(&taskAssignee, "assignee", "", "assignee login")
	taskCreateCmd.Flags().StringVar(&taskDue, "due", "", "due date (natural language or RFC3339)")
	taskCreateCmd.Flags().IntVar(&taskProgress, "progress", 0, "progress percent 0-100")
	taskCreateCmd.Flags().BoolVar(&syncGitHub, "github", false, "create a linked issue")
	taskCreateCmd.Flags().BoolVar(&syncBitable, "bitable", false, "create a linked record")

	taskListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	taskListCmd.Flags().StringVar(&listAssignee, "assignee", "", "filter by assignee")
	taskListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of tasks")

	taskUpdateCmd.Flags().StringVar(&taskBody, "body", "", "task description")
	taskUpdateCmd.Flags().StringVar(&taskStatus, "status", "", "new status")
	taskUpdateCmd.Flags().IntVar(&taskPriority, "priority", 2, "priority 0 (highest) to 4")
	taskUpdateCmd.Flags().StringVar(&taskAssignee, "assignee", "", "assignee login")
	taskUpdateCmd.Flags().StringVar(&taskDue, "due", "", "due date (natural language or RFC3339)")
	taskUpdateCmd.Flags().IntVar(&taskProgress, "progress", 0, "progress percent 0-100")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	rootCmd.AddCommand(taskCmd)
}
