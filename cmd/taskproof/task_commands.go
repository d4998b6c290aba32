package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskproof/internal/apiclient"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := ctx.client().ListTasks(cmd.Context(), status)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, tasks)
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No scheduled tasks found")
				return nil
			}
			fmt.Fprintln(out, renderTaskTable(tasks, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, active, completed)")
	return cmd
}

func renderTaskTable(tasks []apiclient.Task, colorize bool) string {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		status := t.Status
		if colorize {
			status = statusKindColor(taskStatusKind(t.Status)) + status + ansiReset
		}
		rows = append(rows, []string{
			t.ID,
			t.StartTime,
			strconv.Itoa(t.DurationMinutes) + "m",
			status,
			t.Name,
			truncate(t.VerificationInstructions, 50),
		})
	}
	return renderTable(
		[]string{"ID", "Start", "Duration", "Status", "Name", "Proof"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := ctx.client().GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, task)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := []string{
				renderStatusLine("ID", statusInfo, task.ID, false),
				renderStatusLine("Name", statusInfo, task.Name, false),
				renderStatusLine("Status", taskStatusKind(task.Status), task.Status, colorize),
				renderStatusLine("Start", statusInfo, fmt.Sprintf("%s for %d minutes", task.StartTime, task.DurationMinutes), false),
				renderStatusLine("Alert gap", statusInfo, fmt.Sprintf("%d minutes", task.AlertGapMinutes), false),
				renderStatusLine("Proof", statusInfo, task.VerificationInstructions, false),
				renderStatusLine("Created", statusInfo, task.CreatedAt, false),
			}
			if task.CompletedAt != nil {
				lines = append(lines, renderStatusLine("Completed", statusOK, *task.CompletedAt, colorize))
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var req apiclient.CreateTaskRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := ctx.client().CreateTask(cmd.Context(), req)
			if err != nil {
				return describeAPIError(err)
			}
			return printCreated(cmd, ctx, task)
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Task name")
	cmd.Flags().StringVar(&req.StartTime, "start", "", "Start time, HH:MM 24-hour")
	cmd.Flags().IntVar(&req.DurationMinutes, "duration", 30, "Duration in minutes")
	cmd.Flags().IntVar(&req.AlertGapMinutes, "gap", 5, "Minutes between push escalations")
	cmd.Flags().StringVar(&req.VerificationInstructions, "proof", "", "What the photo must show")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("proof")
	return cmd
}

// newCreateTestCommand schedules a demo task two minutes ahead of the daemon clock.
func newCreateTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create-test",
		Short: "Schedule a demo task two minutes from now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			start, err := minutesAfter(status.CurrentTime, 2)
			if err != nil {
				return err
			}
			task, err := client.CreateTask(cmd.Context(), apiclient.CreateTaskRequest{
				Name:                     "CLI Test Task",
				StartTime:                start,
				DurationMinutes:          5,
				AlertGapMinutes:          1,
				VerificationInstructions: "Upload any photo to test the verification system",
			})
			if err != nil {
				return describeAPIError(err)
			}
			if err := printCreated(cmd, ctx, task); err != nil {
				return err
			}
			if !ctx.jsonOutput {
				fmt.Fprintln(cmd.OutOrStdout(), "The alarm will trigger in 2 minutes")
			}
			return nil
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task and its verification history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.client().DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
			return nil
		},
	}
}

func printCreated(cmd *cobra.Command, ctx *commandContext, task *apiclient.Task) error {
	if ctx.jsonOutput {
		return writeJSON(cmd, task)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created task %s (%s at %s)\n", task.ID, task.Name, task.StartTime)
	return nil
}

// describeAPIError expands validation failures into one line per field.
func describeAPIError(err error) error {
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) || len(apiErr.Fields) == 0 {
		return err
	}
	var b strings.Builder
	b.WriteString("invalid task:")
	for _, f := range apiErr.Fields {
		fmt.Fprintf(&b, "\n  %s: %s", f.Field, f.Message)
	}
	return errors.New(b.String())
}

func minutesAfter(clock string, minutes int) (string, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return "", fmt.Errorf("daemon reported clock %q: %w", clock, err)
	}
	return t.Add(time.Duration(minutes) * time.Minute).Format("15:04"), nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
