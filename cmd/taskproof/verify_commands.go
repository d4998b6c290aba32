package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <task-id> <image-file>",
		Short: "Submit a photo as evidence for an active task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			result, err := ctx.client().Verify(cmd.Context(), args[0], args[1], image)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			verdict, kind := "FAILED", statusError
			if result.Success {
				verdict, kind = "PASSED", statusOK
			}
			fmt.Fprintln(out, renderStatusLine("Verification", kind, verdict, colorize))
			fmt.Fprintln(out, renderStatusLine("Confidence", statusInfo, strconv.FormatFloat(result.Confidence, 'f', 2, 64), false))
			fmt.Fprintln(out, renderStatusLine("Reasoning", statusInfo, result.Reasoning, false))
			fmt.Fprintln(out, renderStatusLine("Task status", taskStatusKind(result.TaskStatus), result.TaskStatus, colorize))
			if !result.Success {
				fmt.Fprintln(out, "The alarm keeps running; submit another photo to retry")
			}
			return nil
		},
	}
}

func newAttemptsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "attempts <task-id>",
		Short: "Show verification attempts, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attempts, err := ctx.client().ListAttempts(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, attempts)
			}
			out := cmd.OutOrStdout()
			if len(attempts) == 0 {
				fmt.Fprintln(out, "No verification attempts yet")
				return nil
			}
			rows := make([][]string, 0, len(attempts))
			for _, a := range attempts {
				result := "fail"
				if a.Success {
					result = "pass"
				}
				rows = append(rows, []string{
					a.CreatedAt,
					result,
					strconv.FormatFloat(a.Confidence, 'f', 2, 64),
					truncate(a.Reasoning, 60),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"When", "Result", "Confidence", "Reasoning"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of attempts to show")
	return cmd
}
