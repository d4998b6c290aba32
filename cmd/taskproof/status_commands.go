package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize tasks and running alarms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			oracleKind, oracleText := statusWarn, "mock (no API key)"
			if status.OracleConfigured {
				oracleKind, oracleText = statusOK, "configured"
			}
			alarmKind := statusOK
			if status.ActiveAlarms > 0 {
				alarmKind = statusError
			}

			fmt.Fprintln(out, "System status")
			fmt.Fprintln(out, renderStatusLine("Current time", statusInfo, status.CurrentTime, false))
			fmt.Fprintln(out, renderStatusLine("Total tasks", statusInfo, strconv.Itoa(status.TotalTasks), false))
			fmt.Fprintln(out, renderStatusLine("Pending", statusWarn, strconv.Itoa(status.PendingTasks), colorize))
			fmt.Fprintln(out, renderStatusLine("Active", statusError, strconv.Itoa(status.ActiveTasks), colorize))
			fmt.Fprintln(out, renderStatusLine("Completed", statusOK, strconv.Itoa(status.CompletedTasks), colorize))
			fmt.Fprintln(out, renderStatusLine("Active alarms", alarmKind, strconv.Itoa(status.ActiveAlarms), colorize))
			fmt.Fprintln(out, renderStatusLine("Oracle", oracleKind, oracleText, colorize))
			for _, id := range status.AlarmTaskIDs {
				fmt.Fprintf(out, "  needs verification: %s\n", id)
			}
			return nil
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := ctx.client().Health(cmd.Context())
			if health == nil {
				return err
			}
			if ctx.jsonOutput {
				if werr := writeJSON(cmd, health); werr != nil {
					return werr
				}
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			kind := statusOK
			if health.Status != "healthy" {
				kind = statusError
			}
			fmt.Fprintln(out, renderStatusLine("Daemon", kind, health.Status, colorize))
			names := make([]string, 0, len(health.Services))
			for name := range health.Services {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintln(out, renderStatusLine(name, statusInfo, health.Services[name], false))
			}
			return err
		},
	}
}
