package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultAddr = "127.0.0.1:8000"

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "taskproof",
		Short:         "Schedule tasks and prove them done with a photo",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	addr := os.Getenv("TASKPROOF_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	rootCmd.PersistentFlags().StringVar(&ctx.addr, "addr", addr, "taskproofd address")
	rootCmd.PersistentFlags().StringVar(&ctx.token, "token", os.Getenv("TASKPROOF_AUTH_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonOutput, "json", false, "Print raw JSON")

	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newCreateCommand(ctx))
	rootCmd.AddCommand(newCreateTestCommand(ctx))
	rootCmd.AddCommand(newDeleteCommand(ctx))
	rootCmd.AddCommand(newVerifyCommand(ctx))
	rootCmd.AddCommand(newAttemptsCommand(ctx))

	return rootCmd
}
