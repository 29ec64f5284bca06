package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiration cleanup pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := ctx.sweeper.CleanupExpired(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d durable and %d session keys; %d still scheduled\n",
				len(report.DurableKeys), len(report.SessionKeys), report.Retained)
			for _, key := range report.DurableKeys {
				fmt.Fprintf(out, "  durable  %s\n", key)
			}
			for _, key := range report.SessionKeys {
				fmt.Fprintf(out, "  session  %s\n", key)
			}
			return nil
		},
	}
}
