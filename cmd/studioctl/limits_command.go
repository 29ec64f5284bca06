package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLimitsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show today's save quota",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := ctx.creations.CheckDailyLimit(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, limit)
			}
			state := "open"
			if !limit.Allowed {
				state = "exhausted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saves today: %d of %d (%s), %d remaining, resets in %dh\n",
				limit.Count, limit.Cap, state, limit.Remaining, limit.ResetInHours)
			return nil
		},
	}
}
