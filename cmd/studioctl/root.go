package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var (
		configFlag string
		jsonFlag   bool
	)
	ctx := newCommandContext(&configFlag, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "studioctl",
		Short:         "Maintain saved creations, quotas and provider keys",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.ensure(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Emit JSON even on a terminal")

	rootCmd.AddCommand(newSweepCommand(ctx))
	rootCmd.AddCommand(newCreationsCommand(ctx))
	rootCmd.AddCommand(newLimitsCommand(ctx))
	rootCmd.AddCommand(newKeysCommand(ctx))

	return rootCmd
}
