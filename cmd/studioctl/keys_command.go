package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"studio/internal/infra/credentials"
)

func newKeysCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage provider API keys kept in the durable store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "set <gemini|openai> <key>",
		Short:     "Store a provider key used when the environment leaves it blank",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{credentials.ProviderGemini, credentials.ProviderOpenAI},
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(args[0])
			token := strings.TrimSpace(args[1])
			if token == "" {
				return fmt.Errorf("key for %s is empty", provider)
			}
			if err := ctx.credentials().SetToken(cmd.Context(), provider, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s key (%s)\n", provider, mask(token))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show which provider keys are stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status := map[string]string{}
			for _, provider := range []string{credentials.ProviderGemini, credentials.ProviderOpenAI} {
				token, err := ctx.credentials().Token(cmd.Context(), provider)
				if err != nil {
					return err
				}
				status[provider] = mask(token)
			}
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Provider", "Key"},
				[][]string{
					{credentials.ProviderGemini, status[credentials.ProviderGemini]},
					{credentials.ProviderOpenAI, status[credentials.ProviderOpenAI]},
				}))
			return nil
		},
	})
	return cmd
}

func mask(token string) string {
	switch {
	case token == "":
		return "(not set)"
	case len(token) <= 4:
		return "****"
	}
	return "****" + token[len(token)-4:]
}
