package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"studio/internal/domain"
)

type creationSummary struct {
	Index          int       `json:"index"`
	ID             string    `json:"id"`
	Locale         string    `json:"locale"`
	Stage          string    `json:"stage"`
	Character      string    `json:"character"`
	Results        []string  `json:"results"`
	CreatedAt      time.Time `json:"createdAt"`
	ShareExpiresAt time.Time `json:"shareExpiresAt"`
}

func summarize(i int, c domain.PersistedCreation) creationSummary {
	var parts []string
	for _, kind := range domain.AllJobs {
		if c.Results.Has(kind) {
			parts = append(parts, string(kind))
		}
	}
	return creationSummary{
		Index:          i,
		ID:             c.ID,
		Locale:         c.Locale,
		Stage:          c.StageSelection.Prompt,
		Character:      c.CharacterSelection.ID,
		Results:        parts,
		CreatedAt:      c.CreatedAt,
		ShareExpiresAt: c.ShareExpiresAt,
	}
}

func newCreationsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creations",
		Short: "Inspect saved creations",
	}
	cmd.AddCommand(newCreationsListCommand(ctx))
	cmd.AddCommand(newCreationsArchiveCommand(ctx))
	return cmd
}

func newCreationsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved creations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := ctx.creations.List(cmd.Context())
			if err != nil {
				return err
			}
			summaries := make([]creationSummary, 0, len(items))
			for i, c := range items {
				summaries = append(summaries, summarize(i, c))
			}
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, summaries)
			}
			if len(summaries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved creations")
				return nil
			}
			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, []string{
					strconv.Itoa(s.Index),
					s.ID,
					s.Character,
					truncate(s.Stage, 32),
					strings.Join(s.Results, ","),
					humanize.Time(s.CreatedAt),
					humanize.Time(s.ShareExpiresAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "ID", "Character", "Stage", "Results", "Created", "Share expires"},
				rows, 0))
			return nil
		},
	}
}

func newCreationsArchiveCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "archive <index>",
		Short: "Write a creation's zip bundle to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("index must be a number: %w", err)
			}
			name, data, err := ctx.creations.Archive(cmd.Context(), index)
			if err != nil {
				return err
			}
			path := filepath.Join(outDir, name)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s)\n", path, humanize.Bytes(uint64(len(data))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory to write the archive into")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
