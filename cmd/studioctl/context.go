package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"studio/internal/bootstrap"
	"studio/internal/creations"
	"studio/internal/expiry"
	"studio/internal/infra"
	"studio/internal/infra/credentials"
)

// commandContext opens the stores on first use and closes them after the
// command finishes.
type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	cfg       *infra.Config
	logger    infra.Logger
	stores    *bootstrap.Stores
	sweeper   *expiry.Sweeper
	creations *creations.Service
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{configFlag: configFlag, jsonFlag: jsonFlag}
}

func (c *commandContext) ensure(ctx context.Context) error {
	if c.stores != nil {
		return nil
	}
	_ = godotenv.Load()
	if *c.configFlag != "" {
		if err := os.Setenv("CONFIG_FILE", *c.configFlag); err != nil {
			return err
		}
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := infra.NopLogger()
	if os.Getenv("STUDIOCTL_DEBUG") != "" {
		logger = infra.NewLogger("development")
	}
	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	c.cfg, c.logger, c.stores = cfg, logger, stores
	c.sweeper, c.creations = bootstrap.NewPersistence(cfg, stores, nil, clockwork.NewRealClock(), logger)
	return nil
}

func (c *commandContext) credentials() *credentials.Store {
	return credentials.NewStore(c.stores.Durable)
}

func (c *commandContext) close() error {
	if c.stores == nil {
		return nil
	}
	err := c.stores.Close()
	c.stores = nil
	return err
}

// wantJSON is true with --json or when stdout is not a terminal.
func (c *commandContext) wantJSON(cmd *cobra.Command) bool {
	if *c.jsonFlag {
		return true
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return true
	}
	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}
