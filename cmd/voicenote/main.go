package main

import (
	"context"
	"fmt"
	"os"

	"github.com/satindergrewal/voicenote/internal/app"
	"github.com/satindergrewal/voicenote/internal/cli"
	"github.com/satindergrewal/voicenote/internal/config"
	"github.com/satindergrewal/voicenote/internal/output"
)

func main() {
	if err := run(); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := cli.NewLogger(cfg.LogLevel)

	application, err := app.New(cfg, log, app.Options{})
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}

	deps := &cli.Dependencies{
		App:    application,
		Config: cfg,
		Log:    log,
	}

	return cli.NewRootCmd(deps).ExecuteContext(context.Background())
}
