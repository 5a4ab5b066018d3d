package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"scrollstitch/internal/cli"
	"scrollstitch/internal/config"
	"scrollstitch/internal/logging"
	"scrollstitch/internal/pipeline"
	"scrollstitch/internal/remote"
	"scrollstitch/internal/storage"
	"scrollstitch/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	var rs remote.Store
	azure, err := remote.NewAzureBlob(cfg.Azure, logger)
	if err != nil {
		return fmt.Errorf("azure storage: %w", err)
	}
	if azure != nil {
		rs = azure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tasks.LogDecoderStatus(cfg.Video, logger)

	runner := tasks.NewRunner(cfg, store, rs, logger)
	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, cfg.Processing.QueueSize, logger, store, pipeline.NewRouter(logger, runner))
	defer pipe.Stop()

	return cli.NewRootCmd(cfg, logger, store, pipe, runner).ExecuteContext(ctx)
}
