package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fivecut/internal/config"
	"fivecut/internal/daemon"
	"fivecut/internal/gateway"
	"fivecut/internal/identity"
	"fivecut/internal/logging"
	"fivecut/internal/pipeline"
	"fivecut/internal/queue"
	"fivecut/internal/runner"
	"fivecut/internal/storage"
	"fivecut/internal/workflow"
)

func newRunCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the upload gateway and edit workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, _, _, err := config.Load(*configFlag)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}

			objects, err := storage.New(ctx, cfg)
			if err != nil {
				_ = store.Close()
				return fmt.Errorf("init object storage: %w", err)
			}
			if err := objects.EnsureBuckets(ctx); err != nil {
				_ = store.Close()
				return fmt.Errorf("ensure buckets: %w", err)
			}

			verifier, err := identity.NewOIDCVerifier(ctx, cfg)
			if err != nil {
				_ = store.Close()
				return fmt.Errorf("init token verifier: %w", err)
			}

			pipe := pipeline.New(cfg, objects, runner.New(logger), logger)
			manager := workflow.NewManager(cfg, store, pipe, logger)
			server := gateway.NewServer(cfg, store, objects, verifier, logger)

			d, err := daemon.New(cfg, store, logger, manager, server)
			if err != nil {
				_ = store.Close()
				return err
			}
			defer d.Close() //nolint:errcheck

			if err := d.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info("fivecutd shutting down")
			return nil
		},
	}
}
