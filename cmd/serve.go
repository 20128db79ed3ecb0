package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API",
		Long: `Serves the document, crawl and label endpoints. When a durable job
queue is configured the worker pool runs in the same process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}

// newWorkerCmd creates the 'worker' subcommand.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Runs the extraction worker pool",
		Long:  `Consumes extraction jobs from the durable queue until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.RequireSharedQueue(); err != nil {
				return err
			}
			if err := appInstance.RunWorkers(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run workers: %w", err)
			}
			return nil
		},
	}
}
