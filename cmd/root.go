package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/config"
	"github.com/JakeFAU/customs-regdocs/internal/logging"
	"github.com/JakeFAU/customs-regdocs/internal/server"
	"github.com/JakeFAU/customs-regdocs/internal/service"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application. Tests swap in a fake.
type App interface {
	Serve(ctx context.Context) error
	RunWorkers(ctx context.Context) error
	RequireSharedQueue() error
	Documents() *service.Documents
	Crawls() *service.Crawls
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return server.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command. The returned cleanup
// closes whatever PersistentPreRunE built; it must run after Execute whether or
// not the command failed, because cobra skips post-run hooks on error.
func newRootCmd() (*cobra.Command, func(context.Context)) {
	var (
		cfgFile     string
		logger      *zap.Logger
		appInstance App
	)
	cleanup := func(ctx context.Context) {
		if appInstance != nil {
			appInstance.Close(ctx)
			appInstance = nil
		}
		if logger != nil {
			_ = logger.Sync()
		}
	}

	cmd := &cobra.Command{
		Use:   "regdocs",
		Short: "Ingests customs regulatory documents and mines them for HS codes.",
		Long: `regdocs crawls the customs legal document registry, normalizes each
document's metadata, downloads its attachment and extracts HS codes and
product names from the text. Extraction jobs run through a Redis-backed
queue when one is configured, or inline otherwise.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Config and logger are built here so every subcommand shares them.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			built, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			appInstance = built
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, built))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); env vars use the REGDOCS_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newProcessCmd())
	return cmd, cleanup
}

// Execute is the main entry point. It cancels the command context on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, cleanup := newRootCmd()
	err := root.ExecuteContext(ctx)
	cleanup(context.WithoutCancel(ctx))
	if err != nil {
		fmt.Fprintln(os.Stderr, "regdocs:", err)
		stop()
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
