// Package cmd defines and implements the CLI commands for the edital-crawler executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/edital-crawler/internal/app"
	"github.com/JakeFAU/edital-crawler/internal/config"
	"github.com/JakeFAU/edital-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can swap the build step.
var newApp = func(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.Open(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "edital-crawler",
		Short: "Discovers public contest notices and extracts their syllabus.",
		Long: `edital-crawler walks the listing pages of exam organizers, keeps the postings
that announce a contest opening, resolves their official notice document and
extracts the syllabus hierarchy into the posting store. Anything that cannot be
processed lands in the review queue.`,
		SilenceUsage: true,

		// Builds the application once the flags are parsed, before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close(context.Background())
				_ = appInstance.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(
		newRunCmd(),
		newDiscoverCmd(),
		newExtractCmd(),
		newSourcesCmd(),
		newReviewsCmd(),
		newMigrateCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// canceler is the part of the pipeline runner a signal handler needs.
type canceler interface {
	Cancel()
}

// interruptible stops the runner at the next posting boundary on the first
// SIGINT/SIGTERM and cancels the returned context on the second.
func interruptible(ctx context.Context, runner canceler, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			logger.Warn("stopping after the current posting, signal again to abort")
			runner.Cancel()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			logger.Warn("aborting")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
