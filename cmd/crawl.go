// Package cmd defines and implements the CLI commands for the mongodb-writer executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/api"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/app"
	collyfetcher "github.com/hiber-niu/heritrix-mongodb-writer/internal/fetcher/colly"
)

// newCrawlCmd creates the 'crawl' subcommand. Positional arguments replace
// the configured seeds.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [seed-url...]",
		Short: "Crawl from the seeds and write every fetched URI to MongoDB",
		Long: `Starts a colly crawl from the configured (or given) seeds. Each response
passes through the MongoDB processor; counters are checkpointed periodically
and on shutdown, and resumed on the next start.`,
		RunE: runCrawlCommand,
	}
	return cmd
}

// runCrawlCommand owns the App from here on: it is closed on every return
// path so the final checkpoint and pool teardown happen even when the crawl
// fails.
func runCrawlCommand(cmd *cobra.Command, args []string) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := appInstance.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown: %w", cerr))
		}
	}()
	cfg := appInstance.Config
	logger := appInstance.Logger

	seeds := cfg.Crawl.Seeds
	if len(args) > 0 {
		seeds = args
	}
	crawler, err := collyfetcher.New(collyfetcher.Config{
		Seeds:          seeds,
		AllowedDomains: cfg.Crawl.AllowedDomains,
		MaxDepth:       cfg.Crawl.MaxDepth,
		Parallelism:    cfg.Crawl.Parallelism,
		UserAgent:      cfg.Crawl.UserAgent,
		Delay:          cfg.Crawl.Delay,
		Timeout:        cfg.Crawl.Timeout,
		IgnoreRobots:   cfg.Crawl.IgnoreRobots,
	}, appInstance.Processor, appInstance.Host, logger)
	if err != nil {
		return fmt.Errorf("init crawler: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Enabled {
		server := api.NewServer(appInstance.Processor, appInstance.Metrics, appInstance.RunID, logger,
			api.WithReadiness(appInstance.Processor.Ready))
		go func() {
			if serr := server.ListenAndServe(ctx, ":"+strconv.Itoa(cfg.Server.Port)); serr != nil {
				logger.Error("status server failed", zap.Error(serr))
			}
		}()
	}
	if cfg.Checkpoint.Interval > 0 {
		go checkpointLoop(ctx, appInstance, cfg.Checkpoint.Interval)
	}

	logger.Info("crawl starting", zap.Strings("seeds", seeds))
	if err := crawler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	logger.Info("crawl command finished",
		zap.Int64("urls_written", appInstance.Processor.URLsWritten()),
		zap.Int64("bytes_written", appInstance.Processor.TotalBytesWritten()),
	)
	return nil
}

func checkpointLoop(ctx context.Context, a *app.App, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Checkpoint(ctx); err != nil {
				a.Logger.Warn("periodic checkpoint failed", zap.Error(err))
			}
		}
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
