package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/app"
	"github.com/kapu/liver-scraper-go/internal/config"
	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/service/pipeline"
	"github.com/kapu/liver-scraper-go/internal/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := util.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Liver scrape pipeline starting...",
		zap.String("site", cfg.Site.BaseURL),
		zap.String("log_level", cfg.Logging.Level),
	)

	buildCtx, buildCancel := context.WithTimeout(context.Background(), 30*time.Second)
	container, err := app.Build(buildCtx, cfg, logger)
	buildCancel()
	if err != nil {
		logger.Error("Failed to assemble application services", zap.Error(err))
		os.Exit(1)
	}
	defer container.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := container.Server.Start(); err != nil {
			errCh <- err
		}
	})
	wg.Go(func() {
		runStage(ctx, logger, constants.StageBasic, cfg.Pipeline.BasicInterval, container.Pipeline.RunBasicStage)
	})
	wg.Go(func() {
		runStage(ctx, logger, constants.StageDetails, cfg.Pipeline.DetailInterval, container.Pipeline.RunDetailStage)
	})
	wg.Go(func() {
		runStage(ctx, logger, constants.StageImages, cfg.Pipeline.ImageInterval, container.Pipeline.RunImageStage)
	})

	logger.Info("Pipeline started, waiting for signals...")

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("Runtime error", zap.Error(err))
	}

	logger.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	wg.Wait()
	logger.Info("Shutdown complete")
}

// runStage runs one pipeline stage on its interval until the context is
// cancelled. The first run fires immediately so a fresh deploy does not
// wait out a full interval.
func runStage(ctx context.Context, logger *zap.Logger, name string, interval time.Duration, run func(context.Context) (*pipeline.StageResult, error)) {
	execute := func() {
		if _, err := run(ctx); err != nil && err != pipeline.ErrStageBusy && ctx.Err() == nil {
			logger.Error("Scheduled stage run failed",
				zap.String("stage", name),
				zap.Error(err),
			)
		}
	}

	execute()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			execute()
		}
	}
}
