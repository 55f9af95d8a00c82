package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/internal/api"
	"github.com/kapu/liver-scraper-go/internal/config"
	"github.com/kapu/liver-scraper-go/internal/constants"
	"github.com/kapu/liver-scraper-go/internal/service/database"
	"github.com/kapu/liver-scraper-go/internal/service/image"
	"github.com/kapu/liver-scraper-go/internal/service/integrator"
	"github.com/kapu/liver-scraper-go/internal/service/pipeline"
	"github.com/kapu/liver-scraper-go/internal/service/review"
	"github.com/kapu/liver-scraper-go/internal/service/scraper"
	"github.com/kapu/liver-scraper-go/internal/service/session"
	"github.com/kapu/liver-scraper-go/internal/service/store"
	"github.com/kapu/liver-scraper-go/internal/trigger"
	"github.com/kapu/liver-scraper-go/internal/util"
)

// Container holds the assembled service graph.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Pipeline *pipeline.Pipeline
	Server   *api.Server

	closers []func()
}

// Close tears down infrastructure connections in reverse build order.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Build assembles all infrastructure and services. All heavy-weight
// initialization (Redis/Postgres connections) happens here; on failure
// everything already opened is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	// Storage
	redisStore, err := store.NewRedisStore(store.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis store: %w", err)
	}
	closers = append(closers, func() {
		_ = redisStore.Close()
	})

	rosters := store.NewRosterStore(redisStore, logger)

	// Site access
	breaker := util.NewCircuitBreaker(
		constants.CircuitBreakerConfig.FailureThreshold,
		constants.CircuitBreakerConfig.ResetTimeout,
		logger,
	)

	sessionSvc := session.New(session.Config{
		BaseURL:   cfg.Site.BaseURL,
		LoginPath: cfg.Site.LoginPath,
		Email:     cfg.Site.Email,
		Password:  cfg.Site.Password,
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.Site.Timeout,
		TTL:       cfg.Pipeline.SessionTTL,
	}, redisStore, logger)

	fetcher := scraper.NewFetcher(scraper.FetcherConfig{
		BaseURL:   cfg.Site.BaseURL,
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.Site.Timeout,
	}, breaker, logger)

	listScraper := scraper.NewListScraper(fetcher, cfg.Site.ListPath, cfg.Pipeline.PageDelay, logger)
	detailScraper := scraper.NewDetailScraper(fetcher, cfg.Site.BaseURL, logger)

	imageSvc := image.New(image.Config{
		BaseURL:   cfg.Site.BaseURL,
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.Site.Timeout,
	}, redisStore, breaker, logger)

	integratorSvc := integrator.New(rosters, logger)
	triggerClient := trigger.New(cfg.Pipeline.WorkerAuthToken, cfg.Site.Timeout, logger)

	pipe := pipeline.New(
		cfg.Pipeline,
		sessionSvc,
		listScraper,
		detailScraper,
		imageSvc,
		integratorSvc,
		rosters,
		redisStore,
		triggerClient,
		logger,
	)

	// Reviews are optional: without a Postgres host the API serves 503
	// on review routes and everything else still works.
	var reviewSvc *review.Service
	if cfg.ReviewsEnabled() {
		postgresSvc, err := database.NewPostgresService(cfg.Postgres.DSN(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres service: %w", err)
		}
		closers = append(closers, func() {
			_ = postgresSvc.Close()
		})

		if err := postgresSvc.EnsureReviewSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure review schema: %w", err)
		}

		reviewSvc = review.New(postgresSvc.GetDB(), redisStore, cfg.Pipeline.WorkerAuthToken, logger)
	} else {
		logger.Info("Postgres not configured, review API disabled")
	}

	server := api.NewServer(
		cfg.Server.Port,
		cfg.Pipeline.WorkerAuthToken,
		pipe,
		rosters,
		redisStore,
		reviewSvc,
		breaker,
		logger,
	)

	return &Container{
		Config:   cfg,
		Logger:   logger,
		Pipeline: pipe,
		Server:   server,
		closers:  closers,
	}, nil
}
