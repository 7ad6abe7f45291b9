package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/livefeed-labs/feed-gateway/internal/app/services/payment"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/preview"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/pricing"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/proxy"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/ratelimit"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/registry"
	"github.com/livefeed-labs/feed-gateway/internal/app/services/stats"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage"
	"github.com/livefeed-labs/feed-gateway/internal/app/storage/snapshot"
	"github.com/livefeed-labs/feed-gateway/internal/app/system"
	"github.com/livefeed-labs/feed-gateway/internal/chain"
	"github.com/livefeed-labs/feed-gateway/internal/config"
	"github.com/livefeed-labs/feed-gateway/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// snapshot implementation under the configured data directory.
type Stores struct {
	Feeds      storage.FeedStore
	RateLimits storage.RateLimitStore
}

// Application ties the gateway services together and manages their lifecycle.
type Application struct {
	Config *config.Config

	Registry *registry.Service
	Pricing  *pricing.Service
	Payment  *payment.Service
	Proxy    *proxy.Service
	Preview  *preview.Service
	Limiter  *ratelimit.Limiter
	Stats    *stats.Service

	manager   *system.Manager
	cron      *cron.Cron
	log       *logger.Logger
	startedAt time.Time
	feeds     storage.FeedStore
}

// New builds a fully initialised application with the provided stores.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Feeds == nil {
		store, err := snapshot.NewFeedStore(filepath.Join(cfg.Storage.DataDir, "feeds.json"), log)
		if err != nil {
			return nil, fmt.Errorf("open feed snapshot: %w", err)
		}
		stores.Feeds = store
	}
	if stores.RateLimits == nil {
		stores.RateLimits = snapshot.NewRateLimitStore(filepath.Join(cfg.Storage.DataDir, "ratelimit.json"), log)
	}

	var chainClient *chain.Client
	if cfg.Chain.RPCURL != "" {
		client, err := chain.NewClient(chain.Config{
			RPCURL:         cfg.Chain.RPCURL,
			StableContract: cfg.Chain.StableContract,
			Timeout:        time.Duration(cfg.Chain.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			log.WithError(err).Warn("chain client disabled")
		} else {
			chainClient = client
		}
	}

	registrySvc := registry.New(stores.Feeds, log)
	pricingSvc := pricing.New(stores.Feeds, cfg.Payment.Network)
	proxySvc := proxy.New(cfg.UpstreamTimeout(), log)
	limiter := ratelimit.New(stores.RateLimits, cfg.Preview.MaxFreeCalls, cfg.PreviewWindow(), cfg.PreviewFlushDelay(), log)
	previewSvc := preview.New(limiter, pricingSvc, proxySvc, log)
	statsSvc := stats.New(stores.Feeds, chainClient, log)

	facilitator := payment.NewHTTPFacilitator(cfg.Payment.FacilitatorURL, cfg.FacilitatorTimeout())
	paymentSvc := payment.New(payment.Options{
		Enabled:           cfg.Payment.Enabled,
		Network:           cfg.Payment.Network,
		PlatformAddress:   cfg.Payment.PlatformAddress,
		AssetAddress:      cfg.Payment.AssetAddress,
		AssetName:         cfg.Payment.AssetName,
		AssetVersion:      cfg.Payment.AssetVersion,
		MaxTimeoutSeconds: cfg.Payment.MaxTimeoutSeconds,
	}, pricingSvc, facilitator, log)

	manager := system.NewManager()
	if err := manager.Register(limiter); err != nil {
		return nil, fmt.Errorf("register ratelimit service: %w", err)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@hourly", func() {
		if removed := limiter.Prune(); removed > 0 {
			log.WithField("removed", removed).Info("pruned expired preview windows")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule prune job: %w", err)
	}

	return &Application{
		Config:    cfg,
		Registry:  registrySvc,
		Pricing:   pricingSvc,
		Payment:   paymentSvc,
		Proxy:     proxySvc,
		Preview:   previewSvc,
		Limiter:   limiter,
		Stats:     statsSvc,
		manager:   manager,
		cron:      scheduler,
		log:       log,
		feeds:     stores.Feeds,
		startedAt: time.Now(),
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services and the maintenance scheduler.
func (a *Application) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	a.cron.Start()
	return nil
}

// Stop halts the scheduler, then stops services in reverse registration
// order, draining the rate-limit flush before exit.
func (a *Application) Stop(ctx context.Context) error {
	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}
	return a.manager.Stop(ctx)
}

// Uptime reports how long the application has been running.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.startedAt)
}

// FeedCount returns the number of registered feeds.
func (a *Application) FeedCount(ctx context.Context) int {
	feeds, err := a.feeds.ListFeeds(ctx)
	if err != nil {
		return 0
	}
	return len(feeds)
}

// BackgroundContext is the detached context used by fire-and-forget work
// such as statistics recording: a client disconnect must not cancel it.
func (a *Application) BackgroundContext() context.Context {
	return context.Background()
}
