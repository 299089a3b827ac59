package app

import (
	"fmt"

	"notification_hub_backend/internal/config"
	"notification_hub_backend/internal/feed"
	"notification_hub_backend/internal/notification"
	"notification_hub_backend/internal/platform/database"
	"notification_hub_backend/internal/upstream"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProvideDatabase opens the notification store and migrates its schema.
func ProvideDatabase(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := database.NewGORM(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := database.AutoMigrate(db, &notification.Notification{}); err != nil {
		database.CloseGORMDB(db)
		return nil, nil, err
	}
	return db, func() { database.CloseGORMDB(db) }, nil
}

// ProvideFeedBackend selects where the feed engine reads from: this
// process's notification store or the per-domain upstream services.
func ProvideFeedBackend(cfg *config.Config, notifications notification.Service, logger *zap.Logger) (feed.Backend, error) {
	switch cfg.FeedBackend {
	case config.FeedBackendLocal:
		logger.Info("Feed reads from the local notification store")
		return notification.NewLocalBackend(notifications), nil
	case config.FeedBackendHTTP:
		urls := make(map[feed.Domain]string, len(cfg.UpstreamURLs))
		for d, u := range cfg.UpstreamURLs {
			urls[feed.Domain(d)] = u
		}
		b := upstream.NewBackend(upstream.Config{
			BaseURLs:  urls,
			AuthToken: cfg.UpstreamAuthToken,
			Timeout:   cfg.UpstreamTimeout,
		}, logger.Named("UpstreamBackend"))
		logger.Info("Feed reads from upstream domain services", zap.Any("domains", b.Domains()))
		return b, nil
	default:
		return nil, fmt.Errorf("unknown feed backend %q", cfg.FeedBackend)
	}
}

// ProvideFeedEngine builds the process-wide feed engine.
func ProvideFeedEngine(cfg *config.Config, backend feed.Backend, logger *zap.Logger) *feed.Engine {
	domains := make([]feed.Domain, 0, len(cfg.FeedDomains))
	for _, d := range cfg.FeedDomains {
		domains = append(domains, feed.Domain(d))
	}
	return feed.NewEngine(backend, feed.Options{
		Poller: feed.PollerConfig{
			Interval:     cfg.FeedPollInterval,
			MaxInterval:  cfg.FeedPollMaxInterval,
			FetchTimeout: cfg.FeedFetchTimeout,
			PageLimit:    cfg.FeedPageLimit,
			MaxPages:     cfg.FeedMaxPages,
			Domains:      domains,
		},
		MutationTimeout:     cfg.FeedMutationTimeout,
		MutationConcurrency: cfg.FeedMutationConcurrency,
	}, logger)
}
