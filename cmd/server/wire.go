// File: cmd/server/wire.go
//go:build wireinject
// +build wireinject

package main

import (
	"notification_hub_backend/internal/app"
	"notification_hub_backend/internal/config"
	"notification_hub_backend/internal/feed"
	"notification_hub_backend/internal/firebase"
	"notification_hub_backend/internal/jobs"
	"notification_hub_backend/internal/notification"
	"notification_hub_backend/internal/platform/logger"
	"notification_hub_backend/internal/platform/redis"

	"github.com/google/wire"
)

// initializeServer is the main Wire injector.
func initializeServer(cfg *config.Config) (*app.Server, func(), error) {
	wire.Build(
		// Platform Layer
		logger.New,
		app.ProvideDatabase,
		redis.ProvideRelay,
		firebase.NewFirebaseService,

		// Notification store
		notification.NewGORMRepository,
		notification.NewService,
		wire.Bind(new(notification.Service), new(*notification.ServiceImplementation)),
		wire.Bind(new(jobs.ReadPurger), new(*notification.ServiceImplementation)),
		notification.NewHandler,
		jobs.NewNotificationPurgeJob,

		// Feed engine
		app.ProvideFeedBackend,
		app.ProvideFeedEngine,
		wire.Bind(new(feed.Service), new(*feed.Engine)),
		feed.NewHandler,

		// Application Layer
		app.NewServer,
	)
	return nil, nil, nil
}
