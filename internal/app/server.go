// File: internal/app/server.go
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"notification_hub_backend/internal/config"
	"notification_hub_backend/internal/feed"
	"notification_hub_backend/internal/firebase"
	"notification_hub_backend/internal/jobs"
	"notification_hub_backend/internal/middleware"
	"notification_hub_backend/internal/notification"
	"notification_hub_backend/internal/platform/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server struct holds the dependencies for the HTTP server.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	cfg        *config.Config
	logger     *zap.Logger
	db         *gorm.DB

	engine   feed.Service
	relay    *redis.Relay
	purgeJob *jobs.NotificationPurgeJob

	// cancelBase ends every request context, which closes open feed streams
	// so Shutdown does not wait on them.
	cancelBase context.CancelFunc
}

// NewServer creates a new instance of our application server. A nil
// firebaseService leaves the API unauthenticated; a nil relay or purge job
// is skipped.
func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	engine *feed.Engine,
	feedHandler *feed.Handler,
	notificationHandler *notification.Handler,
	purgeJob *jobs.NotificationPurgeJob,
	relay *redis.Relay,
	firebaseService *firebase.FirebaseService,
) (*Server, error) {
	gin.SetMode(cfg.GinMode)
	router := gin.New()

	// --- Global Middleware ---
	router.Use(middleware.ZapLogger(logger.Named("HTTP")))
	router.Use(middleware.ErrorHandler(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", middleware.RequestIDHeader}
	if len(cfg.CORSOrigins) == 0 || (len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*") {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	var guards []gin.HandlerFunc
	if firebaseService != nil {
		guards = append(guards, middleware.AuthMiddleware(firebaseService, logger.Named("AuthMiddleware")))
	} else {
		logger.Warn("API authentication disabled")
	}

	// --- Setup Routes ---
	router.GET("/health", func(c *gin.Context) {
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "database": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "UP", "poller": engine.Status().State, "stale": engine.Snapshot().Stale})
	})

	v1 := router.Group("/api/v1")
	feedHandler.RegisterRoutes(v1.Group("/feed", guards...))
	notificationHandler.RegisterRoutes(v1.Group("/notifications", guards...))

	baseCtx, cancelBase := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /feed/stream responses stay open.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		cfg:        cfg,
		logger:     logger,
		db:         db,
		engine:     engine,
		relay:      relay,
		purgeJob:   purgeJob,
		cancelBase: cancelBase,
	}, nil
}

// Handler exposes the router for in-process use.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartBackground starts the feed engine and the jobs around it without
// serving HTTP.
func (s *Server) StartBackground() {
	if s.purgeJob != nil {
		if err := s.purgeJob.SetupAndStart(); err != nil {
			s.logger.Error("Failed to setup and start notification purge job", zap.Error(err))
		}
	}
	s.engine.Start()
	s.relay.Start(s.engine)
}

func (s *Server) Start() error {
	s.StartBackground()

	s.logger.Info("HTTP Server starting",
		zap.String("address", s.httpServer.Addr),
		zap.String("gin_mode", s.cfg.GinMode),
		zap.String("feed_backend", s.cfg.FeedBackend),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Failed to start HTTP server", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP Server stopped")
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Attempting graceful server shutdown...")
	s.relay.Stop()
	s.engine.Stop()
	if s.purgeJob != nil {
		s.purgeJob.Stop()
	}
	s.cancelBase()
	return s.httpServer.Shutdown(ctx)
}
