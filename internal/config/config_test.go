package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, FeedBackendLocal, cfg.FeedBackend)
	assert.Equal(t, 30*time.Second, cfg.FeedPollInterval)
	assert.Equal(t, 300*time.Second, cfg.FeedPollMaxInterval)
	assert.Equal(t, 50, cfg.FeedPageLimit)
	assert.Equal(t, 60*time.Minute, cfg.DBConnMaxLifetime)
	assert.Empty(t, cfg.FeedDomains)
	assert.Empty(t, cfg.UpstreamURLs)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Contains(t, cfg.DBSource, "dbname=notification_hub_db")
	assert.False(t, cfg.AuthEnabled())
	assert.False(t, cfg.RedisEnabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("FEED_BACKEND", "http")
	t.Setenv("FEED_POLL_INTERVAL_SECONDS", "5")
	t.Setenv("FEED_POLL_MAX_INTERVAL_SECONDS", "60")
	t.Setenv("FEED_PAGE_LIMIT", "20")
	t.Setenv("FEED_DOMAINS", " Message, order ,")
	t.Setenv("UPSTREAM_MESSAGE_URL", "http://messages.internal/")
	t.Setenv("UPSTREAM_TIMEOUT_SECONDS", "3")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("DB_SOURCE", "postgres://u:p@db/hub")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, FeedBackendHTTP, cfg.FeedBackend)
	assert.Equal(t, 5*time.Second, cfg.FeedPollInterval)
	assert.Equal(t, time.Minute, cfg.FeedPollMaxInterval)
	assert.Equal(t, 20, cfg.FeedPageLimit)
	assert.Equal(t, []string{"message", "order"}, cfg.FeedDomains)
	assert.Equal(t, map[string]string{"message": "http://messages.internal"}, cfg.UpstreamURLs)
	assert.Equal(t, 3*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, "postgres://u:p@db/hub", cfg.DBSource)
	assert.True(t, cfg.RedisEnabled())
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"FEED_BACKEND": "grpc"}, "FEED_BACKEND"},
		{"http without upstream", map[string]string{"FEED_BACKEND": "http"}, "UPSTREAM_"},
		{"unknown domain", map[string]string{"FEED_DOMAINS": "message,weather"}, "weather"},
		{"max below interval", map[string]string{"FEED_POLL_INTERVAL_SECONDS": "60", "FEED_POLL_MAX_INTERVAL_SECONDS": "10"}, "FEED_POLL_MAX_INTERVAL_SECONDS"},
		{"zero interval", map[string]string{"FEED_POLL_INTERVAL_SECONDS": "0"}, "FEED_POLL_INTERVAL_SECONDS"},
		{"unknown db driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"missing firebase key", map[string]string{"FIREBASE_SERVICE_ACCOUNT_KEY_PATH": "/nonexistent/key.json"}, "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
