// File: internal/platform/redis/relay.go
package redis

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"notification_hub_backend/internal/config"
	"notification_hub_backend/internal/feed"

	goredis "github.com/go-redis/redis/v7"
	"go.uber.org/zap"
)

// Publisher is the subset of the go-redis client the relay needs.
type Publisher interface {
	Publish(channel string, message interface{}) *goredis.IntCmd
}

// CountsMessage is the payload published whenever the unread counters change.
type CountsMessage struct {
	Revision  uint64         `json:"revision"`
	Total     int            `json:"total"`
	ByDomain  map[string]int `json:"by_domain"`
	Stale     bool           `json:"stale"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewCountsMessage builds the payload for snap.
func NewCountsMessage(snap feed.Snapshot, now time.Time) CountsMessage {
	byDomain := make(map[string]int, len(snap.Counts.ByDomain))
	for d, n := range snap.Counts.ByDomain {
		byDomain[string(d)] = n
	}
	return CountsMessage{
		Revision:  snap.Revision,
		Total:     snap.Counts.Total,
		ByDomain:  byDomain,
		Stale:     snap.Stale,
		UpdatedAt: now.UTC(),
	}
}

// NewClient connects to the Redis instance named by REDIS_*. The client is
// nil when the relay is disabled.
func NewClient(cfg *config.Config) (*goredis.Client, func(), error) {
	if !cfg.RedisEnabled() {
		return nil, func() {}, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideRelay builds the relay from configuration. The relay is nil when
// REDIS_HOST is unset; Start and Stop on a nil relay do nothing.
func ProvideRelay(cfg *config.Config, logger *zap.Logger) (*Relay, func(), error) {
	client, cleanup, err := NewClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return nil, cleanup, nil
	}
	return NewRelay(client, cfg.RedisChannel, logger), cleanup, nil
}

// Relay forwards unread counters to a Redis channel so badge widgets in other
// processes can follow the feed without polling the backends themselves.
// It is an ordinary feed subscriber and consumes snapshots through a Mailbox,
// so a slow Redis never holds up other subscribers.
type Relay struct {
	publisher Publisher
	channel   string
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	unsubscribe func()
	done        chan struct{}
	last        *feed.Counts
	lastStale   bool
}

// NewRelay creates a relay publishing to channel.
func NewRelay(publisher Publisher, channel string, logger *zap.Logger) *Relay {
	return &Relay{
		publisher: publisher,
		channel:   channel,
		logger:    logger.Named("CountsRelay"),
		now:       time.Now,
	}
}

// Start subscribes to svc and publishes until Stop.
func (r *Relay) Start(svc feed.Service) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		return
	}
	mailbox := feed.NewMailbox()
	r.done = make(chan struct{})
	r.unsubscribe = svc.Subscribe(mailbox.Offer)
	mailbox.Offer(svc.Snapshot())

	go func(done <-chan struct{}) {
		for {
			select {
			case <-done:
				return
			case snap := <-mailbox.C():
				r.handle(snap)
			}
		}
	}(r.done)
	r.logger.Info("Counts relay started", zap.String("channel", r.channel))
}

// Stop detaches from the feed.
func (r *Relay) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe == nil {
		return
	}
	r.unsubscribe()
	close(r.done)
	r.unsubscribe = nil
	r.logger.Info("Counts relay stopped")
}

// handle publishes snap when its counters or staleness differ from the last
// published message.
func (r *Relay) handle(snap feed.Snapshot) bool {
	if r.last != nil && r.lastStale == snap.Stale && sameCounts(*r.last, snap.Counts) {
		return false
	}
	payload, err := json.Marshal(NewCountsMessage(snap, r.now()))
	if err != nil {
		r.logger.Error("Failed to encode counts", zap.Error(err))
		return false
	}
	if err := r.publisher.Publish(r.channel, payload).Err(); err != nil {
		r.logger.Warn("Failed to publish counts", zap.Error(err), zap.Uint64("revision", snap.Revision))
		return false
	}
	counts := snap.Counts
	r.last = &counts
	r.lastStale = snap.Stale
	return true
}

func sameCounts(a, b feed.Counts) bool {
	if a.Total != b.Total || len(a.ByDomain) != len(b.ByDomain) {
		return false
	}
	for d, n := range a.ByDomain {
		if b.ByDomain[d] != n {
			return false
		}
	}
	return true
}
