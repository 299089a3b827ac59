package redis

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"notification_hub_backend/internal/config"
	"notification_hub_backend/internal/feed"

	goredis "github.com/go-redis/redis/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages [][]byte
	err      error
}

func (p *fakePublisher) Publish(channel string, message interface{}) *goredis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return goredis.NewIntResult(0, p.err)
	}
	p.messages = append(p.messages, message.([]byte))
	return goredis.NewIntResult(1, nil)
}

func (p *fakePublisher) sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.messages...)
}

// stubService hands out a fixed snapshot and records subscriptions.
type stubService struct {
	feed.Service
	mu       sync.Mutex
	snap     feed.Snapshot
	onUpdate func(feed.Snapshot)
	detached bool
}

func (s *stubService) Subscribe(fn func(feed.Snapshot)) func() {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.detached = true
		s.mu.Unlock()
	}
}

func (s *stubService) Snapshot() feed.Snapshot {
	return s.snap
}

func snapshotWith(revision uint64, message int, stale bool) feed.Snapshot {
	counts := feed.NewCounts()
	counts.ByDomain[feed.DomainMessage] = message
	counts.Total = message
	return feed.Snapshot{Revision: revision, Counts: counts, Stale: stale}
}

func TestNewCountsMessage(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	msg := NewCountsMessage(snapshotWith(9, 3, true), now)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(9), decoded["revision"])
	assert.Equal(t, float64(3), decoded["total"])
	assert.Equal(t, true, decoded["stale"])
	assert.Equal(t, "2024-05-01T11:00:00Z", decoded["updated_at"])
	byDomain := decoded["by_domain"].(map[string]any)
	assert.Equal(t, float64(3), byDomain["message"])
	assert.Equal(t, float64(0), byDomain["order"])
}

func TestRelay_PublishesOnlyChanges(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRelay(pub, "counts", zap.NewNop())

	assert.True(t, r.handle(snapshotWith(1, 2, false)))
	assert.False(t, r.handle(snapshotWith(2, 2, false)), "same counts, new revision")
	assert.True(t, r.handle(snapshotWith(3, 1, false)))
	assert.True(t, r.handle(snapshotWith(4, 1, true)), "staleness change")

	assert.Len(t, pub.sent(), 3)
}

func TestRelay_RetriesAfterPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	r := NewRelay(pub, "counts", zap.NewNop())

	assert.False(t, r.handle(snapshotWith(1, 2, false)))

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	assert.True(t, r.handle(snapshotWith(1, 2, false)))
}

func TestRelay_StartAndStop(t *testing.T) {
	pub := &fakePublisher{}
	svc := &stubService{snap: snapshotWith(1, 1, false)}
	r := NewRelay(pub, "counts", zap.NewNop())

	r.Start(svc)
	require.Eventually(t, func() bool { return len(pub.sent()) == 1 }, time.Second, 5*time.Millisecond)

	svc.mu.Lock()
	onUpdate := svc.onUpdate
	svc.mu.Unlock()
	onUpdate(snapshotWith(2, 5, false))
	require.Eventually(t, func() bool { return len(pub.sent()) == 2 }, time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()
	svc.mu.Lock()
	assert.True(t, svc.detached)
	svc.mu.Unlock()
}

func TestProvideRelay_DisabledWithoutHost(t *testing.T) {
	r, cleanup, err := ProvideRelay(&config.Config{}, zap.NewNop())

	require.NoError(t, err)
	assert.Nil(t, r)
	cleanup()
	r.Start(&stubService{})
	r.Stop()
}

