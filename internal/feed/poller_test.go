package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func setupPollerTest(cfg PollerConfig) (*Poller, *Store, *fakeBackend, *recorder) {
	pub := &recorder{}
	store := NewStore(pub)
	backend := newFakeBackend()
	p := NewPoller(store, backend, zap.NewNop(), cfg)
	p.now = func() time.Time { return baseTime }
	return p, store, backend, pub
}

func TestPoller_PollOnce_NormalizesAndMerges(t *testing.T) {
	p, store, backend, _ := setupPollerTest(PollerConfig{})
	backend.set(DomainMessage,
		RawRecord{"message_id": "1", "subject": "a", "sent_at": "2024-05-01T11:00:00Z"},
		RawRecord{"message_id": "2", "subject": "b", "sent_at": "2024-05-01T11:30:00Z"},
		RawRecord{"subject": "no id"},
	)
	backend.set(DomainPromotion, RawRecord{"promotion_id": "5", "headline": "sale", "starts_at": "2024-05-01T11:45:00Z"})
	backend.set(Domain("weather"), RawRecord{"id": "x"})

	err := p.PollOnce()

	require.NoError(t, err)
	snap := store.Snapshot()
	assert.Len(t, snap.Records, 3)
	assert.Equal(t, 3, snap.Counts.Total)
	assert.Equal(t, 2, snap.Counts.ByDomain[DomainMessage])
	assert.Equal(t, 1, snap.Counts.ByDomain[DomainPromotion])

	st := p.Status()
	assert.Equal(t, "idle", st.State)
	assert.Zero(t, st.ConsecutiveFailures)
	require.NotNil(t, st.LastSuccess)
}

func TestPoller_ReadStateScenario(t *testing.T) {
	p, store, backend, _ := setupPollerTest(PollerConfig{})
	c := NewController(store, backend, zap.NewNop(), time.Second, 2)
	backend.set(DomainMessage,
		RawRecord{"message_id": "1", "sent_at": "2024-05-01T11:00:00Z"},
		RawRecord{"message_id": "2", "sent_at": "2024-05-01T11:30:00Z"},
	)
	backend.set(DomainPromotion, RawRecord{"promotion_id": "5", "starts_at": "2024-05-01T11:45:00Z"})

	require.NoError(t, p.PollOnce())
	assert.Equal(t, 3, store.Snapshot().Counts.Total)

	require.NoError(t, c.MarkOneRead(context.Background(), msgKey("1")))
	snap := store.Snapshot()
	assert.Equal(t, 2, snap.Counts.Total)
	assert.Equal(t, 1, snap.Counts.ByDomain[DomainMessage])
	assert.Equal(t, 1, snap.Counts.ByDomain[DomainPromotion])

	// Upstream now reflects the read and no longer lists message:2.
	backend.set(DomainMessage, RawRecord{"message_id": "1", "sent_at": "2024-05-01T11:00:00Z", "seen": true})
	require.NoError(t, p.PollOnce())

	snap = store.Snapshot()
	assert.Equal(t, 1, snap.Counts.Total)
	assert.Equal(t, 0, snap.Counts.ByDomain[DomainMessage])
	assert.Equal(t, 1, snap.Counts.ByDomain[DomainPromotion])
	_, ok := snap.Find(msgKey("2"))
	assert.False(t, ok)
}

func TestPoller_FailureKeepsDataAndBacksOff(t *testing.T) {
	p, store, backend, pub := setupPollerTest(PollerConfig{Interval: time.Second, MaxInterval: 3 * time.Second})
	backend.set(DomainMessage, RawRecord{"message_id": "1", "sent_at": "2024-05-01T11:00:00Z"})
	require.NoError(t, p.PollOnce())

	backend.listErr = errors.New("connection refused")
	assert.Error(t, p.PollOnce())
	assert.Error(t, p.PollOnce())

	snap := pub.last()
	assert.True(t, snap.Stale)
	assert.Contains(t, snap.LastError, "connection refused")
	assert.Len(t, snap.Records, 1)
	assert.Equal(t, 1, store.Snapshot().Counts.Total)

	st := p.Status()
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, 3*time.Second, st.Interval)

	backend.listErr = nil
	require.NoError(t, p.PollOnce())
	assert.False(t, pub.last().Stale)
	assert.Equal(t, time.Second, p.Status().Interval)
}

func TestPoller_PanickingBackendFailsTheCycle(t *testing.T) {
	store := NewStore(nil)
	backend := new(MockBackend)
	backend.On("List", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("nil map") }).Return(nil, nil)
	p := NewPoller(store, backend, zap.NewNop(), PollerConfig{})

	err := p.PollOnce()

	assert.Error(t, err)
	assert.True(t, store.Snapshot().Stale)
}

func TestPoller_FollowsCursorUpToMaxPages(t *testing.T) {
	tests := []struct {
		name          string
		lastCursor    string
		wantTruncated bool
	}{
		{"feed ends on the last page", "", false},
		{"feed continues past the last page", "c2", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(nil)
			backend := new(MockBackend)
			page := func(id, next string) *ListResult {
				return &ListResult{
					Records:    map[Domain][]RawRecord{DomainOrder: {{"event_id": id, "occurred_at": "2024-05-01T11:00:00Z"}}},
					NextCursor: next,
				}
			}
			backend.On("List", mock.Anything, mock.MatchedBy(func(o ListOptions) bool { return o.Cursor == "" })).Return(page("1", "c1"), nil).Once()
			backend.On("List", mock.Anything, mock.MatchedBy(func(o ListOptions) bool { return o.Cursor == "c1" })).Return(page("2", tt.lastCursor), nil).Once()
			core, logs := observer.New(zap.WarnLevel)
			p := NewPoller(store, backend, zap.New(core), PollerConfig{MaxPages: 2, PageLimit: 1})

			require.NoError(t, p.PollOnce())

			assert.Len(t, store.Snapshot().Records, 2)
			backend.AssertNumberOfCalls(t, "List", 2)
			truncated := logs.FilterMessageSnippet("truncated").All()
			if !tt.wantTruncated {
				assert.Empty(t, truncated)
				return
			}
			require.Len(t, truncated, 1)
			fields := truncated[0].ContextMap()
			assert.Equal(t, int64(2), fields["max_pages"])
			assert.Equal(t, int64(1), fields["page_limit"])
		})
	}
}

func TestPoller_RefreshCollapsesWhileInFlight(t *testing.T) {
	p, store, backend, _ := setupPollerTest(PollerConfig{})
	backend.block = make(chan struct{})
	backend.entered = make(chan struct{})

	assert.True(t, p.RefreshNow())
	<-backend.entered
	assert.False(t, p.RefreshNow())
	assert.False(t, p.RefreshNow())

	close(backend.block)
	assert.Eventually(t, func() bool { return len(p.fetchSem) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, backend.calls())
	assert.NotNil(t, store.Snapshot().SyncedAt)
}

func TestPoller_StopDiscardsInFlightResult(t *testing.T) {
	p, store, backend, _ := setupPollerTest(PollerConfig{Interval: time.Hour})
	backend.set(DomainMessage, RawRecord{"message_id": "1"})
	backend.block = make(chan struct{})
	backend.entered = make(chan struct{})

	require.True(t, p.Start())
	<-backend.entered
	require.True(t, p.Stop())
	assert.False(t, p.Stop())
	close(backend.block)

	assert.Eventually(t, func() bool { return len(p.fetchSem) == 0 }, time.Second, 5*time.Millisecond)
	snap := store.Snapshot()
	assert.Empty(t, snap.Records)
	assert.Nil(t, snap.SyncedAt)
	assert.False(t, p.Running())
}

func TestPoller_ManualRefreshWakesLoop(t *testing.T) {
	p, _, backend, _ := setupPollerTest(PollerConfig{Interval: time.Hour})

	require.True(t, p.Start())
	defer p.Stop()
	assert.Eventually(t, func() bool { return backend.calls() == 1 && p.Status().State == "idle" }, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return p.RefreshNow() }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return backend.calls() == 2 }, time.Second, 5*time.Millisecond)
}

func TestNextInterval(t *testing.T) {
	base, ceiling := 30*time.Second, 5*time.Minute
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 5 * time.Minute},
		{50, 5 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextInterval(base, ceiling, tt.failures), "failures=%d", tt.failures)
	}
}
