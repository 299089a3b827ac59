package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"notification_hub_backend/internal/feed"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type domainServer struct {
	mu       sync.Mutex
	requests []*http.Request
	pages    map[string]listPayload // keyed by cursor
	unread   int64
	status   int
}

func (s *domainServer) handler(domain string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r)
		status := s.status
		s.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"code":"SERVICE_UNAVAILABLE"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/notifications":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": s.pages[r.URL.Query().Get("cursor")]})
		case r.Method == http.MethodGet && r.URL.Path == "/notifications/counts":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": map[string]int64{domain: s.unread}})
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success"})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (s *domainServer) setStatus(code int) {
	s.mu.Lock()
	s.status = code
	s.mu.Unlock()
}

func (s *domainServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *domainServer) last() *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func setupBackendTest(t *testing.T) (*Backend, *domainServer, *domainServer) {
	t.Helper()
	messages := &domainServer{pages: map[string]listPayload{
		"": {
			Notifications: []feed.RawRecord{{"message_id": 1, "subject": "hi", "sent_at": "2024-05-01T10:00:00Z"}},
			NextCursor:    "m2",
		},
		"m2": {Notifications: []feed.RawRecord{{"message_id": 2, "subject": "again"}}},
	}, unread: 2}
	orders := &domainServer{pages: map[string]listPayload{
		"": {Notifications: []feed.RawRecord{{"event_id": "o-1", "status": "Shipped"}}},
	}, unread: 1}

	msgSrv := httptest.NewServer(messages.handler("message"))
	orderSrv := httptest.NewServer(orders.handler("order"))
	t.Cleanup(msgSrv.Close)
	t.Cleanup(orderSrv.Close)

	b := NewBackend(Config{
		BaseURLs: map[feed.Domain]string{
			feed.DomainMessage: msgSrv.URL,
			feed.DomainOrder:   orderSrv.URL,
			feed.DomainSystem:  "",
		},
		AuthToken: "secret",
		Timeout:   time.Second,
	}, zap.NewNop())
	return b, messages, orders
}

func TestBackend_ListFansOutAndPages(t *testing.T) {
	b, messages, _ := setupBackendTest(t)
	ctx := context.Background()

	first, err := b.List(ctx, feed.ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, first.Records[feed.DomainMessage], 1)
	require.Len(t, first.Records[feed.DomainOrder], 1)
	assert.Equal(t, "message=m2", first.NextCursor)

	req := messages.last()
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.Equal(t, "1", req.URL.Query().Get("limit"))
	assert.Equal(t, "message", req.URL.Query().Get("domain"))

	n := feed.Normalize(feed.DomainMessage, first.Records[feed.DomainMessage][0], time.Now())
	assert.Equal(t, "1", n.ID)
	assert.Equal(t, "hi", n.Title)

	second, err := b.List(ctx, feed.ListOptions{Limit: 1, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Len(t, second.Records[feed.DomainMessage], 1)
	assert.Empty(t, second.Records[feed.DomainOrder], "exhausted domains are not asked again")
	assert.Empty(t, second.NextCursor)
}

func TestBackend_ListFailsWhenAnyDomainFails(t *testing.T) {
	b, _, orders := setupBackendTest(t)
	orders.setStatus(http.StatusServiceUnavailable)

	_, err := b.List(context.Background(), feed.ListOptions{})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}

func TestBackend_ListOnlyRequestedDomains(t *testing.T) {
	b, messages, orders := setupBackendTest(t)

	res, err := b.List(context.Background(), feed.ListOptions{Domains: []feed.Domain{feed.DomainOrder}})

	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Zero(t, messages.count())
	assert.Equal(t, 1, orders.count())
}

func TestBackend_Mutations(t *testing.T) {
	b, messages, orders := setupBackendTest(t)
	ctx := context.Background()

	require.NoError(t, b.MarkRead(ctx, feed.Key{Domain: feed.DomainMessage, ID: "7"}))
	req := messages.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/notifications/message/7/mark-read", req.URL.Path)

	require.NoError(t, b.Delete(ctx, feed.Key{Domain: feed.DomainOrder, ID: "o-1"}))
	req = orders.last()
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/notifications/order/o-1", req.URL.Path)

	err := b.MarkRead(ctx, feed.Key{Domain: feed.DomainProduct, ID: "1"})
	assert.True(t, errors.Is(err, ErrDomainNotConfigured))

	messages.setStatus(http.StatusNotFound)
	err = b.Delete(ctx, feed.Key{Domain: feed.DomainMessage, ID: "7"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestBackend_UnreadCounts(t *testing.T) {
	b, _, _ := setupBackendTest(t)

	counts, err := b.UnreadCounts(context.Background())

	require.NoError(t, err)
	assert.Equal(t, map[feed.Domain]int{feed.DomainMessage: 2, feed.DomainOrder: 1}, counts)
}

func TestBackend_Domains(t *testing.T) {
	b, _, _ := setupBackendTest(t)
	assert.Equal(t, []feed.Domain{feed.DomainMessage, feed.DomainOrder}, b.Domains())
}
