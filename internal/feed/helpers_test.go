package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockBackend is a mock type for feed.Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ListResult), args.Error(1)
}

func (m *MockBackend) MarkRead(ctx context.Context, key Key) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockBackend) Delete(ctx context.Context, key Key) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// fakeBackend serves a mutable record set and can be told to fail or block.
type fakeBackend struct {
	mu        sync.Mutex
	records   map[Domain][]RawRecord
	listErr   error
	listCalls int
	failRead  map[Key]bool
	failDel   map[Key]bool
	readCalls []Key
	block     chan struct{} // when set, List waits on it
	entered   chan struct{} // signalled when List starts
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		records:  make(map[Domain][]RawRecord),
		failRead: make(map[Key]bool),
		failDel:  make(map[Key]bool),
	}
}

func (f *fakeBackend) set(domain Domain, raws ...RawRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[domain] = raws
}

func (f *fakeBackend) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	f.mu.Lock()
	f.listCalls++
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[Domain][]RawRecord, len(f.records))
	for d, raws := range f.records {
		out[d] = append([]RawRecord(nil), raws...)
	}
	return &ListResult{Records: out}, nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls = append(f.readCalls, key)
	if f.failRead[key] {
		return errors.New("mark read rejected")
	}
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDel[key] {
		return errors.New("delete rejected")
	}
	return nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// recorder collects published snapshots.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) Publish(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func rec(domain Domain, id string, minutesAgo int, read bool) Notification {
	return Notification{
		ID:        id,
		Domain:    domain,
		Title:     string(domain) + " " + id,
		CreatedAt: baseTime.Add(-time.Duration(minutesAgo) * time.Minute),
		Read:      read,
	}
}

func msgKey(id string) Key   { return Key{Domain: DomainMessage, ID: id} }
func promoKey(id string) Key { return Key{Domain: DomainPromotion, ID: id} }

// assertCountsConsistent checks the total against the per-domain counters and
// against the records themselves.
func assertCountsConsistent(t *testing.T, s Snapshot) {
	t.Helper()
	sum := 0
	for _, n := range s.Counts.ByDomain {
		sum += n
	}
	assert.Equal(t, s.Counts.Total, sum, "total must equal the sum of per-domain counters")

	unread := 0
	seen := make(map[Key]bool, len(s.Records))
	for _, n := range s.Records {
		assert.False(t, seen[n.Key()], "duplicate key %s", n.Key())
		seen[n.Key()] = true
		if !n.Read {
			unread++
		}
	}
	assert.Equal(t, unread, s.Counts.Total)
}
