package feed

import (
	"sync"

	"go.uber.org/zap"
)

type subscriber struct {
	fn     func(Snapshot)
	mu     sync.Mutex
	closed bool
}

// Registry fans snapshots out to any number of subscribers. Detaching is
// O(1) and takes effect before the next publish; once the unsubscribe
// function returns, the callback is never invoked again.
type Registry struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	logger *zap.Logger

	// onChange observes the subscriber count after every attach or detach.
	onChange func(active int)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		subs:   make(map[uint64]*subscriber),
		logger: logger,
	}
}

// OnCountChange registers a hook called with the subscriber count whenever
// it changes. It is called outside the registry lock.
func (r *Registry) OnCountChange(fn func(active int)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Subscribe attaches fn and returns its detach function. Calling the detach
// function more than once is harmless. Callbacks run on the publishing
// goroutine; they must return quickly and must not unsubscribe themselves
// synchronously. Slow consumers should go through a Mailbox.
func (r *Registry) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	sub := &subscriber{fn: fn}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[id] = sub
	active, hook := len(r.subs), r.onChange
	r.mu.Unlock()

	if hook != nil {
		hook(active)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			active, hook := len(r.subs), r.onChange
			r.mu.Unlock()

			// Wait out a delivery that may be running right now.
			sub.mu.Lock()
			sub.closed = true
			sub.mu.Unlock()

			if hook != nil {
				hook(active)
			}
		})
	}
}

// Len returns the number of attached subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Publish delivers snap to every subscriber attached when the call starts.
func (r *Registry) Publish(snap Snapshot) {
	r.mu.RLock()
	targets := make([]*subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		r.deliver(s, snap)
	}
}

func (r *Registry) deliver(s *subscriber, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Feed subscriber panicked", zap.Any("panic", rec), zap.Uint64("revision", snap.Revision))
		}
	}()
	s.fn(snap)
}

// Mailbox is a one-slot, latest-wins buffer between a publisher and a slow
// consumer. Offer never blocks; an undelivered older snapshot is replaced.
type Mailbox struct {
	ch chan Snapshot
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan Snapshot, 1)}
}

// Offer stores snap, discarding any snapshot still waiting.
func (m *Mailbox) Offer(snap Snapshot) {
	for {
		select {
		case m.ch <- snap:
			return
		default:
		}
		select {
		case old := <-m.ch:
			if old.Revision > snap.Revision {
				snap = old
			}
		default:
		}
	}
}

// C returns the channel the consumer reads from.
func (m *Mailbox) C() <-chan Snapshot {
	return m.ch
}
