package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service is what display surfaces use. One instance is shared by every
// surface in the process so they all ride on a single polling loop.
type Service interface {
	Subscribe(onUpdate func(Snapshot)) (unsubscribe func())
	Snapshot() Snapshot
	MarkOneRead(ctx context.Context, key Key) error
	MarkAllRead(ctx context.Context) BatchResult
	DeleteOne(ctx context.Context, key Key) error
	RefreshNow() bool
	Status() PollerStatus
	Start()
	Stop()
}

// Options configures an Engine.
type Options struct {
	Poller              PollerConfig
	MutationTimeout     time.Duration
	MutationConcurrency int
}

// Engine wires the store, registry, controller and poller together. The
// poller runs only while the engine is started and at least one subscriber
// is attached.
type Engine struct {
	store      *Store
	registry   *Registry
	controller *Controller
	poller     *Poller
	logger     *zap.Logger

	mu      sync.Mutex
	started bool
}

var _ Service = (*Engine)(nil)

// NewEngine builds an engine over backend. Nothing runs until Start.
func NewEngine(backend Backend, opts Options, logger *zap.Logger) *Engine {
	registry := NewRegistry(logger.Named("FeedRegistry"))
	store := NewStore(registry)
	e := &Engine{
		store:      store,
		registry:   registry,
		controller: NewController(store, backend, logger.Named("FeedController"), opts.MutationTimeout, opts.MutationConcurrency),
		poller:     NewPoller(store, backend, logger.Named("FeedPoller"), opts.Poller),
		logger:     logger.Named("FeedEngine"),
	}
	registry.OnCountChange(func(int) { e.syncPoller() })
	return e
}

// syncPoller reconciles the loop with the current subscriber count. It reads
// the count itself so racing attach/detach hooks converge on the final state.
func (e *Engine) syncPoller() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	active := e.registry.Len()
	if active > 0 {
		if e.poller.Start() {
			e.logger.Info("First subscriber attached, polling resumed", zap.Int("subscribers", active))
		}
		return
	}
	if e.poller.Stop() {
		e.logger.Info("Last subscriber detached, polling paused")
	}
}

func (e *Engine) Subscribe(onUpdate func(Snapshot)) func() {
	return e.registry.Subscribe(onUpdate)
}

func (e *Engine) Snapshot() Snapshot {
	return e.store.Snapshot()
}

func (e *Engine) MarkOneRead(ctx context.Context, key Key) error {
	return e.controller.MarkOneRead(ctx, key)
}

func (e *Engine) MarkAllRead(ctx context.Context) BatchResult {
	return e.controller.MarkAllRead(ctx)
}

func (e *Engine) DeleteOne(ctx context.Context, key Key) error {
	return e.controller.DeleteOne(ctx, key)
}

func (e *Engine) RefreshNow() bool {
	return e.poller.RefreshNow()
}

func (e *Engine) Status() PollerStatus {
	return e.poller.Status()
}

// Start enables polling; the loop begins as soon as a subscriber is attached.
func (e *Engine) Start() {
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	e.logger.Info("Feed engine started")
	e.syncPoller()
}

// Stop disables polling regardless of subscribers.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	e.poller.Stop()
	e.logger.Info("Feed engine stopped")
}
