package feed

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchResult summarizes a mark-all-read run. Each item succeeds or fails on
// its own.
type BatchResult struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

// ItemFailure names one record the backend refused.
type ItemFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Controller applies read-state changes optimistically and reconciles them
// with the backend, rolling back whatever the backend rejects.
type Controller struct {
	store       *Store
	backend     Backend
	logger      *zap.Logger
	timeout     time.Duration
	concurrency int
	now         func() time.Time
}

// NewController creates a controller. timeout bounds each backend call and
// concurrency bounds the fan-out of MarkAllRead.
func NewController(store *Store, backend Backend, logger *zap.Logger, timeout time.Duration, concurrency int) *Controller {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Controller{
		store:       store,
		backend:     backend,
		logger:      logger,
		timeout:     timeout,
		concurrency: concurrency,
		now:         time.Now,
	}
}

func (c *Controller) markRead(at time.Time) func(*Notification) {
	return func(n *Notification) {
		n.Read = true
		n.ReadAt = &at
	}
}

// MarkOneRead marks a single record read. Marking an already read record
// succeeds without contacting the backend.
func (c *Controller) MarkOneRead(ctx context.Context, key Key) error {
	rec, ok := c.store.Get(key)
	if !ok {
		return ErrNotFound
	}
	if rec.Read {
		return nil
	}

	m, err := c.store.ApplyMutation(OpMarkRead, key, c.markRead(c.now()))
	if err != nil {
		return err
	}
	if err := c.call(ctx, func(ctx context.Context) error { return c.backend.MarkRead(ctx, key) }); err != nil {
		c.store.Rollback(m)
		c.logger.Warn("Mark read rejected by backend, reverted", zap.String("key", key.String()), zap.Error(err))
		return &MutationError{Op: OpMarkRead, Key: key, Err: err}
	}
	c.store.Commit(m)
	return nil
}

// MarkAllRead marks every currently unread record read, then confirms each
// one with the backend in parallel. Records whose call fails are reverted
// individually; the others stay read. Records another mutation marked read
// in the meantime are left to that mutation and counted in neither total.
func (c *Controller) MarkAllRead(ctx context.Context) BatchResult {
	keys := c.store.Snapshot().Unread()
	if len(keys) == 0 {
		return BatchResult{}
	}

	muts := c.store.ApplyBatch(OpMarkRead, keys, c.markRead(c.now()))
	errs := make([]error, len(muts))

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i, m := range muts {
		i, key := i, m.Key
		g.Go(func() error {
			errs[i] = c.call(ctx, func(ctx context.Context) error { return c.backend.MarkRead(ctx, key) })
			return nil
		})
	}
	_ = g.Wait()

	var result BatchResult
	var ok, failed []*Mutation
	for i, m := range muts {
		if errs[i] != nil {
			failed = append(failed, m)
			result.Failures = append(result.Failures, ItemFailure{Key: m.Key.String(), Error: errs[i].Error()})
			continue
		}
		ok = append(ok, m)
	}
	c.store.Commit(ok...)
	if len(failed) > 0 {
		c.store.Rollback(failed...)
	}
	result.Succeeded, result.Failed = len(ok), len(failed)

	if result.Failed > 0 {
		c.logger.Warn("Mark all read partially failed",
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
	} else {
		c.logger.Debug("Mark all read completed", zap.Int("succeeded", result.Succeeded))
	}
	return result
}

// DeleteOne removes a record, re-inserting its last known state if the
// backend refuses the deletion.
func (c *Controller) DeleteOne(ctx context.Context, key Key) error {
	m, err := c.store.Remove(key)
	if err != nil {
		return err
	}
	if err := c.call(ctx, func(ctx context.Context) error { return c.backend.Delete(ctx, key) }); err != nil {
		c.store.Rollback(m)
		c.logger.Warn("Delete rejected by backend, restored", zap.String("key", key.String()), zap.Error(err))
		return &MutationError{Op: OpDelete, Key: key, Err: err}
	}
	c.store.Commit(m)
	return nil
}

// call runs fn with the per-call timeout. A panicking backend counts as a
// failure rather than tearing down the caller.
func (c *Controller) call(ctx context.Context, fn func(context.Context) error) (err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec}
		}
	}()
	return fn(ctx)
}

type panicError struct{ value any }

func (e *panicError) Error() string {
	return "backend call panicked"
}
