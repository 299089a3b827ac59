package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PollerState is the scheduler's position in its Idle → Polling cycle.
type PollerState int

const (
	StateIdle PollerState = iota
	StatePolling
)

func (s PollerState) String() string {
	if s == StatePolling {
		return "polling"
	}
	return "idle"
}

// PollerConfig tunes the polling loop.
type PollerConfig struct {
	Interval     time.Duration
	MaxInterval  time.Duration
	FetchTimeout time.Duration
	PageLimit    int
	MaxPages     int
	Domains      []Domain
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = 10 * c.Interval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 50
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 1
	}
	return c
}

// PollerStatus is a point-in-time view of the scheduler.
type PollerStatus struct {
	Running             bool          `json:"running"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Interval            time.Duration `json:"interval"`
	LastSuccess         *time.Time    `json:"last_success,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
}

// Poller owns the single background polling loop of the process. At most one
// fetch is outstanding at any time, whether it comes from the loop or from a
// manual refresh.
type Poller struct {
	store   *Store
	backend Backend
	logger  *zap.Logger
	cfg     PollerConfig

	// fetchSem holds a token while a fetch is outstanding.
	fetchSem chan struct{}
	trigger  chan struct{}

	mu          sync.Mutex
	stopCh      chan struct{}
	state       PollerState
	failures    int
	lastSuccess *time.Time
	lastErr     string

	now func() time.Time
}

// NewPoller creates a stopped poller.
func NewPoller(store *Store, backend Backend, logger *zap.Logger, cfg PollerConfig) *Poller {
	return &Poller{
		store:    store,
		backend:  backend,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		fetchSem: make(chan struct{}, 1),
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Start launches the loop. It polls immediately and then on the current
// interval. Starting a running poller is a no-op.
func (p *Poller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		return false
	}
	p.stopCh = make(chan struct{})
	go p.run(p.stopCh)
	return true
}

// Stop ends the loop without waiting. A fetch in flight completes on its own
// and its result is discarded.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh == nil {
		return false
	}
	close(p.stopCh)
	p.stopCh = nil
	return true
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCh != nil
}

// RefreshNow asks for an immediate poll. It returns false when the request
// was collapsed into a fetch that is already in flight or already queued.
// When the loop is not running the poll happens once in the background.
func (p *Poller) RefreshNow() bool {
	p.mu.Lock()
	running, polling := p.stopCh != nil, p.state == StatePolling
	p.mu.Unlock()

	if polling {
		return false
	}
	if running {
		select {
		case p.trigger <- struct{}{}:
			return true
		default:
			return false
		}
	}
	select {
	case p.fetchSem <- struct{}{}:
	default:
		return false
	}
	go func() {
		defer func() { <-p.fetchSem }()
		_ = p.cycle(nil)
	}()
	return true
}

// PollOnce runs a single cycle synchronously, waiting for any outstanding
// fetch to finish first.
func (p *Poller) PollOnce() error {
	p.fetchSem <- struct{}{}
	defer func() { <-p.fetchSem }()
	return p.cycle(nil)
}

// Status reports the scheduler state.
func (p *Poller) Status() PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PollerStatus{
		Running:             p.stopCh != nil,
		State:               p.state.String(),
		ConsecutiveFailures: p.failures,
		Interval:            nextInterval(p.cfg.Interval, p.cfg.MaxInterval, p.failures),
		LastError:           p.lastErr,
	}
	if p.lastSuccess != nil {
		t := *p.lastSuccess
		st.LastSuccess = &t
	}
	return st
}

func (p *Poller) run(stop chan struct{}) {
	p.logger.Info("Feed poller started", zap.Duration("interval", p.cfg.Interval))
	for {
		select {
		case p.fetchSem <- struct{}{}:
		case <-stop:
			p.logger.Info("Feed poller stopped")
			return
		}
		err := p.cycle(stop)
		<-p.fetchSem
		if errors.Is(err, errDiscarded) {
			p.logger.Info("Feed poller stopped, in-flight result discarded")
			return
		}

		p.mu.Lock()
		delay := nextInterval(p.cfg.Interval, p.cfg.MaxInterval, p.failures)
		p.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			p.logger.Info("Feed poller stopped")
			return
		case <-timer.C:
		case <-p.trigger:
			timer.Stop()
			p.logger.Debug("Manual feed refresh")
		}
	}
}

var errDiscarded = errors.New("poll result discarded")

// cycle performs one fetch and merge. The caller holds fetchSem. If stop is
// closed by the time the fetch returns, the result is dropped.
func (p *Poller) cycle(stop <-chan struct{}) error {
	p.setState(StatePolling)
	since := p.store.Revision()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FetchTimeout)
	records, counts, err := p.fetch(ctx)
	cancel()

	p.setState(StateIdle)
	if stop != nil {
		select {
		case <-stop:
			return errDiscarded
		default:
		}
	}

	if err != nil {
		p.mu.Lock()
		p.failures++
		p.lastErr = err.Error()
		failures := p.failures
		p.mu.Unlock()

		p.store.MarkStale(err)
		p.logger.Warn("Feed poll failed, keeping last good data",
			zap.Error(err),
			zap.Int("consecutive_failures", failures),
			zap.Duration("next_interval", nextInterval(p.cfg.Interval, p.cfg.MaxInterval, failures)),
		)
		return err
	}

	p.store.SetUpstreamCounts(counts)
	delta := p.store.ReplaceAll(since, records)

	now := p.now()
	p.mu.Lock()
	p.failures = 0
	p.lastErr = ""
	p.lastSuccess = &now
	p.mu.Unlock()

	if delta.Empty() {
		p.logger.Debug("Feed poll completed, no changes", zap.Int("records", len(records)))
	} else {
		p.logger.Info("Feed poll merged changes",
			zap.Int("records", len(records)),
			zap.Int("added", delta.Added),
			zap.Int("removed", delta.Removed),
			zap.Int("changed", delta.Changed),
		)
	}
	return nil
}

func (p *Poller) fetch(ctx context.Context) ([]Notification, map[Domain]int, error) {
	now := p.now()
	var records []Notification
	skipped, degraded := 0, 0
	cursor := ""
	truncated := false

	for page := 0; page < p.cfg.MaxPages; page++ {
		res, err := p.list(ctx, ListOptions{Cursor: cursor, Limit: p.cfg.PageLimit, Domains: p.cfg.Domains})
		if err != nil {
			return nil, nil, fmt.Errorf("listing notifications (page %d): %w", page+1, err)
		}
		for domain, raws := range res.Records {
			if _, err := ParseDomain(string(domain)); err != nil {
				p.logger.Warn("Ignoring records from unknown domain", zap.String("domain", string(domain)), zap.Int("count", len(raws)))
				continue
			}
			for _, raw := range raws {
				n := Normalize(domain, raw, now)
				if n.ID == "" {
					skipped++
					continue
				}
				if len(n.Issues) > 0 {
					degraded++
				}
				records = append(records, n)
			}
		}
		truncated = res.NextCursor != ""
		if !truncated {
			break
		}
		cursor = res.NextCursor
	}
	if truncated {
		p.logger.Warn("Feed truncated at page limit, older records are treated as absent",
			zap.Int("max_pages", p.cfg.MaxPages),
			zap.Int("page_limit", p.cfg.PageLimit),
			zap.Int("records", len(records)),
		)
	}
	if skipped > 0 || degraded > 0 {
		p.logger.Warn("Malformed notification records", zap.Int("skipped_without_id", skipped), zap.Int("degraded", degraded))
	}

	var counts map[Domain]int
	if cp, ok := p.backend.(CountsProvider); ok {
		c, err := cp.UnreadCounts(ctx)
		if err != nil {
			p.logger.Warn("Backend unread counts unavailable, using local counters only", zap.Error(err))
		} else {
			counts = c
		}
	}
	return records, counts, nil
}

// list calls the backend and turns a panic into an ordinary failed poll.
func (p *Poller) list(ctx context.Context, opts ListOptions) (res *ListResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend list panicked: %v", r)
		}
	}()
	res, err = p.backend.List(ctx, opts)
	if err == nil && res == nil {
		err = errors.New("backend returned no result")
	}
	return res, err
}

func (p *Poller) setState(s PollerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// nextInterval doubles base for every consecutive failure, capped at ceiling.
func nextInterval(base, ceiling time.Duration, failures int) time.Duration {
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}
