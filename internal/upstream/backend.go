package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"notification_hub_backend/internal/feed"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrDomainNotConfigured is returned for keys whose domain has no service URL.
var ErrDomainNotConfigured = errors.New("no upstream configured for domain")

// Config names the service of every domain.
type Config struct {
	BaseURLs  map[feed.Domain]string
	AuthToken string
	Timeout   time.Duration
}

// envelope is the success body the domain services answer with.
type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type listPayload struct {
	Notifications []feed.RawRecord `json:"notifications"`
	NextCursor    string           `json:"next_cursor"`
}

// Backend fans listings out to one HTTP service per domain and routes
// per-item mutations by the key's domain.
type Backend struct {
	clients map[feed.Domain]*Client
	logger  *zap.Logger
}

var (
	_ feed.Backend        = (*Backend)(nil)
	_ feed.CountsProvider = (*Backend)(nil)
)

// NewBackend builds a client for every configured domain.
func NewBackend(cfg Config, logger *zap.Logger) *Backend {
	clients := make(map[feed.Domain]*Client, len(cfg.BaseURLs))
	for d, base := range cfg.BaseURLs {
		if base == "" {
			continue
		}
		clients[d] = NewClient(base, cfg.AuthToken, cfg.Timeout)
	}
	return &Backend{clients: clients, logger: logger}
}

// Domains returns the configured domains in display order.
func (b *Backend) Domains() []feed.Domain {
	out := make([]feed.Domain, 0, len(b.clients))
	for _, d := range feed.Domains {
		if _, ok := b.clients[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

// List fetches one page from every requested domain in parallel. The
// combined cursor carries a per-domain cursor; on later pages only domains
// with more data are asked again. Any domain failing fails the whole page.
func (b *Backend) List(ctx context.Context, opts feed.ListOptions) (*feed.ListResult, error) {
	cursors, err := decodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	domains := opts.Domains
	if len(domains) == 0 {
		domains = b.Domains()
	}

	var mu sync.Mutex
	res := &feed.ListResult{Records: make(map[feed.Domain][]feed.RawRecord, len(domains))}
	next := url.Values{}

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range domains {
		d := d
		client, ok := b.clients[d]
		if !ok {
			continue
		}
		cursor := ""
		if opts.Cursor != "" {
			cursor = cursors.Get(string(d))
			if cursor == "" {
				continue // exhausted on an earlier page
			}
		}
		g.Go(func() error {
			query := url.Values{"domain": {string(d)}}
			if opts.Limit > 0 {
				query.Set("limit", strconv.Itoa(opts.Limit))
			}
			if cursor != "" {
				query.Set("cursor", cursor)
			}
			var body envelope[listPayload]
			if err := client.GetJSON(gctx, "/notifications", query, &body); err != nil {
				return fmt.Errorf("listing %s notifications: %w", d, err)
			}

			b.logger.Debug("Upstream page fetched",
				zap.String("domain", string(d)),
				zap.Int("records", len(body.Data.Notifications)),
				zap.Bool("more", body.Data.NextCursor != ""),
			)

			mu.Lock()
			defer mu.Unlock()
			res.Records[d] = body.Data.Notifications
			if body.Data.NextCursor != "" {
				next.Set(string(d), body.Data.NextCursor)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.NextCursor = next.Encode()
	return res, nil
}

func (b *Backend) MarkRead(ctx context.Context, key feed.Key) error {
	client, err := b.client(key)
	if err != nil {
		return err
	}
	return client.PostJSON(ctx, itemPath(key)+"/mark-read", nil, nil)
}

func (b *Backend) Delete(ctx context.Context, key feed.Key) error {
	client, err := b.client(key)
	if err != nil {
		return err
	}
	return client.Delete(ctx, itemPath(key))
}

// UnreadCounts asks every configured domain for its unread total.
func (b *Backend) UnreadCounts(ctx context.Context) (map[feed.Domain]int, error) {
	var mu sync.Mutex
	counts := make(map[feed.Domain]int, len(b.clients))

	g, gctx := errgroup.WithContext(ctx)
	for d, client := range b.clients {
		d, client := d, client
		g.Go(func() error {
			var body envelope[map[string]int64]
			if err := client.GetJSON(gctx, "/notifications/counts", nil, &body); err != nil {
				return fmt.Errorf("counting %s notifications: %w", d, err)
			}
			mu.Lock()
			counts[d] = int(body.Data[string(d)])
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (b *Backend) client(key feed.Key) (*Client, error) {
	client, ok := b.clients[key.Domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotConfigured, key.Domain)
	}
	return client, nil
}

func itemPath(key feed.Key) string {
	return "/notifications/" + url.PathEscape(string(key.Domain)) + "/" + url.PathEscape(key.ID)
}

func decodeCursor(cursor string) (url.Values, error) {
	if cursor == "" {
		return url.Values{}, nil
	}
	v, err := url.ParseQuery(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return v, nil
}
