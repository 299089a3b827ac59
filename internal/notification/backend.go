package notification

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"notification_hub_backend/internal/feed"
)

// LocalBackend serves the feed engine straight from this process's
// notification store, without going over HTTP.
type LocalBackend struct {
	service Service
}

var (
	_ feed.Backend        = (*LocalBackend)(nil)
	_ feed.CountsProvider = (*LocalBackend)(nil)
)

// NewLocalBackend wraps service as a feed backend.
func NewLocalBackend(service Service) *LocalBackend {
	return &LocalBackend{service: service}
}

// List returns one page of stored notifications as raw records in the
// generic record shape.
func (b *LocalBackend) List(ctx context.Context, opts feed.ListOptions) (*feed.ListResult, error) {
	domains := make([]string, 0, len(opts.Domains))
	for _, d := range opts.Domains {
		domains = append(domains, string(d))
	}
	page, err := b.service.ListNotifications(ctx, domains, opts.Cursor, opts.Limit)
	if err != nil {
		return nil, err
	}

	res := &feed.ListResult{
		Records:    make(map[feed.Domain][]feed.RawRecord),
		NextCursor: page.NextCursor,
	}
	for _, n := range page.Notifications {
		d := feed.Domain(n.Domain)
		res.Records[d] = append(res.Records[d], toRawRecord(n))
	}
	return res, nil
}

func (b *LocalBackend) MarkRead(ctx context.Context, key feed.Key) error {
	id, err := parseID(key)
	if err != nil {
		return err
	}
	return b.service.MarkNotificationAsRead(ctx, string(key.Domain), id)
}

func (b *LocalBackend) Delete(ctx context.Context, key feed.Key) error {
	id, err := parseID(key)
	if err != nil {
		return err
	}
	return b.service.DeleteNotification(ctx, string(key.Domain), id)
}

// UnreadCounts reports the stored unread totals per domain.
func (b *LocalBackend) UnreadCounts(ctx context.Context) (map[feed.Domain]int, error) {
	counts, err := b.service.UnreadCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[feed.Domain]int, len(counts))
	for d, n := range counts {
		out[feed.Domain(d)] = int(n)
	}
	return out, nil
}

func parseID(key feed.Key) (uint64, error) {
	id, err := strconv.ParseUint(key.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("notification id %q is not numeric: %w", key.ID, err)
	}
	return id, nil
}

func toRawRecord(n Notification) feed.RawRecord {
	raw := feed.RawRecord{
		"id":         strconv.FormatUint(n.ID, 10),
		"title":      n.Title,
		"body":       n.Body,
		"created_at": n.CreatedAt.UTC().Format(time.RFC3339Nano),
		"is_read":    n.IsRead,
	}
	if n.ReadAt != nil {
		raw["read_at"] = n.ReadAt.UTC().Format(time.RFC3339Nano)
	}
	if n.Priority != nil {
		raw["priority"] = *n.Priority
	}
	if n.SenderName != "" {
		raw["sender_name"] = n.SenderName
	}
	if n.URL != "" {
		raw["url"] = n.URL
	}
	return raw
}
