package feed

import "context"

// RawRecord is a notification in the shape its origin domain produced it,
// typically a decoded JSON object.
type RawRecord map[string]any

// ListOptions controls one page of a backend listing.
type ListOptions struct {
	Cursor  string
	Limit   int
	Domains []Domain // empty means all domains
}

// ListResult is one page of raw records grouped by origin domain.
type ListResult struct {
	Records    map[Domain][]RawRecord
	NextCursor string
}

// Backend is the collaborator that owns notification persistence. It only
// exposes per-item mutations; there is no batch endpoint.
type Backend interface {
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
	MarkRead(ctx context.Context, key Key) error
	Delete(ctx context.Context, key Key) error
}

// CountsProvider is implemented by backends that can report unread totals
// without a full listing.
type CountsProvider interface {
	UnreadCounts(ctx context.Context) (map[Domain]int, error)
}
