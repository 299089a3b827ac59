package feed

import (
	"fmt"
	"strings"
	"time"
)

// Domain identifies the backend domain a notification originates from.
type Domain string

const (
	DomainMessage   Domain = "message"
	DomainSystem    Domain = "system"
	DomainPromotion Domain = "promotion"
	DomainOrder     Domain = "order"
	DomainProduct   Domain = "product"
)

// Domains lists every known domain in display order.
var Domains = []Domain{DomainMessage, DomainSystem, DomainPromotion, DomainOrder, DomainProduct}

// ParseDomain validates a domain name.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Domains {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDomain, s)
}

// Key is the domain-qualified identity of a notification. Two domains may
// independently use the same id, so the id alone is never a uniqueness key.
type Key struct {
	Domain Domain
	ID     string
}

func (k Key) String() string {
	return string(k.Domain) + ":" + k.ID
}

// ParseKey parses the "domain:id" form produced by Key.String.
func ParseKey(s string) (Key, error) {
	domain, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Key{}, fmt.Errorf("invalid notification key %q", s)
	}
	d, err := ParseDomain(domain)
	if err != nil {
		return Key{}, err
	}
	return Key{Domain: d, ID: id}, nil
}

// Notification is the unified record every domain is normalized into.
type Notification struct {
	ID         string     `json:"id"`
	Domain     Domain     `json:"domain"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	Priority   *int       `json:"priority,omitempty"`
	SenderName string     `json:"sender_name,omitempty"`
	SourceURL  string     `json:"source_url,omitempty"`

	// TimestampEstimated is set when the origin supplied no usable timestamp
	// and CreatedAt was filled with the normalization time.
	TimestampEstimated bool     `json:"timestamp_estimated,omitempty"`
	Issues             []string `json:"-"`
}

// Key returns the domain-qualified key of the record.
func (n Notification) Key() Key {
	return Key{Domain: n.Domain, ID: n.ID}
}

// clone returns a deep copy so stored records never share pointers with callers.
func (n Notification) clone() Notification {
	c := n
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	if n.Priority != nil {
		p := *n.Priority
		c.Priority = &p
	}
	if n.Issues != nil {
		c.Issues = append([]string(nil), n.Issues...)
	}
	return c
}

// Counts are the unread counters derived from a record set.
type Counts struct {
	Total    int            `json:"total"`
	ByDomain map[Domain]int `json:"by_domain"`
}

// NewCounts returns zeroed counters with every domain present.
func NewCounts() Counts {
	c := Counts{ByDomain: make(map[Domain]int, len(Domains))}
	for _, d := range Domains {
		c.ByDomain[d] = 0
	}
	return c
}

func (c Counts) clone() Counts {
	out := Counts{Total: c.Total, ByDomain: make(map[Domain]int, len(c.ByDomain))}
	for d, n := range c.ByDomain {
		out.ByDomain[d] = n
	}
	return out
}

// Snapshot is an immutable view of the feed handed to consumers.
// Callers must not modify Records or Counts.ByDomain.
type Snapshot struct {
	Revision  uint64         `json:"revision"`
	Records   []Notification `json:"records"`
	Counts    Counts         `json:"counts"`
	Stale     bool           `json:"stale"`
	LastError string         `json:"last_error,omitempty"`
	SyncedAt  *time.Time     `json:"synced_at,omitempty"`
	// Upstream holds unread totals reported by the backend, when it offers them.
	Upstream *Counts `json:"upstream,omitempty"`
}

// Find returns the record stored under key.
func (s Snapshot) Find(key Key) (Notification, bool) {
	for _, n := range s.Records {
		if n.Domain == key.Domain && n.ID == key.ID {
			return n, true
		}
	}
	return Notification{}, false
}

// Unread returns the keys of all unread records, newest first.
func (s Snapshot) Unread() []Key {
	keys := make([]Key, 0, s.Counts.Total)
	for _, n := range s.Records {
		if !n.Read {
			keys = append(keys, n.Key())
		}
	}
	return keys
}

// Filter returns the records of a single domain.
func (s Snapshot) Filter(domain Domain) []Notification {
	out := make([]Notification, 0, s.Counts.ByDomain[domain])
	for _, n := range s.Records {
		if n.Domain == domain {
			out = append(out, n)
		}
	}
	return out
}
