package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// contract lists, per unified field, the raw field names a domain is known to
// use. The first present alias wins.
type contract struct {
	id, title, body, createdAt, read, readAt, priority, sender, url []string
}

// generic aliases accepted from every domain after its own names.
var genericContract = contract{
	id:        []string{"id"},
	title:     []string{"title"},
	body:      []string{"body", "message"},
	createdAt: []string{"created_at"},
	read:      []string{"is_read", "read"},
	readAt:    []string{"read_at"},
	priority:  []string{"priority"},
	sender:    []string{"sender_name"},
	url:       []string{"url"},
}

var contracts = map[Domain]contract{
	DomainMessage: {
		id:        []string{"message_id"},
		title:     []string{"subject"},
		body:      []string{"content"},
		createdAt: []string{"sent_at"},
		read:      []string{"seen"},
		sender:    []string{"from"},
		url:       []string{"conversation_url"},
	},
	DomainSystem: {
		id:        []string{"alert_id"},
		createdAt: []string{"raised_at"},
		read:      []string{"acknowledged"},
		priority:  []string{"level"},
		sender:    []string{"source"},
	},
	DomainPromotion: {
		id:        []string{"promotion_id"},
		title:     []string{"headline"},
		body:      []string{"description"},
		createdAt: []string{"starts_at", "published_at"},
		read:      []string{"seen"},
		priority:  []string{"rank"},
		sender:    []string{"brand"},
		url:       []string{"landing_url"},
	},
	DomainOrder: {
		id:        []string{"event_id"},
		title:     []string{"status"},
		createdAt: []string{"occurred_at", "updated_at"},
		sender:    []string{"customer_name"},
		url:       []string{"order_url"},
	},
	DomainProduct: {
		id:        []string{"event_id"},
		title:     []string{"product_name"},
		body:      []string{"event"},
		createdAt: []string{"occurred_at"},
		sender:    []string{"supplier_name"},
		url:       []string{"product_url"},
	},
}

var levelOrdinals = map[string]int{
	"low":      1,
	"normal":   2,
	"high":     3,
	"critical": 4,
}

// Normalize converts a raw record of the given domain into a Notification.
// It never fails: missing or malformed fields degrade to zero values and are
// reported in Issues. A record with no usable timestamp gets now and is
// flagged TimestampEstimated. The input is not modified.
func Normalize(domain Domain, raw RawRecord, now time.Time) Notification {
	c := contracts[domain]
	n := Notification{Domain: domain}

	if v, ok := lookup(raw, c.id, genericContract.id); ok {
		id, err := asID(v)
		if err != nil {
			n.Issues = append(n.Issues, "id: "+err.Error())
		}
		n.ID = id
	} else {
		n.Issues = append(n.Issues, "id: missing")
	}

	n.Title = stringField(raw, c.title, genericContract.title, "title", &n.Issues)
	n.Body = stringField(raw, c.body, genericContract.body, "body", &n.Issues)
	n.SenderName = stringField(raw, c.sender, genericContract.sender, "sender", &n.Issues)
	n.SourceURL = stringField(raw, c.url, genericContract.url, "url", &n.Issues)

	if v, ok := lookup(raw, c.createdAt, genericContract.createdAt); ok {
		if t, err := asTime(v); err == nil {
			n.CreatedAt = t
		} else {
			n.Issues = append(n.Issues, "created_at: "+err.Error())
		}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
		n.TimestampEstimated = true
	}

	if v, ok := lookup(raw, c.read, genericContract.read); ok {
		b, err := asBool(v)
		if err != nil {
			n.Issues = append(n.Issues, "read: "+err.Error())
		}
		n.Read = b
	}
	if n.Read {
		if v, ok := lookup(raw, c.readAt, genericContract.readAt); ok {
			if t, err := asTime(v); err == nil {
				n.ReadAt = &t
			}
		}
	}

	if v, ok := lookup(raw, c.priority, genericContract.priority); ok {
		if p, err := asPriority(v); err == nil {
			n.Priority = &p
		} else {
			n.Issues = append(n.Issues, "priority: "+err.Error())
		}
	}
	return n
}

func lookup(raw RawRecord, names ...[]string) (any, bool) {
	for _, group := range names {
		for _, name := range group {
			if v, ok := raw[name]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func stringField(raw RawRecord, own, generic []string, field string, issues *[]string) string {
	v, ok := lookup(raw, own, generic)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64, int, int64, bool:
		return fmt.Sprint(s)
	default:
		*issues = append(*issues, field+": unsupported type")
		return ""
	}
}

func asID(v any) (string, error) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		if id == "" {
			return "", fmt.Errorf("empty")
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	case float64:
		if id != math.Trunc(id) || math.IsInf(id, 0) {
			return "", fmt.Errorf("non-integral number %v", id)
		}
		return strconv.FormatInt(int64(id), 10), nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	case uint64:
		return strconv.FormatUint(id, 10), nil
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), nil
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(n), nil
		}
		return time.Time{}, fmt.Errorf("unparseable time %q", t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return fromEpoch(n), nil
	case float64:
		return fromEpoch(t), nil
	case int64:
		return fromEpoch(float64(t)), nil
	case int:
		return fromEpoch(float64(t)), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

// fromEpoch accepts unix seconds or milliseconds.
func fromEpoch(n float64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "read":
			return true, nil
		case "false", "0", "no", "unread", "":
			return false, nil
		}
		return false, fmt.Errorf("unparseable bool %q", b)
	case float64:
		return b != 0, nil
	case int:
		return b != 0, nil
	case json.Number:
		return b.String() != "0", nil
	default:
		return false, fmt.Errorf("unsupported type %T", v)
	}
}

func asPriority(v any) (int, error) {
	switch p := v.(type) {
	case string:
		if n, ok := levelOrdinals[strings.ToLower(strings.TrimSpace(p))]; ok {
			return n, nil
		}
		return strconv.Atoi(strings.TrimSpace(p))
	case float64:
		return int(p), nil
	case int:
		return p, nil
	case json.Number:
		n, err := p.Int64()
		return int(n), err
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
