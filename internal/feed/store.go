package feed

import (
	"reflect"
	"sort"
	"sync"
	"time"
)

// Publisher receives every snapshot the store produces.
type Publisher interface {
	Publish(Snapshot)
}

// Mutation is an optimistic change applied to the store ahead of backend
// confirmation. It carries the record as it was before the change so it can
// be rolled back exactly.
type Mutation struct {
	Op       Op
	Key      Key
	Prior    Notification
	Revision uint64
	resolved bool
}

// Delta summarizes what a merge changed.
type Delta struct {
	Added   int
	Removed int
	Changed int
}

// Empty reports whether the merge changed nothing.
func (d Delta) Empty() bool {
	return d.Added == 0 && d.Removed == 0 && d.Changed == 0
}

type entry struct {
	rec Notification
	// touched is the revision of the last local mutation on this record.
	touched uint64
}

// Store is the in-memory, process-wide feed. It owns the canonical record set;
// everything else reads snapshots or goes through its mutation primitives.
// Every primitive recomputes counters before publishing, and publishes are
// delivered in revision order outside the state lock. Publisher callbacks must
// not call mutating Store methods synchronously.
type Store struct {
	mu         sync.Mutex
	pubMu      sync.Mutex
	records    map[Key]*entry
	tombstones map[Key]uint64
	pending    map[Key]int
	revision   uint64

	stale    bool
	lastErr  string
	syncedAt *time.Time
	upstream *Counts

	current   Snapshot
	publisher Publisher
	now       func() time.Time
}

// NewStore creates an empty store publishing to p. p may be nil.
func NewStore(p Publisher) *Store {
	s := &Store{
		records:    make(map[Key]*entry),
		tombstones: make(map[Key]uint64),
		pending:    make(map[Key]int),
		publisher:  p,
		now:        time.Now,
	}
	s.current = s.buildLocked()
	return s
}

// Revision returns the current revision. A poll records it before fetching
// and hands it back to ReplaceAll.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.current
	snap.Records = append([]Notification(nil), s.current.Records...)
	snap.Counts = s.current.Counts.clone()
	return snap
}

// Get returns a copy of the record stored under key.
func (s *Store) Get(key Key) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[key]
	if !ok {
		return Notification{}, false
	}
	return e.rec.clone(), true
}

// ApplyMutation applies fn to the record under key and marks it pending
// until Commit or Rollback. fn cannot change the record's key.
func (s *Store) ApplyMutation(op Op, key Key, fn func(*Notification)) (*Mutation, error) {
	s.mu.Lock()
	m := s.applyLocked(op, key, fn)
	if m == nil {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	s.unlockAndPublish(s.refreshLocked())
	return m, nil
}

// ApplyBatch applies fn to every present key and publishes once. Missing
// keys are skipped, and so are records already read when op is OpMarkRead:
// their read state belongs to whichever mutation set it.
func (s *Store) ApplyBatch(op Op, keys []Key, fn func(*Notification)) []*Mutation {
	s.mu.Lock()
	muts := make([]*Mutation, 0, len(keys))
	for _, k := range keys {
		if e, ok := s.records[k]; op == OpMarkRead && ok && e.rec.Read {
			continue
		}
		if m := s.applyLocked(op, k, fn); m != nil {
			muts = append(muts, m)
		}
	}
	if len(muts) == 0 {
		s.mu.Unlock()
		return muts
	}
	s.unlockAndPublish(s.refreshLocked())
	return muts
}

func (s *Store) applyLocked(op Op, key Key, fn func(*Notification)) *Mutation {
	e, ok := s.records[key]
	if !ok {
		return nil
	}
	s.revision++
	prior := e.rec.clone()
	next := prior.clone()
	fn(&next)
	next.Domain, next.ID = key.Domain, key.ID
	e.rec = next
	e.touched = s.revision
	s.pending[key]++
	return &Mutation{Op: op, Key: key, Prior: prior, Revision: s.revision}
}

// Remove deletes the record under key and leaves a tombstone so a poll that
// started before the deletion cannot bring it back.
func (s *Store) Remove(key Key) (*Mutation, error) {
	s.mu.Lock()
	e, ok := s.records[key]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	s.revision++
	delete(s.records, key)
	s.tombstones[key] = s.revision
	s.pending[key]++
	m := &Mutation{Op: OpDelete, Key: key, Prior: e.rec.clone(), Revision: s.revision}
	s.unlockAndPublish(s.refreshLocked())
	return m, nil
}

// Commit marks mutations as confirmed by the backend. The confirmation is
// stamped with a fresh revision so a poll already in flight still defers to
// the local state. The visible state does not change, so nothing is published.
func (s *Store) Commit(muts ...*Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settled := false
	for _, m := range muts {
		if !s.resolveLocked(m) {
			continue
		}
		if !settled {
			s.revision++
			settled = true
		}
		if m.Op == OpDelete {
			if _, ok := s.tombstones[m.Key]; ok {
				s.tombstones[m.Key] = s.revision
			}
			continue
		}
		if e, ok := s.records[m.Key]; ok {
			e.touched = s.revision
		}
	}
}

// Rollback restores the pre-mutation state of every unresolved mutation and
// publishes once.
func (s *Store) Rollback(muts ...*Mutation) {
	s.mu.Lock()
	changed := false
	for _, m := range muts {
		if !s.resolveLocked(m) {
			continue
		}
		if !changed {
			s.revision++
			changed = true
		}
		switch m.Op {
		case OpDelete:
			delete(s.tombstones, m.Key)
			if _, exists := s.records[m.Key]; !exists {
				s.records[m.Key] = &entry{rec: m.Prior.clone(), touched: s.revision}
			}
		default:
			// Only the read state is restored; fields refreshed by a poll in
			// the meantime are kept.
			if e, ok := s.records[m.Key]; ok {
				prior := m.Prior.clone()
				e.rec.Read = prior.Read
				e.rec.ReadAt = prior.ReadAt
				e.touched = s.revision
			}
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.unlockAndPublish(s.refreshLocked())
}

func (s *Store) resolveLocked(m *Mutation) bool {
	if m == nil || m.resolved {
		return false
	}
	m.resolved = true
	if s.pending[m.Key] <= 1 {
		delete(s.pending, m.Key)
	} else {
		s.pending[m.Key]--
	}
	return true
}

// ReplaceAll merges a full poll result fetched after revision since. The
// backend is authoritative except where a local mutation is still pending, or
// was applied or confirmed after the fetch started: such records keep their local read state,
// and locally deleted records are not resurrected. Records missing from the
// result are dropped. The merge always publishes exactly once.
func (s *Store) ReplaceAll(since uint64, records []Notification) Delta {
	s.mu.Lock()
	s.revision++

	incoming := make(map[Key]Notification, len(records))
	for _, r := range records {
		k := r.Key()
		if prev, dup := incoming[k]; dup && prev.CreatedAt.After(r.CreatedAt) {
			continue
		}
		incoming[k] = r.clone()
	}

	var delta Delta
	next := make(map[Key]*entry, len(incoming))
	for k, rec := range incoming {
		if rev, deleted := s.tombstones[k]; deleted && (s.pending[k] > 0 || rev > since) {
			continue
		}
		old, had := s.records[k]
		touched := uint64(0)
		if had {
			touched = old.touched
			if s.pending[k] > 0 || old.touched > since {
				rec.Read = old.rec.Read
				rec.ReadAt = old.rec.clone().ReadAt
			}
			if old.rec.TimestampEstimated && rec.TimestampEstimated {
				rec.CreatedAt = old.rec.CreatedAt
			}
			if !sameRecord(old.rec, rec) {
				delta.Changed++
			}
		} else {
			delta.Added++
		}
		next[k] = &entry{rec: rec, touched: touched}
	}
	for k := range s.records {
		if _, kept := next[k]; !kept {
			delta.Removed++
		}
	}
	s.records = next

	for k, rev := range s.tombstones {
		if rev <= since && s.pending[k] == 0 {
			delete(s.tombstones, k)
		}
	}

	now := s.now()
	s.stale = false
	s.lastErr = ""
	s.syncedAt = &now
	s.unlockAndPublish(s.refreshLocked())
	return delta
}

// MarkStale flags the snapshot after a failed poll. Records are untouched.
func (s *Store) MarkStale(err error) {
	s.mu.Lock()
	s.revision++
	s.stale = true
	if err != nil {
		s.lastErr = err.Error()
	}
	s.unlockAndPublish(s.refreshLocked())
}

// SetUpstreamCounts attaches backend-reported unread totals. nil clears
// them. The value rides along with the next published snapshot.
func (s *Store) SetUpstreamCounts(byDomain map[Domain]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byDomain == nil {
		s.upstream = nil
		return
	}
	c := NewCounts()
	for d, n := range byDomain {
		c.ByDomain[d] = n
		c.Total += n
	}
	s.upstream = &c
}

func (s *Store) refreshLocked() Snapshot {
	s.current = s.buildLocked()
	return s.current
}

// buildLocked derives the ordered list and all counters in one pass.
func (s *Store) buildLocked() Snapshot {
	records := make([]Notification, 0, len(s.records))
	counts := NewCounts()
	for _, e := range s.records {
		records = append(records, e.rec.clone())
		if !e.rec.Read {
			counts.ByDomain[e.rec.Domain]++
			counts.Total++
		}
	}
	sort.Slice(records, func(i, j int) bool { return less(records[i], records[j]) })

	snap := Snapshot{
		Revision:  s.revision,
		Records:   records,
		Counts:    counts,
		Stale:     s.stale,
		LastError: s.lastErr,
	}
	if s.syncedAt != nil {
		t := *s.syncedAt
		snap.SyncedAt = &t
	}
	if s.upstream != nil {
		u := s.upstream.clone()
		snap.Upstream = &u
	}
	return snap
}

// unlockAndPublish hands the state lock over to the publish lock so
// snapshots reach subscribers in the order they were produced.
func (s *Store) unlockAndPublish(snap Snapshot) {
	s.pubMu.Lock()
	s.mu.Unlock()
	defer s.pubMu.Unlock()
	if s.publisher != nil {
		s.publisher.Publish(snap)
	}
}

// less orders records newest first. Records with an estimated timestamp
// come before everything else.
func less(a, b Notification) bool {
	if a.TimestampEstimated != b.TimestampEstimated {
		return a.TimestampEstimated
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	pa, pb := priorityOf(a), priorityOf(b)
	if pa != pb {
		return pa > pb
	}
	if a.Domain != b.Domain {
		return domainIndex(a.Domain) < domainIndex(b.Domain)
	}
	return a.ID < b.ID
}

func priorityOf(n Notification) int {
	if n.Priority == nil {
		return 0
	}
	return *n.Priority
}

func domainIndex(d Domain) int {
	for i, known := range Domains {
		if known == d {
			return i
		}
	}
	return len(Domains)
}

func sameRecord(a, b Notification) bool {
	a.Issues, b.Issues = nil, nil
	return reflect.DeepEqual(a, b)
}
