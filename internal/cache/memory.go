package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	fields  map[string]string
	list    []string
	members map[string]struct{}
	expires time.Time
}

func (e *memEntry) empty() bool {
	return len(e.fields) == 0 && len(e.list) == 0 && len(e.members) == 0
}

// MemoryStore is an in-process Store with lazy expiration. It is used for
// single-run scans and as the cache double in tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock replaces the wall clock, letting tests simulate TTL elapse
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live returns the entry at key, dropping it if it has expired.
// Caller must hold s.mu.
func (s *MemoryStore) live(key string) *memEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// touch returns the live entry at key, creating it if needed, and resets its
// expiration. Caller must hold s.mu.
func (s *MemoryStore) touch(key string) *memEntry {
	e := s.live(key)
	if e == nil {
		e = &memEntry{}
		s.entries[key] = e
	}
	e.expires = s.now().Add(s.ttl)
	return e
}

// Write applies a batch under a single lock
func (s *MemoryStore) Write(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range b.ops {
		switch o.kind {
		case opPutFields:
			if len(o.fields) == 0 {
				continue
			}
			e := s.touch(o.key)
			if e.fields == nil {
				e.fields = make(map[string]string, len(o.fields))
			}
			for k, v := range o.fields {
				e.fields[k] = v
			}

		case opReplaceList:
			delete(s.entries, o.key)
			if len(o.values) == 0 {
				continue
			}
			e := s.touch(o.key)
			e.list = append([]string(nil), o.values...)

		case opReplaceMembers, opAddMembers:
			if o.kind == opReplaceMembers {
				delete(s.entries, o.key)
			}
			if len(o.values) == 0 {
				continue
			}
			e := s.touch(o.key)
			if e.members == nil {
				e.members = make(map[string]struct{}, len(o.values))
			}
			for _, v := range o.values {
				e.members[v] = struct{}{}
			}

		case opDeleteFields:
			e := s.live(o.key)
			if e == nil {
				continue
			}
			for _, f := range o.values {
				delete(e.fields, f)
			}
			if e.empty() {
				delete(s.entries, o.key)
			}
		}
	}
	return nil
}

// Fields returns the present subset of the requested fields
func (s *MemoryStore) Fields(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(fields))
	e := s.live(key)
	if e == nil {
		return out, nil
	}
	for _, f := range fields {
		if v, ok := e.fields[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

// List returns a copy of the list at key
func (s *MemoryStore) List(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return nil, nil
	}
	return append([]string(nil), e.list...), nil
}

// Members returns the set at key in no particular order
func (s *MemoryStore) Members(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return nil, nil
	}
	out := make([]string, 0, len(e.members))
	for m := range e.members {
		out = append(out, m)
	}
	return out, nil
}

// Exists reports whether key holds live data
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key) != nil, nil
}

// TTL returns the expiration window
func (s *MemoryStore) TTL() time.Duration {
	return s.ttl
}

// Len returns the number of live keys
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.entries {
		if s.live(key) != nil {
			n++
		}
	}
	return n
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
