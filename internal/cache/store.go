// Package cache holds the entity store: an expiring key-value cache of
// per-entity field groups, ordered reference lists and membership sets.
//
// Every write resets the expiration of the key it touches to the store's
// single TTL. Once a key expires it is indistinguishable from a key that was
// never written.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache lifetimes in use for OSM diff processing
const (
	ShortTTL = time.Hour
	LongTTL  = 24 * time.Hour
)

// Store is the backend contract of the entity cache. Each key holds exactly
// one of a field group, an ordered list or a set.
type Store interface {
	// Write applies all operations of a batch as one group
	Write(ctx context.Context, b *Batch) error

	// Fields returns the requested fields that are present for key
	Fields(ctx context.Context, key string, fields ...string) (map[string]string, error)

	// List returns the ordered list stored at key
	List(ctx context.Context, key string) ([]string, error)

	// Members returns the set stored at key
	Members(ctx context.Context, key string) ([]string, error)

	// Exists reports whether key holds live data
	Exists(ctx context.Context, key string) (bool, error)

	// TTL returns the expiration window applied by every write
	TTL() time.Duration

	Close() error
}

type opKind uint8

const (
	opPutFields opKind = iota
	opReplaceList
	opAddMembers
	opReplaceMembers
	opDeleteFields
)

type op struct {
	kind   opKind
	key    string
	fields map[string]string
	values []string
}

// Batch collects writes for one observed element so a backend can issue them
// as a single grouped operation
type Batch struct {
	ops []op
}

// NewBatch creates an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

// PutFields merges fields into the field group at key
func (b *Batch) PutFields(key string, fields map[string]string) *Batch {
	b.ops = append(b.ops, op{kind: opPutFields, key: key, fields: fields})
	return b
}

// ReplaceList clears the list at key and rewrites it with values in order
func (b *Batch) ReplaceList(key string, values []string) *Batch {
	b.ops = append(b.ops, op{kind: opReplaceList, key: key, values: values})
	return b
}

// AddMembers adds values to the set at key
func (b *Batch) AddMembers(key string, values ...string) *Batch {
	b.ops = append(b.ops, op{kind: opAddMembers, key: key, values: values})
	return b
}

// ReplaceMembers clears the set at key and rewrites it with values
func (b *Batch) ReplaceMembers(key string, values []string) *Batch {
	b.ops = append(b.ops, op{kind: opReplaceMembers, key: key, values: values})
	return b
}

// DeleteFields removes fields from the field group at key without touching
// its expiration
func (b *Batch) DeleteFields(key string, fields ...string) *Batch {
	b.ops = append(b.ops, op{kind: opDeleteFields, key: key, values: fields})
	return b
}

// Len returns the number of queued operations
func (b *Batch) Len() int {
	return len(b.ops)
}

// Backend names accepted by Open
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ParseBackend validates a backend name
func ParseBackend(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case BackendMemory, "mem":
		return BackendMemory, nil
	case BackendRedis:
		return BackendRedis, nil
	case BackendPostgres, "postgresql", "pg":
		return BackendPostgres, nil
	}
	return "", fmt.Errorf("unknown store backend %q (memory, redis, postgres)", s)
}
