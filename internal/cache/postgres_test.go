package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// newTestPostgresStore connects to CHANGEPIPE_TEST_DATABASE_URL and starts
// from empty cache tables. The store clock is driven by the returned fakeClock.
func newTestPostgresStore(t *testing.T, ttl time.Duration) (*PostgresStore, *fakeClock) {
	t.Helper()
	connString := os.Getenv("CHANGEPIPE_TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("CHANGEPIPE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool, "public", ttl)
	if err := s.EnsureTables(ctx, true); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}

	clock := newFakeClock()
	s.now = clock.Now
	return s, clock
}

func TestPostgresStoreListOverwrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestPostgresStore(t, time.Hour)

	s.Write(ctx, NewBatch().ReplaceList("way-1-nodes", []string{"1", "2", "3", "1"}))
	s.Write(ctx, NewBatch().ReplaceList("way-1-nodes", []string{"4", "5"}))

	got, err := s.List(ctx, "way-1-nodes")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0] != "4" || got[1] != "5" {
		t.Errorf("List = %v, want [4 5]", got)
	}

	s.Write(ctx, NewBatch().ReplaceList("way-1-nodes", nil))
	if ok, _ := s.Exists(ctx, "way-1-nodes"); ok {
		t.Error("empty list should remove the key")
	}
}

func TestPostgresStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestPostgresStore(t, time.Hour)

	err := s.Write(ctx, NewBatch().
		PutFields("changeset-42", map[string]string{"min_lat": "1", "user": "alice"}).
		AddMembers("changeset-42-items", "node-1"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Deleting fields must not push the expiry out
	clock.Advance(30 * time.Minute)
	if err := s.Write(ctx, NewBatch().DeleteFields("changeset-42", "min_lat")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	vals, _ := s.Fields(ctx, "changeset-42", "min_lat", "user")
	if _, ok := vals["min_lat"]; ok || vals["user"] != "alice" {
		t.Errorf("Fields = %v, want only user", vals)
	}

	clock.Advance(31 * time.Minute)
	for _, key := range []string{"changeset-42", "changeset-42-items"} {
		if ok, err := s.Exists(ctx, key); ok || err != nil {
			t.Errorf("Exists(%s) after expiry = %v, %v, want false", key, ok, err)
		}
	}
	if vals, _ := s.Fields(ctx, "changeset-42", "user"); len(vals) != 0 {
		t.Errorf("Fields after expiry = %v, want empty", vals)
	}

	// Writing to an expired key starts it fresh
	s.Write(ctx, NewBatch().AddMembers("changeset-42-items", "way-2"))
	got, _ := s.Members(ctx, "changeset-42-items")
	if len(got) != 1 || got[0] != "way-2" {
		t.Errorf("Members = %v, want [way-2]", got)
	}

	removed, err := s.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 1 {
		t.Errorf("Purge removed %v keys, want 1", removed)
	}
	if ok, _ := s.Exists(ctx, "changeset-42-items"); !ok {
		t.Error("live key removed by Purge")
	}
}
