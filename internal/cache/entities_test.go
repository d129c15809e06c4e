package cache

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/wegman-software/changepipe/internal/entity"
)

func TestEntitiesNode(t *testing.T) {
	ctx := context.Background()
	e := NewEntities(NewMemoryStore(LongTTL))

	if _, ok, err := e.Node(ctx, 1); ok || err != nil {
		t.Fatalf("uncached node: ok=%v err=%v", ok, err)
	}

	if err := e.PutNodes(ctx, entity.Node{ID: 1, Version: 4, Lat: 52.5, Lon: 13.4}); err != nil {
		t.Fatalf("PutNodes: %v", err)
	}

	n, ok, err := e.Node(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("Node(1): ok=%v err=%v", ok, err)
	}
	if n.Lat != 52.5 || n.Lon != 13.4 || n.Version != 4 {
		t.Errorf("Node(1) = %+v", n)
	}

	// A node with only a version is cached but has no geometry
	e.Put(ctx, entity.NodeRef(2), map[string]string{entity.FieldVersion: "1"})
	if ok, _ := e.Exists(ctx, entity.NodeRef(2)); !ok {
		t.Error("node 2 should exist")
	}
	if _, ok, _ := e.Node(ctx, 2); ok {
		t.Error("node without coordinates must not report a location")
	}
}

func TestEntitiesWay(t *testing.T) {
	ctx := context.Background()
	e := NewEntities(NewMemoryStore(LongTTL))

	if err := e.PutWay(ctx, 10, 3, []int64{1, 2, 3, 1}); err != nil {
		t.Fatalf("PutWay: %v", err)
	}
	if err := e.PutReferenceList(ctx, entity.WayRef(10), []int64{5, 6}); err != nil {
		t.Fatalf("PutReferenceList: %v", err)
	}

	refs, err := e.WayNodes(ctx, 10)
	if err != nil {
		t.Fatalf("WayNodes: %v", err)
	}
	if len(refs) != 2 || refs[0] != 5 || refs[1] != 6 {
		t.Errorf("WayNodes = %v, want [5 6]", refs)
	}

	v, ok, err := e.Version(ctx, entity.WayRef(10))
	if err != nil || !ok || v != 3 {
		t.Errorf("Version = %d, %v, %v; want 3", v, ok, err)
	}
}

func TestEntitiesChangeset(t *testing.T) {
	ctx := context.Background()
	e := NewEntities(NewMemoryStore(LongTTL))
	created := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	cs := entity.Changeset{
		ID:        99,
		User:      "mapper",
		CreatedAt: created,
		Bounds:    orb.Bound{Min: orb.Point{5.8, 47.3}, Max: orb.Point{14.8, 55.0}},
		HasBounds: true,
	}
	if err := e.PutChangeset(ctx, cs); err != nil {
		t.Fatalf("PutChangeset: %v", err)
	}

	got, err := e.Changeset(ctx, 99)
	if err != nil {
		t.Fatalf("Changeset: %v", err)
	}
	if !got.HasBounds || !got.Bounds.Equal(cs.Bounds) {
		t.Errorf("Bounds = %v (has=%v), want %v", got.Bounds, got.HasBounds, cs.Bounds)
	}
	if got.User != "mapper" || !got.CreatedAt.Equal(created) {
		t.Errorf("info = %q %v", got.User, got.CreatedAt)
	}

	if err := e.InvalidateBounds(ctx, 99); err != nil {
		t.Fatalf("InvalidateBounds: %v", err)
	}
	got, _ = e.Changeset(ctx, 99)
	if got.HasBounds {
		t.Error("bounds should be absent after invalidation")
	}
	if got.User != "mapper" {
		t.Error("invalidation must keep user and created_at")
	}
}

func TestObserve(t *testing.T) {
	ctx := context.Background()
	e := NewEntities(NewMemoryStore(LongTTL))

	e.PutChangeset(ctx, entity.Changeset{
		ID:        7,
		Bounds:    orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}},
		HasBounds: true,
	})

	elements := []entity.Element{
		{Ref: entity.NodeRef(1), Version: 2, Changeset: 7, Lat: 1.5, Lon: 2.5, HasCoords: true},
		{Ref: entity.NodeRef(2), Version: 1, Changeset: 7},
		{Ref: entity.WayRef(10), Version: 5, Changeset: 7, NodeRefs: []int64{1, 2, 3}},
		{Ref: entity.RelationRef(20), Version: 1, Changeset: 7, Members: []entity.Ref{entity.WayRef(10), entity.NodeRef(1)}},
	}
	for _, el := range elements {
		if err := e.Observe(ctx, el); err != nil {
			t.Fatalf("Observe(%s): %v", el.Ref, err)
		}
	}

	if n, ok, _ := e.Node(ctx, 1); !ok || n.Lat != 1.5 {
		t.Errorf("node 1 not cached with coordinates: %+v", n)
	}
	if _, ok, _ := e.Node(ctx, 2); ok {
		t.Error("node 2 had no coordinates in the stream")
	}

	refs, _ := e.WayNodes(ctx, 10)
	if len(refs) != 3 {
		t.Errorf("way nodes = %v", refs)
	}

	members, _ := e.RelationMembers(ctx, 20)
	if len(members) != 2 {
		t.Errorf("relation members = %v", members)
	}

	items, _ := e.Items(ctx, 7)
	if len(items.Nodes) != 2 || len(items.Ways) != 1 || len(items.Relations) != 1 {
		t.Errorf("items = %+v", items)
	}

	cs, _ := e.Changeset(ctx, 7)
	if cs.HasBounds {
		t.Error("observing a member must drop the changeset bounds")
	}

	// Re-observing a way replaces its node list
	e.Observe(ctx, entity.Element{Ref: entity.WayRef(10), Version: 6, Changeset: 8, NodeRefs: []int64{4}})
	refs, _ = e.WayNodes(ctx, 10)
	if len(refs) != 1 || refs[0] != 4 {
		t.Errorf("way nodes after re-observe = %v, want [4]", refs)
	}
}

func TestEntitiesExpiredLikeNeverCached(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e := NewEntities(NewMemoryStore(ShortTTL, WithClock(clock.Now)))

	e.Observe(ctx, entity.Element{Ref: entity.NodeRef(1), Version: 1, Changeset: 5, Lat: 1, Lon: 1, HasCoords: true})
	e.Observe(ctx, entity.Element{Ref: entity.WayRef(2), Version: 1, Changeset: 5, NodeRefs: []int64{1}})

	clock.Advance(ShortTTL)

	if _, ok, _ := e.Node(ctx, 1); ok {
		t.Error("expired node still resolves")
	}
	if refs, _ := e.WayNodes(ctx, 2); len(refs) != 0 {
		t.Errorf("expired way nodes = %v", refs)
	}
	if items, _ := e.Items(ctx, 5); items.Len() != 0 {
		t.Errorf("expired items = %+v", items)
	}
	if _, ok, _ := e.Version(ctx, entity.WayRef(2)); ok {
		t.Error("expired version still present")
	}
}
