package geometry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/wegman-software/changepipe/internal/cache"
	"github.com/wegman-software/changepipe/internal/entity"
)

// fakeRemote answers from fixed tables and counts calls
type fakeRemote struct {
	mu        sync.Mutex
	nodes     map[int64]entity.Node
	ways      map[int64][]entity.Node
	nodeCalls int
	wayCalls  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nodes: make(map[int64]entity.Node),
		ways:  make(map[int64][]entity.Node),
	}
}

func (f *fakeRemote) FetchNode(ctx context.Context, id int64) (entity.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodeCalls++
	n, ok := f.nodes[id]
	if !ok {
		return entity.Node{}, errors.New("not found")
	}
	return n, nil
}

func (f *fakeRemote) FetchWayFull(ctx context.Context, id int64) ([]entity.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wayCalls++
	nodes, ok := f.ways[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return nodes, nil
}

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func node(id int64, lon, lat float64) entity.Node {
	return entity.Node{ID: id, Version: 1, Lat: lat, Lon: lon}
}

func TestPointFromCacheNeverFetches(t *testing.T) {
	ctx := context.Background()
	entities := cache.NewEntities(cache.NewMemoryStore(cache.LongTTL))
	remote := newFakeRemote()
	b := NewBuilder(entities, remote)

	entities.PutNodes(ctx, node(1, 13.4, 52.5))

	for _, allowRemote := range []bool{false, true} {
		p, ok := b.Point(ctx, 1, allowRemote)
		if !ok || !p.Equal(orb.Point{13.4, 52.5}) {
			t.Errorf("Point(1, %v) = %v, %v", allowRemote, p, ok)
		}
	}
	if remote.nodeCalls != 0 {
		t.Errorf("remote node calls = %d, want 0", remote.nodeCalls)
	}
}

func TestPointRemoteFallback(t *testing.T) {
	ctx := context.Background()
	entities := cache.NewEntities(cache.NewMemoryStore(cache.LongTTL))
	remote := newFakeRemote()
	remote.nodes[2] = node(2, 1, 2)
	b := NewBuilder(entities, remote)

	if _, ok := b.Point(ctx, 2, false); ok {
		t.Error("uncached point resolved without remote")
	}
	if remote.nodeCalls != 0 {
		t.Errorf("remote node calls = %d, want 0", remote.nodeCalls)
	}

	p, ok := b.Point(ctx, 2, true)
	if !ok || !p.Equal(orb.Point{1, 2}) {
		t.Errorf("Point(2, true) = %v, %v", p, ok)
	}

	// Remote failure is absent geometry, not an error
	if _, ok := b.Point(ctx, 3, true); ok {
		t.Error("unknown remote point must be absent")
	}
}

func TestWaySufficientFractionNoFetch(t *testing.T) {
	tests := []struct {
		name      string
		cached    []int64 // node ids with cached coordinates
		refs      []int64
		wantFetch bool
		wantLen   int
	}{
		{"all known", []int64{1, 2, 3}, []int64{1, 2, 3}, false, 3},
		{"exactly a third", []int64{1, 2}, []int64{1, 2, 3, 4, 5, 6}, false, 2},
		{"below a third", []int64{1, 2}, []int64{1, 2, 3, 4, 5, 6, 7}, true, 3},
		{"single known", []int64{1}, []int64{1, 2}, true, 3},
		{"none known", nil, []int64{1, 2, 3}, true, 3},
		{"uncached way", nil, nil, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			entities := cache.NewEntities(cache.NewMemoryStore(cache.LongTTL))
			remote := newFakeRemote()
			remote.ways[10] = []entity.Node{node(1, 1, 1), node(2, 2, 2), node(3, 3, 3)}
			b := NewBuilder(entities, remote)

			for _, id := range tt.cached {
				entities.PutNodes(ctx, node(id, float64(id), float64(id)))
			}
			if tt.refs != nil {
				entities.PutWay(ctx, 10, 1, tt.refs)
			}

			mp, ok := b.Way(ctx, 10, true)
			if !ok {
				t.Fatal("way geometry absent")
			}
			if got := remote.wayCalls > 0; got != tt.wantFetch {
				t.Errorf("fetched = %v, want %v", got, tt.wantFetch)
			}
			if len(mp) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(mp), tt.wantLen)
			}
		})
	}
}

func TestWayCacheOnly(t *testing.T) {
	ctx := context.Background()
	entities := cache.NewEntities(cache.NewMemoryStore(cache.LongTTL))
	remote := newFakeRemote()
	b := NewBuilder(entities, remote)

	entities.PutNodes(ctx, node(1, 1, 1))
	entities.PutWay(ctx, 10, 1, []int64{1, 2, 3})

	mp, ok := b.Way(ctx, 10, false)
	if !ok || len(mp) != 1 {
		t.Errorf("Way(10, false) = %v, %v; want one point", mp, ok)
	}
	if remote.wayCalls != 0 {
		t.Errorf("remote way calls = %d, want 0", remote.wayCalls)
	}

	if _, ok := b.Way(ctx, 11, false); ok {
		t.Error("uncached way must be absent")
	}
}

func TestWayRemoteFailureIsAbsent(t *testing.T) {
	ctx := context.Background()
	entities := cache.NewEntities(cache.NewMemoryStore(cache.LongTTL))
	b := NewBuilder(entities, newFakeRemote())

	entities.PutNodes(ctx, node(1, 1, 1))
	entities.PutWay(ctx, 12, 1, []int64{1, 2, 3, 4})

	if mp, ok := b.Way(ctx, 12, true); ok {
		t.Errorf("Way(12) = %v, want absent after failed fetch", mp)
	}
}

func TestObserveThenWayHasNoPhantomPoints(t *testing.T) {
	ctx := context.Background()
	entities := cache.NewEntities(cache.NewMemoryStore(cache.LongTTL))
	b := NewBuilder(entities, nil)

	entities.PutNodes(ctx, node(1, 1, 1), node(3, 3, 3))

	err := entities.Observe(ctx, entity.Element{
		Ref:       entity.WayRef(20),
		Version:   2,
		Changeset: 5,
		NodeRefs:  []int64{1, 2, 3, 4},
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}

	mp, ok := b.Way(ctx, 20, false)
	if !ok {
		t.Fatal("way geometry absent")
	}
	want := orb.MultiPoint{{1, 1}, {3, 3}}
	if !mp.Equal(want) {
		t.Errorf("Way(20) = %v, want %v", mp, want)
	}
}

func TestExpiredBehavesLikeUncached(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	entities := cache.NewEntities(cache.NewMemoryStore(cache.ShortTTL, cache.WithClock(clock.Now)))
	remote := newFakeRemote()
	remote.nodes[1] = node(1, 9, 9)
	remote.ways[10] = []entity.Node{node(1, 9, 9), node(2, 8, 8)}
	b := NewBuilder(entities, remote)

	entities.PutNodes(ctx, node(1, 1, 1), node(2, 2, 2))
	entities.PutWay(ctx, 10, 1, []int64{1, 2})

	clock.advance(cache.ShortTTL)

	if _, ok := b.Point(ctx, 1, false); ok {
		t.Error("expired point resolved from cache")
	}
	if _, ok := b.Way(ctx, 10, false); ok {
		t.Error("expired way resolved from cache")
	}

	p, ok := b.Point(ctx, 1, true)
	if !ok || !p.Equal(orb.Point{9, 9}) {
		t.Errorf("Point after expiry = %v, %v; want remote value", p, ok)
	}
	mp, ok := b.Way(ctx, 10, true)
	if !ok || len(mp) != 2 || remote.wayCalls != 1 {
		t.Errorf("Way after expiry = %v, %v (calls %d)", mp, ok, remote.wayCalls)
	}
}

func TestSufficient(t *testing.T) {
	tests := []struct {
		resolved, total int
		want            bool
	}{
		{0, 0, false},
		{1, 1, false},
		{2, 2, true},
		{2, 6, true},
		{2, 7, false},
		{10, 30, true},
		{10, 31, false},
	}
	for _, tt := range tests {
		if got := Sufficient(tt.resolved, tt.total); got != tt.want {
			t.Errorf("Sufficient(%d, %d) = %v, want %v", tt.resolved, tt.total, got, tt.want)
		}
	}
}
