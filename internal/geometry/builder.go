// Package geometry rebuilds point and multipoint geometry for single
// entities from cached attributes, falling back to the remote resolver when
// the cached view is too thin.
package geometry

import (
	"context"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/changepipe/internal/cache"
	"github.com/wegman-software/changepipe/internal/entity"
	"github.com/wegman-software/changepipe/internal/logger"
	"github.com/wegman-software/changepipe/internal/metrics"
)

// Remote resolves entities the cache cannot answer
type Remote interface {
	FetchNode(ctx context.Context, id int64) (entity.Node, error)
	FetchWayFull(ctx context.Context, id int64) ([]entity.Node, error)
}

// Builder builds entity geometry
type Builder struct {
	cache  *cache.Entities
	remote Remote
	log    *zap.Logger
}

// NewBuilder creates a geometry builder. remote may be nil, in which case
// only cached data is used.
func NewBuilder(entities *cache.Entities, remote Remote) *Builder {
	return &Builder{
		cache:  entities,
		remote: remote,
		log:    logger.Named("geometry"),
	}
}

// Point returns a node location. With allowRemote an uncached node is
// fetched; the result is cached by the resolver.
func (b *Builder) Point(ctx context.Context, id int64, allowRemote bool) (orb.Point, bool) {
	n, ok, err := b.cache.Node(ctx, id)
	if err != nil {
		b.log.Warn("Failed to read cached node", zap.Int64("node", id), zap.Error(err))
	}
	metrics.CacheLookups.WithLabelValues("node", metrics.CacheResult(ok)).Inc()
	if ok {
		return n.Point(), true
	}

	if !allowRemote || b.remote == nil {
		return orb.Point{}, false
	}

	n, err = b.remote.FetchNode(ctx, id)
	if err != nil {
		b.log.Warn("Failed to resolve node", zap.Int64("node", id), zap.Error(err))
		return orb.Point{}, false
	}
	return n.Point(), true
}

// Way returns the known vertices of a way as a multipoint. The cached node
// list is resolved from cache only. With allowRemote the partial result is
// replaced by a full fetch when at most one vertex or less than a third of
// the references are known.
func (b *Builder) Way(ctx context.Context, id int64, allowRemote bool) (orb.MultiPoint, bool) {
	refs, err := b.cache.WayNodes(ctx, id)
	if err != nil {
		b.log.Warn("Failed to read cached way", zap.Int64("way", id), zap.Error(err))
	}

	points := make(orb.MultiPoint, 0, len(refs))
	for _, ref := range refs {
		n, ok, err := b.cache.Node(ctx, ref)
		if err != nil {
			b.log.Warn("Failed to read cached node",
				zap.Int64("way", id), zap.Int64("node", ref), zap.Error(err))
			continue
		}
		if ok {
			points = append(points, n.Point())
		}
	}

	sufficient := Sufficient(len(points), len(refs))
	metrics.CacheLookups.WithLabelValues("way", metrics.CacheResult(sufficient)).Inc()

	if allowRemote && b.remote != nil && !sufficient {
		b.log.Debug("Fetching full way",
			zap.Int64("way", id), zap.Int("resolved", len(points)), zap.Int("refs", len(refs)))

		nodes, err := b.remote.FetchWayFull(ctx, id)
		if err != nil {
			b.log.Warn("Failed to resolve way", zap.Int64("way", id), zap.Error(err))
			return nil, false
		}
		points = points[:0]
		for _, n := range nodes {
			points = append(points, n.Point())
		}
	}

	if len(points) == 0 {
		return nil, false
	}
	return points, true
}

// Sufficient reports whether resolved of total way vertices is good enough
// to test overlap without a full fetch: more than one vertex and at least a
// third of the references.
func Sufficient(resolved, total int) bool {
	if resolved <= 1 {
		return false
	}
	return resolved*3 >= total
}
