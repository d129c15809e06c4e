// Package changeset resolves changeset bounding boxes and ownership
// metadata, reading the cache first and the remote service second.
package changeset

import (
	"context"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/changepipe/internal/cache"
	"github.com/wegman-software/changepipe/internal/entity"
	"github.com/wegman-software/changepipe/internal/logger"
	"github.com/wegman-software/changepipe/internal/metrics"
)

// Remote fetches changeset metadata and writes it to the cache
type Remote interface {
	FetchChangeset(ctx context.Context, id int64) (entity.Changeset, error)
}

// Resolver answers changeset metadata queries
type Resolver struct {
	cache  *cache.Entities
	remote Remote
	log    *zap.Logger
}

// NewResolver creates a changeset resolver. remote may be nil.
func NewResolver(entities *cache.Entities, remote Remote) *Resolver {
	return &Resolver{
		cache:  entities,
		remote: remote,
		log:    logger.Named("changeset"),
	}
}

// Bounds returns the changeset bounding box. When any corner is missing and
// allowRemote is set, the metadata is fetched, cached and read back.
func (r *Resolver) Bounds(ctx context.Context, id int64, allowRemote bool) (orb.Bound, bool) {
	cs := r.cached(ctx, id)
	metrics.CacheLookups.WithLabelValues("changeset", metrics.CacheResult(cs.HasBounds)).Inc()
	if cs.HasBounds || !allowRemote || !r.fetch(ctx, id) {
		return cs.Bounds, cs.HasBounds
	}

	cs = r.cached(ctx, id)
	return cs.Bounds, cs.HasBounds
}

// Info returns the owning user and creation time of a changeset. The result
// may be partial when neither the cache nor the service knows every field.
func (r *Resolver) Info(ctx context.Context, id int64, allowRemote bool) entity.Changeset {
	cs := r.cached(ctx, id)
	if (cs.User != "" && !cs.CreatedAt.IsZero()) || !allowRemote || !r.fetch(ctx, id) {
		return cs
	}
	return r.cached(ctx, id)
}

func (r *Resolver) cached(ctx context.Context, id int64) entity.Changeset {
	cs, err := r.cache.Changeset(ctx, id)
	if err != nil {
		r.log.Warn("Failed to read cached changeset", zap.Int64("changeset", id), zap.Error(err))
		return entity.Changeset{ID: id}
	}
	return cs
}

func (r *Resolver) fetch(ctx context.Context, id int64) bool {
	if r.remote == nil {
		return false
	}
	if _, err := r.remote.FetchChangeset(ctx, id); err != nil {
		r.log.Warn("Failed to resolve changeset", zap.Int64("changeset", id), zap.Error(err))
		return false
	}
	return true
}
