package osmapi

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/changepipe/internal/cache"
	"github.com/wegman-software/changepipe/internal/entity"
	"github.com/wegman-software/changepipe/internal/logger"
)

// MaxBatchSize is the most node ids the API accepts per /nodes call
const MaxBatchSize = 10

// DefaultBatchSize is the number of node ids requested per /nodes call
const DefaultBatchSize = MaxBatchSize

// ResolverOptions tunes node page fetching
type ResolverOptions struct {
	BatchSize   int // ids per /nodes call, at most MaxBatchSize
	Concurrency int // pages in flight at once
}

// Resolver fetches entities from the API and writes every successful
// result back into the cache.
type Resolver struct {
	client      *Client
	cache       *cache.Entities
	batchSize   int
	concurrency int
}

// NewResolver creates a write-through resolver
func NewResolver(client *Client, entities *cache.Entities, opts ResolverOptions) *Resolver {
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatchSize {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Resolver{
		client:      client,
		cache:       entities,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
	}
}

// FetchNode fetches a single node and caches it
func (r *Resolver) FetchNode(ctx context.Context, id int64) (entity.Node, error) {
	n, err := r.client.Node(ctx, id)
	if err != nil {
		return entity.Node{}, err
	}
	r.writeNodes(ctx, n)
	return n, nil
}

// FetchNodesBatch fetches nodes in pages of the configured batch size. Pages
// are fetched concurrently and joined before returning; the result follows
// the order of ids.
func (r *Resolver) FetchNodesBatch(ctx context.Context, ids []int64) ([]entity.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	numPages := (len(ids) + r.batchSize - 1) / r.batchSize
	pages := make([][]entity.Node, numPages)

	// In-flight pages run to completion even if a sibling fails
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i := 0; i < numPages; i++ {
		start := i * r.batchSize
		end := min(start+r.batchSize, len(ids))
		page := ids[start:end]
		i := i

		g.Go(func() error {
			nodes, err := r.client.Nodes(ctx, page)
			if err != nil {
				return fmt.Errorf("node page %d: %w", i, err)
			}
			r.writeNodes(ctx, nodes...)
			pages[i] = nodes
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[int64]entity.Node, len(ids))
	for _, page := range pages {
		for _, n := range page {
			byID[n.ID] = n
		}
	}
	return orderNodes(ids, byID), nil
}

// FetchWayFull resolves a way and its nodes. A way the API reports as deleted
// or answers with an unusable document is rebuilt from its previous version,
// which requires the current version to be cached.
func (r *Resolver) FetchWayFull(ctx context.Context, id int64) ([]entity.Node, error) {
	res, err := r.client.WayFull(ctx, id)
	if err != nil {
		return nil, err
	}

	switch res.Outcome {
	case OutcomeOK:
		way := findWay(res.Doc, id)
		if way == nil {
			return r.fromHistory(ctx, id, res.URL)
		}
		refs := wayRefs(way)
		nodes := visibleNodes(res.Doc.Nodes)

		if err := r.cache.PutWay(ctx, id, way.Version, refs); err != nil {
			logger.Get().Warn("Failed to cache way", zap.Int64("way", id), zap.Error(err))
		}
		r.writeNodes(ctx, nodes...)

		byID := make(map[int64]entity.Node, len(nodes))
		for _, n := range nodes {
			byID[n.ID] = n
		}
		return orderNodes(uniqueRefs(refs), byID), nil

	case OutcomeDeleted, OutcomeMalformed:
		return r.fromHistory(ctx, id, res.URL)
	}

	return nil, res.Err()
}

// fromHistory rebuilds a way from the version before the cached one
func (r *Resolver) fromHistory(ctx context.Context, id int64, url string) ([]entity.Node, error) {
	version, ok, err := r.cache.Version(ctx, entity.WayRef(id))
	if err != nil {
		return nil, fmt.Errorf("way %d: %w", id, err)
	}
	if !ok || version <= 1 {
		return nil, fmt.Errorf("%s: way %d: %w", url, id, ErrHistoryUnavailable)
	}

	logger.Get().Debug("Resolving way from history",
		zap.Int64("way", id), zap.Int("version", version-1))

	refs, err := r.client.WayVersion(ctx, id, version-1)
	if err != nil {
		return nil, fmt.Errorf("way %d history: %w", id, err)
	}
	return r.FetchNodesBatch(ctx, uniqueRefs(refs))
}

func (r *Resolver) writeNodes(ctx context.Context, nodes ...entity.Node) {
	if err := r.cache.PutNodes(ctx, nodes...); err != nil {
		logger.Get().Warn("Failed to cache nodes", zap.Int("count", len(nodes)), zap.Error(err))
	}
}

// FetchChangeset fetches changeset metadata and caches it
func (r *Resolver) FetchChangeset(ctx context.Context, id int64) (entity.Changeset, error) {
	cs, err := r.client.Changeset(ctx, id)
	if err != nil {
		return entity.Changeset{}, err
	}
	if err := r.cache.PutChangeset(ctx, cs); err != nil {
		logger.Get().Warn("Failed to cache changeset", zap.Int64("changeset", id), zap.Error(err))
	}
	return cs, nil
}

// uniqueRefs drops repeated references, keeping first occurrence order
func uniqueRefs(refs []int64) []int64 {
	seen := make(map[int64]struct{}, len(refs))
	out := make([]int64, 0, len(refs))
	for _, id := range refs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// orderNodes returns the known nodes in the order of ids
func orderNodes(ids []int64, byID map[int64]entity.Node) []entity.Node {
	out := make([]entity.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			out = append(out, n)
		}
	}
	return out
}
