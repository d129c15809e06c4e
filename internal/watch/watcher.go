// Package watch drives the pipeline: it records a diff in the entity cache
// and evaluates every changeset the diff touched against a region.
package watch

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/changepipe/internal/entity"
	"github.com/wegman-software/changepipe/internal/logger"
	"github.com/wegman-software/changepipe/internal/metrics"
	"github.com/wegman-software/changepipe/internal/osc"
	"github.com/wegman-software/changepipe/internal/overlap"
	"github.com/wegman-software/changepipe/internal/region"
)

// Observer records edit-stream elements
type Observer interface {
	Observe(ctx context.Context, el entity.Element) error
}

// Evaluator decides overlap for one changeset
type Evaluator interface {
	Evaluate(ctx context.Context, r region.Region, changesetID int64) overlap.Decision
}

// Stats tracks the work done for one diff
type Stats struct {
	NodesObserved     int64
	WaysObserved      int64
	RelationsObserved int64
	Changesets        int
	Overlapping       int
	ObserveDuration   time.Duration
	EvaluateDuration  time.Duration
}

// Result is the outcome of processing one diff
type Result struct {
	Decisions []overlap.Decision // sorted by changeset id
	Stats     Stats
}

// Watcher observes diffs and evaluates their changesets
type Watcher struct {
	observer  Observer
	evaluator Evaluator
	workers   int
	log       *zap.Logger
}

// NewWatcher creates a watcher running up to workers evaluations at once
func NewWatcher(observer Observer, evaluator Evaluator, workers int) *Watcher {
	if workers < 1 {
		workers = 1
	}
	return &Watcher{
		observer:  observer,
		evaluator: evaluator,
		workers:   workers,
		log:       logger.Named("watch"),
	}
}

// Process observes a diff and evaluates all changesets it references
func (w *Watcher) Process(ctx context.Context, r region.Region, diff *osc.Diff) (*Result, error) {
	stats := Stats{}

	start := time.Now()
	if err := w.Observe(ctx, diff, &stats); err != nil {
		return nil, err
	}
	stats.ObserveDuration = time.Since(start)

	start = time.Now()
	decisions, err := w.Evaluate(ctx, r, diff.Changesets())
	if err != nil {
		return nil, err
	}
	stats.EvaluateDuration = time.Since(start)
	stats.Changesets = len(decisions)
	for _, d := range decisions {
		if d.Overlaps {
			stats.Overlapping++
		}
	}

	w.log.Info("Processed diff",
		zap.Int64("nodes", stats.NodesObserved),
		zap.Int64("ways", stats.WaysObserved),
		zap.Int64("relations", stats.RelationsObserved),
		zap.Int("changesets", stats.Changesets),
		zap.Int("overlapping", stats.Overlapping),
		zap.Duration("observe", stats.ObserveDuration),
		zap.Duration("evaluate", stats.EvaluateDuration))

	return &Result{Decisions: decisions, Stats: stats}, nil
}

// Observe records every element of the diff: all nodes, then all ways, then
// all relations. Ways must see their nodes' changeset membership first. A
// nil stats is allowed.
func (w *Watcher) Observe(ctx context.Context, diff *osc.Diff, stats *Stats) error {
	if stats == nil {
		stats = &Stats{}
	}

	groups := []struct {
		elements []entity.Element
		counter  *int64
	}{
		{diff.Nodes, &stats.NodesObserved},
		{diff.Ways, &stats.WaysObserved},
		{diff.Relations, &stats.RelationsObserved},
	}

	for _, g := range groups {
		for _, el := range g.elements {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err := w.observer.Observe(ctx, el); err != nil {
				return fmt.Errorf("failed to observe diff: %w", err)
			}
			metrics.ElementsObserved.WithLabelValues(el.Ref.Kind.String()).Inc()
			*g.counter++
		}
	}
	return nil
}

// Evaluate decides overlap for each changeset id. Evaluations run
// concurrently; the decisions come back sorted by changeset id.
func (w *Watcher) Evaluate(ctx context.Context, r region.Region, ids []int64) ([]overlap.Decision, error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	decisions := make([]overlap.Decision, len(ids))

	var g errgroup.Group
	g.SetLimit(w.workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			decisions[i] = w.evaluator.Evaluate(ctx, r, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return decisions, nil
}
