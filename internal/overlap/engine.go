// Package overlap decides whether a changeset touches a region of interest.
//
// Evaluation runs up to two passes over the changeset: the first uses cached
// data only, the second may call the remote service. Each pass tries the
// changeset bounding box first, then the member nodes and ways in ascending
// id order. A resolved geometry inside the region proves overlap; one that
// lies beyond the near buffer ends evaluation with no overlap.
package overlap

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/changepipe/internal/entity"
	"github.com/wegman-software/changepipe/internal/logger"
	"github.com/wegman-software/changepipe/internal/metrics"
	"github.com/wegman-software/changepipe/internal/region"
)

// Reason names the check that decided an evaluation
type Reason string

const (
	ReasonBoundsDisjoint  Reason = "bounds-disjoint"
	ReasonBoundsWithin    Reason = "bounds-within"
	ReasonPointIntersects Reason = "point-intersects"
	ReasonPointFar        Reason = "point-far"
	ReasonWayIntersects   Reason = "way-intersects"
	ReasonWayFar          Reason = "way-far"
	ReasonExhausted       Reason = "exhausted"
)

// Decision is the outcome of one evaluation
type Decision struct {
	Changeset int64
	Overlaps  bool
	Reason    Reason
	Pass      int // 1 = cache only, 2 = remote allowed
	Checked   int // nodes and ways with known geometry, over all passes
}

// String renders the decision for logs and the check command
func (d Decision) String() string {
	return fmt.Sprintf("changeset %d: overlaps=%v reason=%s pass=%d checked=%d",
		d.Changeset, d.Overlaps, d.Reason, d.Pass, d.Checked)
}

// Geometry builds node and way geometry
type Geometry interface {
	Point(ctx context.Context, id int64, allowRemote bool) (orb.Point, bool)
	Way(ctx context.Context, id int64, allowRemote bool) (orb.MultiPoint, bool)
}

// Bounds resolves changeset bounding boxes
type Bounds interface {
	Bounds(ctx context.Context, id int64, allowRemote bool) (orb.Bound, bool)
}

// Items lists the members of a changeset
type Items interface {
	Items(ctx context.Context, changesetID int64) (entity.Items, error)
}

// Engine evaluates changesets against regions. It holds no per-call state
// and may be shared by concurrent evaluations.
type Engine struct {
	items      Items
	geometry   Geometry
	bounds     Bounds
	nearBuffer float64
	log        *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithNearBuffer overrides the "too far" cutoff distance in degrees
func WithNearBuffer(d float64) Option {
	return func(e *Engine) {
		e.nearBuffer = d
	}
}

// NewEngine creates an overlap engine
func NewEngine(items Items, geometry Geometry, bounds Bounds, opts ...Option) *Engine {
	e := &Engine{
		items:      items,
		geometry:   geometry,
		bounds:     bounds,
		nearBuffer: region.DefaultNearBuffer,
		log:        logger.Named("overlap"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Overlaps reports whether the changeset touches the region
func (e *Engine) Overlaps(ctx context.Context, r region.Region, changesetID int64) bool {
	return e.Evaluate(ctx, r, changesetID).Overlaps
}

// Evaluate decides overlap and reports how the decision was reached. Remote
// failures never surface here; they leave the affected entity unknown.
func (e *Engine) Evaluate(ctx context.Context, r region.Region, changesetID int64) Decision {
	start := time.Now()

	items, err := e.items.Items(ctx, changesetID)
	if err != nil {
		e.log.Warn("Failed to read changeset items", zap.Int64("changeset", changesetID), zap.Error(err))
	}
	slices.Sort(items.Nodes)
	slices.Sort(items.Ways)
	if len(items.Relations) > 0 {
		e.log.Debug("Relations are not geometrically resolved",
			zap.Int64("changeset", changesetID), zap.Int("relations", len(items.Relations)))
	}

	ev := &evaluation{
		Engine: e,
		region: r,
		near:   r.Buffer(e.nearBuffer),
		items:  items,
		d:      Decision{Changeset: changesetID, Reason: ReasonExhausted},
	}

	for pass, allowRemote := range []bool{false, true} {
		ev.d.Pass = pass + 1
		if ev.run(ctx, allowRemote) {
			break
		}
	}

	metrics.Decisions.WithLabelValues(string(ev.d.Reason), strconv.FormatBool(ev.d.Overlaps)).Inc()
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	e.log.Debug("Overlap decided",
		zap.Int64("changeset", changesetID),
		zap.Bool("overlaps", ev.d.Overlaps),
		zap.String("reason", string(ev.d.Reason)),
		zap.Int("pass", ev.d.Pass),
		zap.Int("checked", ev.d.Checked),
		zap.String("region", r.Name))

	return ev.d
}

// evaluation carries the state of one Evaluate call across passes
type evaluation struct {
	*Engine
	region region.Region
	near   region.Region
	items  entity.Items
	d      Decision
}

// run performs a single pass and reports whether it reached a decision
func (ev *evaluation) run(ctx context.Context, allowRemote bool) bool {
	id := ev.d.Changeset

	if b, ok := ev.bounds.Bounds(ctx, id, allowRemote); ok {
		if ev.region.Disjoint(b) {
			return ev.decide(false, ReasonBoundsDisjoint)
		}
		if ev.region.ContainsBound(b) {
			return ev.decide(true, ReasonBoundsWithin)
		}
	}

	for _, nodeID := range ev.items.Nodes {
		p, ok := ev.geometry.Point(ctx, nodeID, allowRemote)
		if !ok {
			continue
		}
		ev.d.Checked++
		if ev.region.ContainsPoint(p) {
			return ev.decide(true, ReasonPointIntersects)
		}
		if !ev.near.ContainsPoint(p) {
			return ev.decide(false, ReasonPointFar)
		}
	}

	for _, wayID := range ev.items.Ways {
		mp, ok := ev.geometry.Way(ctx, wayID, allowRemote)
		if !ok {
			continue
		}
		ev.d.Checked++
		if ev.region.Intersects(mp) {
			return ev.decide(true, ReasonWayIntersects)
		}
		if !ev.near.Within(mp) {
			return ev.decide(false, ReasonWayFar)
		}
	}

	return false
}

func (ev *evaluation) decide(overlaps bool, reason Reason) bool {
	ev.d.Overlaps = overlaps
	ev.d.Reason = reason
	return true
}
