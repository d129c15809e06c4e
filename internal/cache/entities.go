package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/changepipe/internal/entity"
	"github.com/wegman-software/changepipe/internal/logger"
)

// Entities is the typed view of a Store used by the resolvers
type Entities struct {
	store Store
}

// NewEntities wraps a store
func NewEntities(store Store) *Entities {
	return &Entities{store: store}
}

// Store returns the underlying backend
func (e *Entities) Store() Store {
	return e.store
}

// Put merges fields into the entity's field group and resets its expiration
func (e *Entities) Put(ctx context.Context, ref entity.Ref, fields map[string]string) error {
	return e.store.Write(ctx, NewBatch().PutFields(ref.Key(), fields))
}

// Get returns a single cached field of an entity
func (e *Entities) Get(ctx context.Context, ref entity.Ref, field string) (string, bool, error) {
	vals, err := e.store.Fields(ctx, ref.Key(), field)
	if err != nil {
		return "", false, err
	}
	v, ok := vals[field]
	return v, ok, nil
}

// PutReferenceList clears and rewrites a way's ordered node list
func (e *Entities) PutReferenceList(ctx context.Context, ref entity.Ref, refs []int64) error {
	return e.store.Write(ctx, NewBatch().ReplaceList(ref.ListKey(), formatIDs(refs)))
}

// AddMember adds an entity to a changeset's item set
func (e *Entities) AddMember(ctx context.Context, changesetID int64, ref entity.Ref) error {
	return e.store.Write(ctx, NewBatch().AddMembers(entity.ChangesetItemsKey(changesetID), ref.String()))
}

// Exists reports whether the entity's field group is cached
func (e *Entities) Exists(ctx context.Context, ref entity.Ref) (bool, error) {
	return e.store.Exists(ctx, ref.Key())
}

// Node returns a cached node. ok is false unless both coordinates are known.
func (e *Entities) Node(ctx context.Context, id int64) (entity.Node, bool, error) {
	ref := entity.NodeRef(id)
	vals, err := e.store.Fields(ctx, ref.Key(), entity.FieldVersion, entity.FieldLat, entity.FieldLon)
	if err != nil {
		return entity.Node{}, false, err
	}

	latStr, hasLat := vals[entity.FieldLat]
	lonStr, hasLon := vals[entity.FieldLon]
	if !hasLat || !hasLon {
		return entity.Node{}, false, nil
	}

	n := entity.Node{ID: id}
	if n.Lat, err = strconv.ParseFloat(latStr, 64); err != nil {
		return entity.Node{}, false, fmt.Errorf("bad cached lat for %s: %w", ref, err)
	}
	if n.Lon, err = strconv.ParseFloat(lonStr, 64); err != nil {
		return entity.Node{}, false, fmt.Errorf("bad cached lon for %s: %w", ref, err)
	}
	if v, ok := vals[entity.FieldVersion]; ok {
		n.Version, _ = strconv.Atoi(v)
	}
	return n, true, nil
}

// PutNodes caches node attributes, all in one batch
func (e *Entities) PutNodes(ctx context.Context, nodes ...entity.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	b := NewBatch()
	for _, n := range nodes {
		b.PutFields(entity.NodeRef(n.ID).Key(), nodeFields(n))
	}
	return e.store.Write(ctx, b)
}

// WayNodes returns the cached ordered node list of a way
func (e *Entities) WayNodes(ctx context.Context, id int64) ([]int64, error) {
	ref := entity.WayRef(id)
	vals, err := e.store.List(ctx, ref.ListKey())
	if err != nil {
		return nil, err
	}
	ids, err := parseIDs(vals)
	if err != nil {
		return nil, fmt.Errorf("bad cached node list for %s: %w", ref, err)
	}
	return ids, nil
}

// Version returns the cached version of an entity
func (e *Entities) Version(ctx context.Context, ref entity.Ref) (int, bool, error) {
	v, ok, err := e.Get(ctx, ref, entity.FieldVersion)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("bad cached version for %s: %w", ref, err)
	}
	return n, true, nil
}

// PutWay caches a way's version and replaces its node list in one batch
func (e *Entities) PutWay(ctx context.Context, id int64, version int, refs []int64) error {
	ref := entity.WayRef(id)
	b := NewBatch().
		PutFields(ref.Key(), map[string]string{entity.FieldVersion: strconv.Itoa(version)}).
		ReplaceList(ref.ListKey(), formatIDs(refs))
	return e.store.Write(ctx, b)
}

// RelationMembers returns the cached members of a relation
func (e *Entities) RelationMembers(ctx context.Context, id int64) ([]entity.Ref, error) {
	vals, err := e.store.Members(ctx, entity.RelationRef(id).ListKey())
	if err != nil {
		return nil, err
	}
	return parseRefs(vals), nil
}

// Changeset returns whatever changeset metadata is cached. Bounds are only
// reported when all four corners are present.
func (e *Entities) Changeset(ctx context.Context, id int64) (entity.Changeset, error) {
	key := entity.ChangesetKey(id)
	vals, err := e.store.Fields(ctx, key,
		entity.FieldMinLat, entity.FieldMinLon, entity.FieldMaxLat, entity.FieldMaxLon,
		entity.FieldUser, entity.FieldCreatedAt)
	if err != nil {
		return entity.Changeset{}, err
	}

	cs := entity.Changeset{ID: id, User: vals[entity.FieldUser]}
	if v, ok := vals[entity.FieldCreatedAt]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			cs.CreatedAt = t
		}
	}

	var corners [4]float64
	for i, f := range entity.BoundsFields {
		v, ok := vals[f]
		if !ok {
			return cs, nil
		}
		if corners[i], err = strconv.ParseFloat(v, 64); err != nil {
			return cs, fmt.Errorf("bad cached %s for %s: %w", f, key, err)
		}
	}

	cs.Bounds = orb.Bound{
		Min: orb.Point{corners[1], corners[0]},
		Max: orb.Point{corners[3], corners[2]},
	}
	cs.HasBounds = true
	return cs, nil
}

// PutChangeset caches changeset metadata. Bounds are written only when known.
func (e *Entities) PutChangeset(ctx context.Context, cs entity.Changeset) error {
	fields := make(map[string]string, 6)
	if cs.User != "" {
		fields[entity.FieldUser] = cs.User
	}
	if !cs.CreatedAt.IsZero() {
		fields[entity.FieldCreatedAt] = cs.CreatedAt.UTC().Format(time.RFC3339)
	}
	if cs.HasBounds {
		fields[entity.FieldMinLat] = entity.FormatFloat(cs.Bounds.Min.Lat())
		fields[entity.FieldMinLon] = entity.FormatFloat(cs.Bounds.Min.Lon())
		fields[entity.FieldMaxLat] = entity.FormatFloat(cs.Bounds.Max.Lat())
		fields[entity.FieldMaxLon] = entity.FormatFloat(cs.Bounds.Max.Lon())
	}
	if len(fields) == 0 {
		return nil
	}
	return e.store.Write(ctx, NewBatch().PutFields(entity.ChangesetKey(cs.ID), fields))
}

// InvalidateBounds drops a changeset's cached bounding box
func (e *Entities) InvalidateBounds(ctx context.Context, changesetID int64) error {
	return e.store.Write(ctx, NewBatch().DeleteFields(entity.ChangesetKey(changesetID), entity.BoundsFields...))
}

// Items returns the members of a changeset partitioned by kind. Unparseable
// members are skipped.
func (e *Entities) Items(ctx context.Context, changesetID int64) (entity.Items, error) {
	vals, err := e.store.Members(ctx, entity.ChangesetItemsKey(changesetID))
	if err != nil {
		return entity.Items{}, err
	}
	var items entity.Items
	for _, ref := range parseRefs(vals) {
		items.Add(ref)
	}
	return items, nil
}

func nodeFields(n entity.Node) map[string]string {
	return map[string]string{
		entity.FieldVersion: strconv.Itoa(n.Version),
		entity.FieldLat:     entity.FormatFloat(n.Lat),
		entity.FieldLon:     entity.FormatFloat(n.Lon),
	}
}

func formatIDs(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

func parseIDs(vals []string) ([]int64, error) {
	ids := make([]int64, 0, len(vals))
	for _, v := range vals {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseRefs(vals []string) []entity.Ref {
	refs := make([]entity.Ref, 0, len(vals))
	for _, v := range vals {
		ref, err := entity.ParseRef(v)
		if err != nil {
			logger.Get().Warn("Skipping unparseable cache member", zap.String("member", v), zap.Error(err))
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}
