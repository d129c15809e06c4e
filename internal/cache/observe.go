package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wegman-software/changepipe/internal/entity"
)

// Observe records one edit-stream element in the cache. All writes for the
// element go out as a single batch:
//   - the element's version (and node coordinates)
//   - a full rewrite of a way's node list or a relation's member set
//   - membership in the element's changeset item set
//   - removal of the changeset's cached bounding box, which no longer covers
//     the changeset's members
func (e *Entities) Observe(ctx context.Context, el entity.Element) error {
	b, err := observeBatch(el)
	if err != nil {
		return err
	}
	if err := e.store.Write(ctx, b); err != nil {
		return fmt.Errorf("failed to observe %s: %w", el.Ref, err)
	}
	return nil
}

func observeBatch(el entity.Element) (*Batch, error) {
	ref := el.Ref
	b := NewBatch()

	fields := map[string]string{entity.FieldVersion: strconv.Itoa(el.Version)}

	switch ref.Kind {
	case entity.KindNode:
		if el.HasCoords {
			fields[entity.FieldLat] = entity.FormatFloat(el.Lat)
			fields[entity.FieldLon] = entity.FormatFloat(el.Lon)
		}
		b.PutFields(ref.Key(), fields)

	case entity.KindWay:
		b.PutFields(ref.Key(), fields)
		b.ReplaceList(ref.ListKey(), formatIDs(el.NodeRefs))

	case entity.KindRelation:
		b.PutFields(ref.Key(), fields)
		members := make([]string, len(el.Members))
		for i, m := range el.Members {
			members[i] = m.String()
		}
		b.ReplaceMembers(ref.ListKey(), members)

	default:
		return nil, fmt.Errorf("cannot observe element of kind %v", ref.Kind)
	}

	if el.Changeset > 0 {
		b.AddMembers(entity.ChangesetItemsKey(el.Changeset), ref.String())
		b.DeleteFields(entity.ChangesetKey(el.Changeset), entity.BoundsFields...)
	}

	return b, nil
}
