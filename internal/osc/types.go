package osc

import (
	"github.com/wegman-software/changepipe/internal/entity"
)

// Action represents the type of change in an OSC file
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
)

// Change is one element of an osmChange document with the action block it
// appeared in
type Change struct {
	Action  Action
	Element entity.Element
}

// Diff holds the elements of one change file grouped by kind, each group in
// document order
type Diff struct {
	Nodes     []entity.Element
	Ways      []entity.Element
	Relations []entity.Element
}

// Add appends an element to the group of its kind
func (d *Diff) Add(el entity.Element) {
	switch el.Ref.Kind {
	case entity.KindNode:
		d.Nodes = append(d.Nodes, el)
	case entity.KindWay:
		d.Ways = append(d.Ways, el)
	case entity.KindRelation:
		d.Relations = append(d.Relations, el)
	}
}

// Len returns the number of elements in the diff
func (d *Diff) Len() int {
	return len(d.Nodes) + len(d.Ways) + len(d.Relations)
}

// Changesets returns the distinct changeset ids referenced by the diff in
// first-seen order, nodes first
func (d *Diff) Changesets() []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, group := range [][]entity.Element{d.Nodes, d.Ways, d.Relations} {
		for _, el := range group {
			if el.Changeset <= 0 {
				continue
			}
			if _, ok := seen[el.Changeset]; ok {
				continue
			}
			seen[el.Changeset] = struct{}{}
			ids = append(ids, el.Changeset)
		}
	}
	return ids
}

// Stats tracks OSC parsing statistics
type Stats struct {
	NodesCreated      int64
	NodesModified     int64
	NodesDeleted      int64
	WaysCreated       int64
	WaysModified      int64
	WaysDeleted       int64
	RelationsCreated  int64
	RelationsModified int64
	RelationsDeleted  int64
}

// Total returns total number of changes
func (s *Stats) Total() int64 {
	return s.NodesCreated + s.NodesModified + s.NodesDeleted +
		s.WaysCreated + s.WaysModified + s.WaysDeleted +
		s.RelationsCreated + s.RelationsModified + s.RelationsDeleted
}

func (s *Stats) count(action Action, kind entity.Kind) {
	var c *[3]*int64
	switch kind {
	case entity.KindNode:
		c = &[3]*int64{&s.NodesCreated, &s.NodesModified, &s.NodesDeleted}
	case entity.KindWay:
		c = &[3]*int64{&s.WaysCreated, &s.WaysModified, &s.WaysDeleted}
	case entity.KindRelation:
		c = &[3]*int64{&s.RelationsCreated, &s.RelationsModified, &s.RelationsDeleted}
	default:
		return
	}
	switch action {
	case ActionCreate:
		*c[0]++
	case ActionModify:
		*c[1]++
	case ActionDelete:
		*c[2]++
	}
}
