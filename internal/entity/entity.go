// Package entity defines the OSM entity references, cache keys and element
// records shared by the cache, the remote resolver and the overlap engine.
package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Kind is the OSM element type of an entity
type Kind uint8

const (
	KindNode Kind = iota + 1
	KindWay
	KindRelation
)

// String returns the OSM API name of the kind
func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	}
	return "unknown"
}

// ParseKind converts an OSM type name ("node", "way", "relation") to a Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "node", "n":
		return KindNode, nil
	case "way", "w":
		return KindWay, nil
	case "relation", "r":
		return KindRelation, nil
	}
	return 0, fmt.Errorf("unknown entity kind %q", s)
}

// Ref identifies a single OSM entity by kind and id
type Ref struct {
	Kind Kind
	ID   int64
}

// NodeRef returns a reference to a node
func NodeRef(id int64) Ref { return Ref{Kind: KindNode, ID: id} }

// WayRef returns a reference to a way
func WayRef(id int64) Ref { return Ref{Kind: KindWay, ID: id} }

// RelationRef returns a reference to a relation
func RelationRef(id int64) Ref { return Ref{Kind: KindRelation, ID: id} }

// String returns the "kind-id" form used as the cache key and set member
func (r Ref) String() string {
	return r.Kind.String() + "-" + strconv.FormatInt(r.ID, 10)
}

// Key returns the cache key of the entity's field group
func (r Ref) Key() string {
	return r.String()
}

// ListKey returns the cache key holding the entity's references:
// the ordered node list of a way or the member set of a relation
func (r Ref) ListKey() string {
	switch r.Kind {
	case KindWay:
		return r.String() + "-nodes"
	case KindRelation:
		return r.String() + "-members"
	}
	return ""
}

// ParseRef parses the "kind-id" form produced by Ref.String
func ParseRef(s string) (Ref, error) {
	i := strings.LastIndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return Ref{}, fmt.Errorf("invalid entity reference %q", s)
	}
	kind, err := ParseKind(s[:i])
	if err != nil {
		return Ref{}, err
	}
	id, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid entity id in %q: %w", s, err)
	}
	return Ref{Kind: kind, ID: id}, nil
}

// ChangesetKey returns the cache key of a changeset's metadata fields
func ChangesetKey(id int64) string {
	return "changeset-" + strconv.FormatInt(id, 10)
}

// ChangesetItemsKey returns the cache key of a changeset's member set
func ChangesetItemsKey(id int64) string {
	return ChangesetKey(id) + "-items"
}

// Cached field names
const (
	FieldVersion   = "version"
	FieldLat       = "lat"
	FieldLon       = "lon"
	FieldMinLat    = "min_lat"
	FieldMinLon    = "min_lon"
	FieldMaxLat    = "max_lat"
	FieldMaxLon    = "max_lon"
	FieldUser      = "user"
	FieldCreatedAt = "created_at"
)

// BoundsFields are the changeset fields that make up its bounding box
var BoundsFields = []string{FieldMinLat, FieldMinLon, FieldMaxLat, FieldMaxLon}

// Node holds the attributes of a point entity
type Node struct {
	ID      int64
	Version int
	Lat     float64
	Lon     float64
}

// Point returns the node location as an orb point (lon, lat)
func (n Node) Point() orb.Point {
	return orb.Point{n.Lon, n.Lat}
}

// Changeset holds the metadata of an edit batch. Bounds is only meaningful
// when HasBounds is set.
type Changeset struct {
	ID        int64
	User      string
	CreatedAt time.Time
	Bounds    orb.Bound
	HasBounds bool
}

// Element is a single typed element of an edit stream
type Element struct {
	Ref       Ref
	Version   int
	Changeset int64

	// Node coordinates, HasCoords is false when the stream omits them
	Lat       float64
	Lon       float64
	HasCoords bool

	// Way node references in traversal order
	NodeRefs []int64

	// Relation members
	Members []Ref
}

// Items partitions a changeset's member references by kind
type Items struct {
	Nodes     []int64
	Ways      []int64
	Relations []int64
}

// Len returns the total number of members
func (it Items) Len() int {
	return len(it.Nodes) + len(it.Ways) + len(it.Relations)
}

// Add appends a member reference to the matching kind bucket
func (it *Items) Add(r Ref) {
	switch r.Kind {
	case KindNode:
		it.Nodes = append(it.Nodes, r.ID)
	case KindWay:
		it.Ways = append(it.Ways, r.ID)
	case KindRelation:
		it.Relations = append(it.Relations, r.ID)
	}
}

// FormatFloat renders a coordinate for storage without losing precision
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
