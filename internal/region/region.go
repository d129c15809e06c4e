package region

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// DefaultNearBuffer is how far, in degrees, a geometry may lie outside a
// region before it is considered too far away to bother with.
// 5 degrees of lat or lon is really far.
const DefaultNearBuffer = 5.0

// Region is an axis-aligned area of interest in WGS84 degrees
type Region struct {
	Name  string
	Bound orb.Bound
}

// New creates a region from its corner coordinates
func New(name string, minLon, minLat, maxLon, maxLat float64) Region {
	return Region{
		Name: name,
		Bound: orb.Bound{
			Min: orb.Point{minLon, minLat},
			Max: orb.Point{maxLon, maxLat},
		},
	}
}

// Buffer returns the region expanded by d degrees on every side
func (r Region) Buffer(d float64) Region {
	return Region{Name: r.Name, Bound: r.Bound.Pad(d)}
}

// ContainsPoint reports whether p lies inside the region or on its boundary
func (r Region) ContainsPoint(p orb.Point) bool {
	return r.Bound.Contains(p)
}

// Intersects reports whether any point of mp lies in the region
func (r Region) Intersects(mp orb.MultiPoint) bool {
	for _, p := range mp {
		if r.Bound.Contains(p) {
			return true
		}
	}
	return false
}

// Within reports whether every point of mp lies in the region
func (r Region) Within(mp orb.MultiPoint) bool {
	if len(mp) == 0 {
		return false
	}
	for _, p := range mp {
		if !r.Bound.Contains(p) {
			return false
		}
	}
	return true
}

// Disjoint reports whether the bound shares no point with the region
func (r Region) Disjoint(b orb.Bound) bool {
	return !r.Bound.Intersects(b)
}

// ContainsBound reports whether the bound lies entirely inside the region
func (r Region) ContainsBound(b orb.Bound) bool {
	return r.Bound.Contains(b.Min) && r.Bound.Contains(b.Max)
}

// Area returns the planar area of the region in square degrees
func (r Region) Area() float64 {
	return math.Abs(planar.Area(r.Bound.ToPolygon()))
}

// String returns the region as "name(minlon,minlat,maxlon,maxlat)"
func (r Region) String() string {
	return fmt.Sprintf("%s(%g,%g,%g,%g)", r.Name,
		r.Bound.Min.Lon(), r.Bound.Min.Lat(), r.Bound.Max.Lon(), r.Bound.Max.Lat())
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Region{}, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	return fromCorners("bbox", coords)
}

func fromCorners(name string, c [4]float64) (Region, error) {
	if c[0] > c[2] {
		return Region{}, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", c[0], c[2])
	}
	if c[1] > c[3] {
		return Region{}, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", c[1], c[3])
	}
	if c[1] < -90 || c[3] > 90 {
		return Region{}, fmt.Errorf("latitude out of range in %v", c)
	}
	return New(name, c[0], c[1], c[2], c[3]), nil
}
