package region

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestParseBBox(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    orb.Bound
		wantErr bool
	}{
		{
			name:  "germany",
			input: "5.8,47.3,14.8,55.0",
			want:  orb.Bound{Min: orb.Point{5.8, 47.3}, Max: orb.Point{14.8, 55.0}},
		},
		{
			name:  "whitespace",
			input: " -1 , -2 , 3 , 4 ",
			want:  orb.Bound{Min: orb.Point{-1, -2}, Max: orb.Point{3, 4}},
		},
		{name: "too few values", input: "1,2,3", wantErr: true},
		{name: "not a number", input: "a,2,3,4", wantErr: true},
		{name: "inverted lon", input: "10,0,5,1", wantErr: true},
		{name: "inverted lat", input: "0,10,1,5", wantErr: true},
		{name: "lat out of range", input: "0,-95,1,5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseBBox(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !r.Bound.Equal(tt.want) {
				t.Errorf("Bound = %v, want %v", r.Bound, tt.want)
			}
		})
	}
}

func TestRegionPredicates(t *testing.T) {
	r := New("test", 10, 10, 11, 11)

	if !r.ContainsPoint(orb.Point{10.5, 10.5}) {
		t.Error("center point should be contained")
	}
	if !r.ContainsPoint(orb.Point{10, 10}) {
		t.Error("corner point should be contained")
	}
	if r.ContainsPoint(orb.Point{12, 10.5}) {
		t.Error("outside point should not be contained")
	}

	disjoint := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	if !r.Disjoint(disjoint) {
		t.Error("[0,0]-[1,1] should be disjoint from [10,10]-[11,11]")
	}

	inner := orb.Bound{Min: orb.Point{10.2, 10.2}, Max: orb.Point{10.8, 10.8}}
	if !r.ContainsBound(inner) || r.Disjoint(inner) {
		t.Error("inner bound should be contained and not disjoint")
	}

	straddling := orb.Bound{Min: orb.Point{10.5, 10.5}, Max: orb.Point{12, 12}}
	if r.ContainsBound(straddling) || r.Disjoint(straddling) {
		t.Error("straddling bound should be neither contained nor disjoint")
	}

	mp := orb.MultiPoint{{0, 0}, {10.5, 10.5}}
	if !r.Intersects(mp) {
		t.Error("multipoint with one inside point should intersect")
	}
	if r.Within(mp) {
		t.Error("multipoint with one outside point should not be within")
	}
	if r.Within(orb.MultiPoint{}) {
		t.Error("empty multipoint should not be within")
	}
}

func TestBuffer(t *testing.T) {
	r := New("test", 10, 10, 11, 11)
	near := r.Buffer(DefaultNearBuffer)

	if !near.ContainsPoint(orb.Point{15.9, 5.1}) {
		t.Error("point within 5 degrees should be near")
	}
	if near.ContainsPoint(orb.Point{16.5, 10.5}) {
		t.Error("point more than 5 degrees away should not be near")
	}
	if !r.Bound.Equal(orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{11, 11}}) {
		t.Error("Buffer must not modify the original region")
	}
}

func TestArea(t *testing.T) {
	tests := []struct {
		r    Region
		want float64
	}{
		{New("unit", 0, 0, 1, 1), 1},
		{New("germany", 5.8, 47.3, 14.8, 55.0), 69.3},
		{New("point", 3, 3, 3, 3), 0},
	}
	for _, tt := range tests {
		if got := tt.r.Area(); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("%s Area() = %v, want %v", tt.r.Name, got, tt.want)
		}
	}
}

func TestPresets(t *testing.T) {
	yamlData := []byte(`
regions:
  Monaco: [7.40, 43.72, 7.44, 43.76]
  germany: [6.0, 47.0, 15.0, 55.0]
`)
	presets, err := ParsePresets(yamlData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	monaco, err := presets.Lookup("monaco")
	if err != nil {
		t.Fatalf("Lookup(monaco): %v", err)
	}
	if !monaco.ContainsPoint(orb.Point{7.42, 43.74}) {
		t.Error("monaco should contain its center")
	}

	germany, _ := presets.Lookup("Germany")
	if germany.Bound.Min.Lon() != 6.0 {
		t.Errorf("file region should override builtin, got minlon %v", germany.Bound.Min.Lon())
	}

	if _, err := presets.Lookup("usa"); err != nil {
		t.Errorf("builtin usa should survive merge: %v", err)
	}
	if _, err := presets.Lookup("atlantis"); err == nil {
		t.Error("expected error for unknown region")
	}

	if _, err := ParsePresets([]byte("regions:\n  bad: [1, 2]\n")); err == nil {
		t.Error("expected error for short coordinate list")
	}
}

func TestResolve(t *testing.T) {
	presets := Builtin()

	r, err := presets.Resolve("germany", "1,2,3,4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Name != "bbox" {
		t.Errorf("bbox should win over name, got %q", r.Name)
	}

	if _, err := presets.Resolve("", ""); err == nil {
		t.Error("expected error when neither name nor bbox given")
	}
}
