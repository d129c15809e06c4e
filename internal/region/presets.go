package region

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Presets maps region names to regions
type Presets map[string]Region

// presetsFile is the YAML layout of a regions file:
//
//	regions:
//	  germany: [5.8, 47.3, 14.8, 55.0]
//	  monaco:  [7.40, 43.72, 7.44, 43.76]
type presetsFile struct {
	Regions map[string][]float64 `yaml:"regions"`
}

// Builtin returns the regions known without a regions file
func Builtin() Presets {
	return Presets{
		"germany": New("germany", 5.8, 47.3, 14.8, 55.0),
		"usa":     New("usa", -125.0, 24.7, -66.8, 49.4),
	}
}

// LoadPresets reads a YAML regions file and merges it over the builtin presets
func LoadPresets(path string) (Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read regions file: %w", err)
	}
	return ParsePresets(data)
}

// ParsePresets parses YAML region definitions over the builtin presets
func ParsePresets(data []byte) (Presets, error) {
	var f presetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse regions YAML: %w", err)
	}

	presets := Builtin()
	for name, coords := range f.Regions {
		if len(coords) != 4 {
			return nil, fmt.Errorf("region %q must have 4 values: minlon,minlat,maxlon,maxlat", name)
		}
		key := strings.ToLower(name)
		r, err := fromCorners(key, [4]float64{coords[0], coords[1], coords[2], coords[3]})
		if err != nil {
			return nil, fmt.Errorf("region %q: %w", name, err)
		}
		presets[key] = r
	}
	return presets, nil
}

// Lookup finds a region by name
func (p Presets) Lookup(name string) (Region, error) {
	r, ok := p[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Region{}, fmt.Errorf("unknown region %q (known: %s)", name, strings.Join(p.Names(), ", "))
	}
	return r, nil
}

// Names returns the preset names in sorted order
func (p Presets) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve picks the region for a command: an explicit bbox wins over a name
func (p Presets) Resolve(name, bbox string) (Region, error) {
	if bbox != "" {
		return ParseBBox(bbox)
	}
	if name == "" {
		return Region{}, fmt.Errorf("a region name or --bbox is required")
	}
	return p.Lookup(name)
}
