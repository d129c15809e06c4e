package replication

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Source is a replication feed publishing osmChange diffs with changeset ids
type Source struct {
	Name        string
	BaseURL     string        // directory holding state.txt and the AAA/BBB/CCC tree
	Interval    time.Duration // how often a new diff appears
	Description string
}

// StateURL returns the URL for the current state file
func (s *Source) StateURL() string {
	return s.BaseURL + "/state.txt"
}

// SequenceStateURL returns the URL for a specific sequence's state file
func (s *Source) SequenceStateURL(seq int64) string {
	return s.BaseURL + "/" + SequenceToPath(seq) + ".state.txt"
}

// SequenceDataURL returns the URL for a specific sequence's OSC file
func (s *Source) SequenceDataURL(seq int64) string {
	return s.BaseURL + "/" + SequenceToPath(seq) + ".osc.gz"
}

const planetBase = "https://planet.openstreetmap.org/replication/"

// Planet feeds keyed by every accepted spelling. Regional extract feeds are
// not offered because they strip changeset ids.
var planetSources = map[string]*Source{
	"minute": {
		Name:        "planet-minute",
		BaseURL:     planetBase + "minute",
		Interval:    time.Minute,
		Description: "OpenStreetMap planet minutely diffs",
	},
	"hour": {
		Name:        "planet-hour",
		BaseURL:     planetBase + "hour",
		Interval:    time.Hour,
		Description: "OpenStreetMap planet hourly diffs",
	},
	"day": {
		Name:        "planet-day",
		BaseURL:     planetBase + "day",
		Interval:    24 * time.Hour,
		Description: "OpenStreetMap planet daily diffs",
	},
}

// ParseSource parses a source string and returns a Source
// Formats:
//   - "planet-minute", "planet/minute", "minute" (likewise hour and day)
//   - Custom URL: "https://example.com/replication"
func ParseSource(s string) (*Source, error) {
	s = strings.TrimSpace(s)
	key := strings.ToLower(s)
	key = strings.TrimPrefix(key, "planet-")
	key = strings.TrimPrefix(key, "planet/")

	if src, ok := planetSources[key]; ok {
		return src, nil
	}

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return &Source{
			Name:        "custom",
			BaseURL:     strings.TrimSuffix(s, "/"),
			Interval:    time.Minute,
			Description: "Custom replication source",
		}, nil
	}

	return nil, fmt.Errorf("unknown replication source: %s", s)
}

// ListSources returns a description line per predefined source
func ListSources() []string {
	var lines []string
	for _, src := range planetSources {
		lines = append(lines, fmt.Sprintf("%-14s %s (every %s)", src.Name, src.Description, src.Interval))
	}
	sort.Strings(lines)
	return append(lines, "", "Any URL of a replication directory is accepted as a custom source.")
}
