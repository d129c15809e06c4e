package replication

import (
	"strings"
	"testing"
	"time"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantName     string
		wantBaseURL  string
		wantInterval time.Duration
		wantErr      bool
	}{
		{
			name:         "planet minute",
			input:        "planet-minute",
			wantName:     "planet-minute",
			wantBaseURL:  "https://planet.openstreetmap.org/replication/minute",
			wantInterval: time.Minute,
		},
		{
			name:         "short minute",
			input:        "Minute",
			wantName:     "planet-minute",
			wantBaseURL:  "https://planet.openstreetmap.org/replication/minute",
			wantInterval: time.Minute,
		},
		{
			name:         "planet slash hour",
			input:        "planet/hour",
			wantName:     "planet-hour",
			wantBaseURL:  "https://planet.openstreetmap.org/replication/hour",
			wantInterval: time.Hour,
		},
		{
			name:         "planet day",
			input:        " day ",
			wantName:     "planet-day",
			wantBaseURL:  "https://planet.openstreetmap.org/replication/day",
			wantInterval: 24 * time.Hour,
		},
		{
			name:         "custom URL with trailing slash",
			input:        "https://my-server.com/replication/",
			wantName:     "custom",
			wantBaseURL:  "https://my-server.com/replication",
			wantInterval: time.Minute,
		},
		{
			name:    "regional extract",
			input:   "geofabrik/monaco",
			wantErr: true,
		},
		{
			name:    "unknown source",
			input:   "unknown-source-xyz",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, err := ParseSource(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if source.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", source.Name, tt.wantName)
			}
			if source.BaseURL != tt.wantBaseURL {
				t.Errorf("BaseURL = %q, want %q", source.BaseURL, tt.wantBaseURL)
			}
			if source.Interval != tt.wantInterval {
				t.Errorf("Interval = %v, want %v", source.Interval, tt.wantInterval)
			}
		})
	}
}

func TestSourceURLs(t *testing.T) {
	source, _ := ParseSource("minute")

	tests := []struct {
		got, want string
	}{
		{source.StateURL(), "https://planet.openstreetmap.org/replication/minute/state.txt"},
		{source.SequenceStateURL(1234567), "https://planet.openstreetmap.org/replication/minute/001/234/567.state.txt"},
		{source.SequenceDataURL(1234567), "https://planet.openstreetmap.org/replication/minute/001/234/567.osc.gz"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("URL = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestListSources(t *testing.T) {
	joined := strings.Join(ListSources(), "\n")
	for _, name := range []string{"planet-minute", "planet-hour", "planet-day"} {
		if !strings.Contains(joined, name) {
			t.Errorf("ListSources() should include %s", name)
		}
	}
}
