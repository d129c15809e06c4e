package replication

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantSeq int64
		wantTS  time.Time
		wantErr bool
	}{
		{
			name: "standard OSM state file",
			input: `#Sat Jan 15 12:00:00 UTC 2024
sequenceNumber=12345
timestamp=2024-01-15T12\:00\:00Z`,
			wantSeq: 12345,
			wantTS:  time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
			wantErr: false,
		},
		{
			name: "state with extra whitespace",
			input: `  # comment
  sequenceNumber = 67890
  timestamp = 2024-06-20T08\:30\:00Z  `,
			wantSeq: 67890,
			wantTS:  time.Date(2024, 6, 20, 8, 30, 0, 0, time.UTC),
			wantErr: false,
		},
		{
			name: "unescaped timestamp",
			input: `sequenceNumber=100
timestamp=2024-03-10T15:45:00Z`,
			wantSeq: 100,
			wantTS:  time.Date(2024, 3, 10, 15, 45, 0, 0, time.UTC),
			wantErr: false,
		},
		{
			name:    "invalid sequence number",
			input:   "sequenceNumber=abc\ntimestamp=2024-01-01T00:00:00Z",
			wantErr: true,
		},
		{
			name:    "invalid timestamp",
			input:   "sequenceNumber=100\ntimestamp=invalid",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := ParseState(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if state.SequenceNumber != tt.wantSeq {
				t.Errorf("SequenceNumber = %d, want %d", state.SequenceNumber, tt.wantSeq)
			}
			if !state.Timestamp.Equal(tt.wantTS) {
				t.Errorf("Timestamp = %v, want %v", state.Timestamp, tt.wantTS)
			}
		})
	}
}

func TestSequenceToPath(t *testing.T) {
	tests := []struct {
		seq  int64
		want string
	}{
		{0, "000/000/000"},
		{1, "000/000/001"},
		{999, "000/000/999"},
		{1000, "000/001/000"},
		{1234, "000/001/234"},
		{12345, "000/012/345"},
		{123456, "000/123/456"},
		{1234567, "001/234/567"},
		{12345678, "012/345/678"},
		{6321543, "006/321/543"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := SequenceToPath(tt.seq)
			if got != tt.want {
				t.Errorf("SequenceToPath(%d) = %q, want %q", tt.seq, got, tt.want)
			}
		})
	}
}

func TestStateFileRoundTrip(t *testing.T) {
	want := &State{
		SequenceNumber: 6321543,
		Timestamp:      time.Date(2024, 11, 2, 7, 5, 3, 0, time.UTC),
	}
	path := filepath.Join(t.TempDir(), "replication.state")

	if err := WriteStateFile(path, want); err != nil {
		t.Fatalf("WriteStateFile: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `timestamp=2024-11-02T07\:05\:03Z`) {
		t.Errorf("state file does not escape colons:\n%s", data)
	}

	got, err := ParseStateFile(path)
	if err != nil {
		t.Fatalf("ParseStateFile: %v", err)
	}
	if got.SequenceNumber != want.SequenceNumber || !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("round trip = %v, want %v", got, want)
	}
}
