package replication

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// State is a position in a replication feed
type State struct {
	SequenceNumber int64
	Timestamp      time.Time
}

// String returns the state in a human-readable format
func (s State) String() string {
	return fmt.Sprintf("Sequence: %d, Timestamp: %s", s.SequenceNumber, s.Timestamp.Format(time.RFC3339))
}

// timestampLayouts are tried in order; state files escape colons as \:
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParseState parses the Java properties style state.txt format:
//
//	#comment line
//	sequenceNumber=12345
//	timestamp=2024-01-15T12\:00\:00Z
func ParseState(r io.Reader) (*State, error) {
	props, err := readProperties(r)
	if err != nil {
		return nil, fmt.Errorf("error reading state: %w", err)
	}

	state := &State{}
	if v, ok := props["sequenceNumber"]; ok {
		if state.SequenceNumber, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid sequence number: %w", err)
		}
	}
	if v, ok := props["timestamp"]; ok {
		if state.Timestamp, err = parseTimestamp(v); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func readProperties(r io.Reader) (map[string]string, error) {
	props := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.ReplaceAll(strings.TrimSpace(value), `\:`, ":")
		props[strings.TrimSpace(key)] = value
	}
	return props, scanner.Err()
}

func parseTimestamp(v string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", v, err)
}

// ParseStateFile reads and parses a state file from disk
func ParseStateFile(filename string) (*State, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseState(f)
}

// WriteState writes a state in the same format ParseState reads
func WriteState(w io.Writer, state *State) error {
	ts := strings.ReplaceAll(state.Timestamp.UTC().Format(time.RFC3339), ":", `\:`)
	_, err := fmt.Fprintf(w, "# changepipe replication state\nsequenceNumber=%d\ntimestamp=%s\n",
		state.SequenceNumber, ts)
	return err
}

// WriteStateFile replaces a state file atomically
func WriteStateFile(filename string, state *State) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".state-*")
	if err != nil {
		return err
	}
	if err := WriteState(tmp, state); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filename)
}

// SequenceToPath converts a sequence number to the AAA/BBB/CCC layout of a
// replication directory, e.g. 1234567 -> 001/234/567
func SequenceToPath(seq int64) string {
	return fmt.Sprintf("%03d/%03d/%03d", seq/1000000, (seq/1000)%1000, seq%1000)
}
