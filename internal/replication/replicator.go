// Package replication follows an OSM replication feed, downloading one
// osmChange diff per sequence and keeping a local position file.
package replication

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/changepipe/internal/config"
	"github.com/wegman-software/changepipe/internal/logger"
	"github.com/wegman-software/changepipe/internal/osc"
)

// ErrNotInitialized is returned when no local state file exists
var ErrNotInitialized = errors.New("replication not initialized - run 'replication init' first")

// Replicator tracks the local position in a replication feed
type Replicator struct {
	source    *Source
	fetcher   *Fetcher
	stateFile string
	state     *State
}

// NewReplicator creates a replicator keeping its state under cfg.StateDir
func NewReplicator(cfg *config.Config, source *Source) (*Replicator, error) {
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &Replicator{
		source:    source,
		fetcher:   NewFetcher(source, cfg.UserAgent),
		stateFile: filepath.Join(cfg.StateDir, "replication.state"),
	}, nil
}

// Source returns the replication source
func (r *Replicator) Source() *Source {
	return r.source
}

// Init starts following the source from its current state
func (r *Replicator) Init(ctx context.Context) error {
	state, err := r.fetcher.FetchCurrentState(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch current state: %w", err)
	}

	if err := WriteStateFile(r.stateFile, state); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	r.state = state

	logger.Get().Info("Replication initialized",
		zap.String("source", r.source.Name),
		zap.Int64("sequence", state.SequenceNumber),
		zap.Time("timestamp", state.Timestamp))

	return nil
}

// LoadState loads the local replication state
func (r *Replicator) LoadState() error {
	state, err := ParseStateFile(r.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotInitialized
		}
		return fmt.Errorf("failed to load state: %w", err)
	}
	r.state = state
	return nil
}

// State returns the current replication state
func (r *Replicator) State() *State {
	return r.state
}

// CheckForUpdates reports how many sequences the local state is behind
func (r *Replicator) CheckForUpdates(ctx context.Context) (int64, error) {
	if r.state == nil {
		return 0, fmt.Errorf("state not loaded")
	}

	current, err := r.fetcher.FetchCurrentState(ctx)
	if err != nil {
		return 0, err
	}
	return max(current.SequenceNumber-r.state.SequenceNumber, 0), nil
}

// Next downloads and parses the diff following the local state. It returns
// a nil diff when the next sequence is not published yet. The local state
// only moves on Commit.
func (r *Replicator) Next(ctx context.Context) (*osc.Diff, *State, error) {
	if r.state == nil {
		return nil, nil, fmt.Errorf("state not loaded")
	}
	seq := r.state.SequenceNumber + 1

	data, err := r.fetcher.FetchSequenceData(ctx, seq)
	if err != nil || data == nil {
		return nil, nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open diff %d: %w", seq, err)
	}
	defer gz.Close()

	diff, err := osc.NewParser().ReadDiff(ctx, gz)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse diff %d: %w", seq, err)
	}

	next, err := r.fetcher.FetchSequenceState(ctx, seq)
	if err != nil {
		return nil, nil, err
	}
	if next == nil {
		next = &State{SequenceNumber: seq, Timestamp: time.Now().UTC()}
	}

	return diff, next, nil
}

// Commit records that a sequence has been applied
func (r *Replicator) Commit(state *State) error {
	if err := WriteStateFile(r.stateFile, state); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	r.state = state
	return nil
}

// GetStatus returns a status summary
func (r *Replicator) GetStatus(ctx context.Context) (*Status, error) {
	if r.state == nil {
		if err := r.LoadState(); err != nil {
			return nil, err
		}
	}

	status := &Status{
		Source:         r.source.Name,
		SourceURL:      r.source.BaseURL,
		LocalSequence:  r.state.SequenceNumber,
		LocalTimestamp: r.state.Timestamp,
	}

	if remote, err := r.fetcher.FetchCurrentState(ctx); err == nil {
		status.RemoteSequence = remote.SequenceNumber
		status.RemoteTimestamp = remote.Timestamp
		status.Behind = remote.SequenceNumber - r.state.SequenceNumber
		status.Lag = remote.Timestamp.Sub(r.state.Timestamp)
	}

	return status, nil
}

// Status represents the current replication status
type Status struct {
	Source          string
	SourceURL       string
	LocalSequence   int64
	LocalTimestamp  time.Time
	RemoteSequence  int64
	RemoteTimestamp time.Time
	Behind          int64
	Lag             time.Duration
}

// String returns a human-readable status
func (s *Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\n", s.Source)
	fmt.Fprintf(&b, "URL: %s\n", s.SourceURL)
	fmt.Fprintf(&b, "Local sequence: %d\n", s.LocalSequence)
	fmt.Fprintf(&b, "Local timestamp: %s\n", s.LocalTimestamp.Format(time.RFC3339))

	if s.RemoteSequence > 0 {
		fmt.Fprintf(&b, "Remote sequence: %d\n", s.RemoteSequence)
		fmt.Fprintf(&b, "Remote timestamp: %s\n", s.RemoteTimestamp.Format(time.RFC3339))
		fmt.Fprintf(&b, "Behind: %d sequences\n", s.Behind)
		fmt.Fprintf(&b, "Lag: %s\n", s.Lag.Round(time.Second))
	}

	return b.String()
}
