package replication

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/changepipe/internal/logger"
)

// Fetcher downloads state files and diffs from a source
type Fetcher struct {
	source     *Source
	client     *http.Client
	userAgent  string
	maxRetries int
	retryDelay time.Duration
}

// NewFetcher creates a new replication fetcher
func NewFetcher(source *Source, userAgent string) *Fetcher {
	return &Fetcher{
		source:     source,
		client:     &http.Client{Timeout: 60 * time.Second},
		userAgent:  userAgent,
		maxRetries: 3,
		retryDelay: 5 * time.Second,
	}
}

// Source returns the replication source
func (f *Fetcher) Source() *Source {
	return f.source
}

// FetchCurrentState fetches the newest state published by the source
func (f *Fetcher) FetchCurrentState(ctx context.Context) (*State, error) {
	body, found, err := f.get(ctx, f.source.StateURL())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch state: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("source %s has no state file", f.source.Name)
	}

	state, err := ParseState(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}

	logger.Get().Debug("Fetched current state",
		zap.Int64("sequence", state.SequenceNumber),
		zap.Time("timestamp", state.Timestamp))

	return state, nil
}

// FetchSequenceState fetches the state of one sequence. It returns nil when
// the sequence has not been published yet.
func (f *Fetcher) FetchSequenceState(ctx context.Context, seq int64) (*State, error) {
	body, found, err := f.get(ctx, f.source.SequenceStateURL(seq))
	if err != nil || !found {
		return nil, err
	}
	return ParseState(bytes.NewReader(body))
}

// FetchSequenceData downloads the gzipped diff of one sequence. It returns
// nil when the sequence has not been published yet.
func (f *Fetcher) FetchSequenceData(ctx context.Context, seq int64) ([]byte, error) {
	body, found, err := f.get(ctx, f.source.SequenceDataURL(seq))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch diff %d: %w", seq, err)
	}
	if !found {
		return nil, nil
	}
	logger.Get().Debug("Downloaded diff", zap.Int64("sequence", seq), zap.Int("bytes", len(body)))
	return body, nil
}

// get performs a GET with retries on transport and server errors. A 404 is
// reported as found=false.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, bool, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}

		body, status, err := f.getOnce(ctx, url)
		switch {
		case err != nil:
			lastErr = err
		case status == http.StatusOK:
			return body, true, nil
		case status == http.StatusNotFound:
			return nil, false, nil
		case status >= 500:
			lastErr = fmt.Errorf("server error: %d", status)
		default:
			return nil, false, fmt.Errorf("unexpected status code: %d", status)
		}

		logger.Get().Debug("Retrying replication request",
			zap.String("url", url), zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}

	return nil, false, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (f *Fetcher) getOnce(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
