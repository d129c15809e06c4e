// Package osmapi resolves entities against the OSM API 0.6: single nodes,
// node pages, full ways, historical way versions and changesets.
package osmapi

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/paulmach/osm"
)

// Errors returned by the client and resolver. Callers classify with errors.Is.
var (
	ErrNotFound           = errors.New("entity not found")
	ErrDeleted            = errors.New("entity deleted")
	ErrMalformed          = errors.New("malformed response")
	ErrHistoryUnavailable = errors.New("no previous version cached")
	ErrTimeout            = errors.New("request timed out")
	ErrNetwork            = errors.New("network error")
	ErrCircuitOpen        = errors.New("remote service circuit open")
	ErrUnexpectedStatus   = errors.New("unexpected status code")
)

// Outcome classifies a document fetch that reached the service
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeDeleted
	OutcomeNotFound
	OutcomeMalformed
)

// String returns a short label used for logs and metrics
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeMalformed:
		return "malformed"
	}
	return "unknown"
}

// FetchResult is a fetched document or the reason there is none. Doc is set
// only for OutcomeOK.
type FetchResult struct {
	Outcome Outcome
	Doc     *osm.OSM
	URL     string
}

// Err converts a non-OK outcome into the matching sentinel error
func (r FetchResult) Err() error {
	switch r.Outcome {
	case OutcomeOK:
		return nil
	case OutcomeDeleted:
		return fmt.Errorf("%s: %w", r.URL, ErrDeleted)
	case OutcomeNotFound:
		return fmt.Errorf("%s: %w", r.URL, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", r.URL, ErrMalformed)
}

// classify maps a transport failure onto ErrTimeout or ErrNetwork
func classify(url string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %v", url, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", url, ErrNetwork, err)
}

// isTimeout reports whether a classified error is a timeout
func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
