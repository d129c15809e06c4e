package osmapi

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/osm"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/wegman-software/changepipe/internal/entity"
	"github.com/wegman-software/changepipe/internal/logger"
	"github.com/wegman-software/changepipe/internal/metrics"
)

// DefaultBaseURL is the production OSM API
const DefaultBaseURL = "https://api.openstreetmap.org/api/0.6"

// Options configures a Client
type Options struct {
	BaseURL    string
	Timeout    time.Duration // per attempt
	MaxRetries int
	RetryDelay time.Duration
	UserAgent  string

	// Consecutive failed fetches that open the circuit, and how long it
	// stays open before a trial request is allowed through
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultOptions returns options for the production API
func DefaultOptions() Options {
	return Options{
		BaseURL:         DefaultBaseURL,
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		RetryDelay:      2 * time.Second,
		UserAgent:       "changepipe/1.0",
		BreakerFailures: 5,
		BreakerCooldown: time.Minute,
	}
}

// Client fetches OSM API documents. Every call is bounded by the client
// timeout and guarded by a circuit breaker.
type Client struct {
	opts    Options
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates an API client
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}

	log := logger.Named("osmapi")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "osm-api",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// A status the API answered deliberately says nothing about its health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnexpectedStatus)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		breaker: breaker,
	}
}

// BaseURL returns the API root the client talks to
func (c *Client) BaseURL() string {
	return c.opts.BaseURL
}

// Fetch GETs an API path and classifies the response. The error is non-nil
// only when no answer came back from the service.
func (c *Client) Fetch(ctx context.Context, endpoint, path string) (FetchResult, error) {
	url := c.opts.BaseURL + path
	start := time.Now()

	logger.Get().Debug("Fetching from OSM API", zap.String("url", url))

	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchWithRetry(ctx, url)
	})
	metrics.RemoteDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%s: %w", url, ErrCircuitOpen)
		}
		metrics.RemoteRequests.WithLabelValues(endpoint, errorLabel(err)).Inc()
		return FetchResult{URL: url}, err
	}

	res := v.(FetchResult)
	metrics.RemoteRequests.WithLabelValues(endpoint, res.Outcome.String()).Inc()
	return res, nil
}

// fetchWithRetry performs the GET, retrying server errors and connection
// failures. Timeouts are not retried.
func (c *Client) fetchWithRetry(ctx context.Context, url string) (FetchResult, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return FetchResult{}, classify(url, ctx.Err())
			case <-time.After(c.opts.RetryDelay):
			}
		}

		res, retry, err := c.fetchOnce(ctx, url)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retry {
			break
		}
		logger.Get().Debug("Retrying OSM API request",
			zap.String("url", url), zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return FetchResult{}, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, url string) (FetchResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, false, fmt.Errorf("%s: %w: %v", url, ErrNetwork, err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		err = classify(url, err)
		return FetchResult{}, !isTimeout(err), err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			err = classify(url, err)
			return FetchResult{}, !isTimeout(err), err
		}
		doc := &osm.OSM{}
		if err := xml.Unmarshal(body, doc); err != nil {
			logger.Get().Debug("Unparseable OSM API response", zap.String("url", url), zap.Error(err))
			return FetchResult{Outcome: OutcomeMalformed, URL: url}, false, nil
		}
		return FetchResult{Outcome: OutcomeOK, Doc: doc, URL: url}, false, nil

	case resp.StatusCode == http.StatusNotFound:
		return FetchResult{Outcome: OutcomeNotFound, URL: url}, false, nil

	case resp.StatusCode == http.StatusGone:
		return FetchResult{Outcome: OutcomeDeleted, URL: url}, false, nil

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return FetchResult{}, true, fmt.Errorf("%s: %w: server error %d", url, ErrNetwork, resp.StatusCode)
	}

	return FetchResult{}, false, fmt.Errorf("%s: %w: %d", url, ErrUnexpectedStatus, resp.StatusCode)
}

// Node fetches a single node
func (c *Client) Node(ctx context.Context, id int64) (entity.Node, error) {
	res, err := c.Fetch(ctx, "node", "/node/"+strconv.FormatInt(id, 10))
	if err != nil {
		return entity.Node{}, err
	}
	if err := res.Err(); err != nil {
		return entity.Node{}, err
	}

	for _, n := range res.Doc.Nodes {
		if int64(n.ID) == id {
			if !n.Visible {
				return entity.Node{}, fmt.Errorf("%s: %w", res.URL, ErrDeleted)
			}
			return fromNode(n), nil
		}
	}
	return entity.Node{}, fmt.Errorf("%s: node missing from response: %w", res.URL, ErrMalformed)
}

// Nodes fetches a page of nodes in one call. Deleted nodes are left out.
func (c *Client) Nodes(ctx context.Context, ids []int64) ([]entity.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}

	res, err := c.Fetch(ctx, "nodes", "/nodes?nodes="+strings.Join(parts, ","))
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return visibleNodes(res.Doc.Nodes), nil
}

// WayFull fetches a way together with all of its nodes. The raw result is
// returned so the caller can decide how to handle a deleted way.
func (c *Client) WayFull(ctx context.Context, id int64) (FetchResult, error) {
	return c.Fetch(ctx, "way_full", fmt.Sprintf("/way/%d/full", id))
}

// WayVersion fetches one historical version of a way and returns its node refs
func (c *Client) WayVersion(ctx context.Context, id int64, version int) ([]int64, error) {
	res, err := c.Fetch(ctx, "way_version", fmt.Sprintf("/way/%d/%d", id, version))
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	way := findWay(res.Doc, id)
	if way == nil {
		return nil, fmt.Errorf("%s: way missing from response: %w", res.URL, ErrMalformed)
	}
	return wayRefs(way), nil
}

// Changeset fetches changeset metadata. Changesets without edits have no
// bounding box, which is reported through HasBounds.
func (c *Client) Changeset(ctx context.Context, id int64) (entity.Changeset, error) {
	res, err := c.Fetch(ctx, "changeset", "/changeset/"+strconv.FormatInt(id, 10))
	if err != nil {
		return entity.Changeset{}, err
	}
	if err := res.Err(); err != nil {
		return entity.Changeset{}, err
	}

	for _, cs := range res.Doc.Changesets {
		if int64(cs.ID) == id {
			return fromChangeset(cs), nil
		}
	}
	return entity.Changeset{}, fmt.Errorf("%s: changeset missing from response: %w", res.URL, ErrMalformed)
}

func fromNode(n *osm.Node) entity.Node {
	return entity.Node{
		ID:      int64(n.ID),
		Version: n.Version,
		Lat:     n.Lat,
		Lon:     n.Lon,
	}
}

func visibleNodes(nodes osm.Nodes) []entity.Node {
	out := make([]entity.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Visible {
			out = append(out, fromNode(n))
		}
	}
	return out
}

func findWay(doc *osm.OSM, id int64) *osm.Way {
	for _, w := range doc.Ways {
		if int64(w.ID) == id {
			return w
		}
	}
	return nil
}

func wayRefs(w *osm.Way) []int64 {
	refs := make([]int64, len(w.Nodes))
	for i, wn := range w.Nodes {
		refs[i] = int64(wn.ID)
	}
	return refs
}

func fromChangeset(cs *osm.Changeset) entity.Changeset {
	out := entity.Changeset{
		ID:        int64(cs.ID),
		User:      cs.User,
		CreatedAt: cs.CreatedAt,
	}
	// The API omits the bbox attributes for changesets without edits
	if cs.MinLat != 0 || cs.MaxLat != 0 || cs.MinLon != 0 || cs.MaxLon != 0 {
		out.Bounds.Min[0], out.Bounds.Min[1] = cs.MinLon, cs.MinLat
		out.Bounds.Max[0], out.Bounds.Max[1] = cs.MaxLon, cs.MaxLat
		out.HasBounds = true
	}
	return out
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrUnexpectedStatus):
		return "unexpected_status"
	}
	return "network"
}
