// Package api is the typed client for the build-execution service's REST
// surface: the plan snapshot endpoint used for initial load and for
// gap-filling reconciliation after a dropped stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"

	"github.com/pageforge/buildstream/internal/domain/build"
)

// Client fetches build snapshots with bounded retry and a per-call
// deadline. The stream endpoint is deliberately not served here: its
// connection is long-lived and owned by the stream package.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
	timeout    time.Duration
}

type options struct {
	httpClient   *http.Client
	timeout      time.Duration
	maxAttempts  int
	initialDelay time.Duration
}

func defaultOptions() options {
	return options{
		httpClient:   http.DefaultClient,
		timeout:      15 * time.Second,
		maxAttempts:  3,
		initialDelay: 500 * time.Millisecond,
	}
}

// Option configures the API client.
type Option func(*options)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetry configures retry behaviour.
func WithRetry(maxAttempts int, initialDelay time.Duration) Option {
	return func(o *options) {
		o.maxAttempts = maxAttempts
		o.initialDelay = initialDelay
	}
}

// NewClient creates a snapshot client for the given API base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: o.httpClient,
		timeout:    o.timeout,
		retryCfg: retry.Config{
			MaxAttempts:   o.maxAttempts,
			InitialDelay:  o.initialDelay,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
}

// PlanURL returns the snapshot endpoint for a build.
func (c *Client) PlanURL(buildID string) string {
	return fmt.Sprintf("%s/api/build/%s/plan", c.baseURL, buildID)
}

// StreamURL returns the push-event endpoint for a build.
func (c *Client) StreamURL(buildID string) string {
	return fmt.Sprintf("%s/api/build/%s/stream", c.baseURL, buildID)
}

// GetPlan fetches the full plan snapshot for a build. The document is
// schema-checked before unmarshalling so a garbage response can never
// replace the working projection.
func (c *Client) GetPlan(ctx context.Context, buildID string) (*build.Plan, error) {
	if buildID == "" {
		return nil, fmt.Errorf("get plan: build id required")
	}

	r := retry.New[*build.Plan](c.retryCfg)
	t := timeout.New[*build.Plan](timeout.Config{DefaultTimeout: c.timeout})

	plan, err := t.Execute(ctx, c.timeout, func(ctx context.Context) (*build.Plan, error) {
		return r.Do(ctx, func(ctx context.Context) (*build.Plan, error) {
			return c.fetchPlan(ctx, buildID)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", buildID, err)
	}
	return plan, nil
}

func (c *Client) fetchPlan(ctx context.Context, buildID string) (*build.Plan, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PlanURL(buildID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrBuildNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := validatePlanDocument(data); err != nil {
		return nil, err
	}

	var plan build.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &plan, nil
}
