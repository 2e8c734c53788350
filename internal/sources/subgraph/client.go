// Package subgraph queries The Graph GraphQL endpoints of the GEB protocol and
// the Uniswap v3 pool.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"reward-distributor/internal/observability"
	"reward-distributor/internal/sources"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 5
	DefaultRetryDelay = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultRPS        = 5

	// PageSize is the maximum number of entities per page.
	PageSize = 1000

	// skipPlaceholder is replaced by the page offset in paginated queries.
	skipPlaceholder = "[[skip]]"
)

// ErrNoData is returned when a response carries no data object.
var ErrNoData = errors.New("no data in subgraph response")

// Client posts GraphQL queries to one subgraph endpoint.
type Client struct {
	endpoint   string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets the maximum retry attempts per request.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial and maximum retry delays.
func WithRetryDelay(initial, max time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = initial
		c.maxDelay = max
	}
}

// WithRateLimit limits requests per second. Zero disables limiting.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the subgraph at endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRPS), 1),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// Query posts query and decodes the data object into out. name labels logs
// and metrics. Transport failures, 429 and 5xx responses are retried with
// exponential backoff; GraphQL errors are not.
func (c *Client) Query(ctx context.Context, name, query string, out any) error {
	start := time.Now()
	err := c.query(ctx, query, out)
	observability.RecordSubgraphRequest(name, time.Since(start).Seconds(), err)
	return sources.Wrap("subgraph", name, err)
}

func (c *Client) query(ctx context.Context, query string, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxInterval = c.maxDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	var data json.RawMessage
	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		d, err := c.post(ctx, body)
		if err != nil {
			c.logger.Debug("subgraph request failed", "endpoint", c.endpoint, "attempt", attempt, "error", err)
			return err
		}
		data = d
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return nil
}

// post performs one request. Errors that must not be retried are wrapped
// with backoff.Permanent.
func (c *Client) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited (429)")
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody)))
	}

	var gr graphQLResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		return nil, backoff.Permanent(fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; ")))
	}
	if len(gr.Data) == 0 || string(gr.Data) == "null" {
		return nil, backoff.Permanent(ErrNoData)
	}
	return gr.Data, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// queryPaginated runs template once per page of PageSize entities, replacing
// [[skip]] with the page offset, and concatenates the entities of field.
func queryPaginated[T any](ctx context.Context, c *Client, name, template, field string) ([]T, error) {
	var all []T
	for skip := 0; ; skip += PageSize {
		query := strings.ReplaceAll(template, skipPlaceholder, strconv.Itoa(skip))

		var page map[string][]T
		if err := c.Query(ctx, name, query, &page); err != nil {
			return nil, err
		}
		items, ok := page[field]
		if !ok {
			return nil, sources.Wrap("subgraph", name, fmt.Errorf("field %q missing from response", field))
		}
		all = append(all, items...)
		if len(items) < PageSize {
			return all, nil
		}
	}
}
