// Package authority talks to the remote authority that owns the canonical
// task list. Client is the outbound side used by reconciliation; Applier is
// the inbound side a node runs when it acts as the authority for others.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samridh-111/backend-interview-challenge/internal/schema"
)

// DefaultTimeout bounds both the liveness probe and batch submission.
const DefaultTimeout = 5 * time.Second

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 4 << 10

// Config holds the client settings.
type Config struct {
	// BaseURL is the authority API root, e.g. http://localhost:3000/api
	BaseURL string
	// Timeout applies to each request (0 = DefaultTimeout)
	Timeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:3000/api",
		Timeout: DefaultTimeout,
	}
}

// Client issues GET /health and POST /batch against the authority.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	now     func() time.Time
}

// NewClient creates a client. If httpClient is nil, http.DefaultClient is
// used; per-request deadlines come from cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrNoBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: base,
		timeout: cfg.Timeout,
		http:    httpClient,
		now:     time.Now,
	}, nil
}

// BaseURL returns the normalized authority root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Probe reports whether the authority answers its health check in time.
// Any failure yields false; it never returns an error.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// SubmitBatch sends entries as one request and returns the authority's
// per-item outcomes in whatever order it produced them. Every failure to
// obtain a decoded response wraps ErrTransport.
func (c *Client) SubmitBatch(ctx context.Context, entries []*schema.MutationEntry) ([]Outcome, error) {
	body := BatchRequest{
		Items:           make([]Item, 0, len(entries)),
		ClientTimestamp: c.now().UTC(),
	}
	for _, e := range entries {
		item, err := ItemFromEntry(e)
		if err != nil {
			return nil, err
		}
		body.Items = append(body.Items, item)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/batch", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: POST /batch returned %d: %s", ErrTransport, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode batch response: %w", ErrTransport, err)
	}
	return out.ProcessedItems, nil
}
