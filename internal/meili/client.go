// Package meili is a client for the parts of the Meilisearch HTTP API that
// meilidash administers: index settings, tasks, indexes and stats.
package meili

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Iron-Ham/meilidash/internal/errors"
	"github.com/Iron-Ham/meilidash/internal/logging"
)

// DefaultPollInterval is the minimum spacing between task status requests.
const DefaultPollInterval = 250 * time.Millisecond

// Client talks to one Meilisearch instance.
type Client struct {
	host         string
	apiKey       string
	http         *http.Client
	logger       *logging.Logger
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.WithComponent("meili")
		}
	}
}

// WithPollInterval sets the spacing between task status requests in WaitForTask.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// New creates a Client for host, e.g. "http://localhost:7700".
func New(host string, opts ...Option) (*Client, error) {
	u, err := url.Parse(host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.NewValidationError("invalid Meilisearch host").WithField("host").WithValue(host)
	}

	c := &Client{
		host:         strings.TrimRight(host, "/"),
		http:         &http.Client{Timeout: 10 * time.Second},
		logger:       logging.NopLogger(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Host returns the base URL without a trailing slash.
func (c *Client) Host() string {
	return c.host
}

type apiErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
	Link    string `json:"link"`
}

// do sends a request with an optional JSON body and decodes a JSON response
// into out when out is non-nil. Numbers decoded into interface values are
// json.Number.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err.Error())
		if ctx.Err() == context.DeadlineExceeded {
			return errors.NewTimeoutError(method+" "+path, time.Since(start)).WithCause(err)
		}
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp, method, path)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode %s %s response", method, path)
	}
	return nil
}

func decodeAPIError(resp *http.Response, method, path string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body apiErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
	}
	return errors.NewAPIError(resp.StatusCode, body.Message).
		WithRequest(method, path).
		WithCode(body.Code, body.Type, body.Link)
}

// indexNotFound reports a missing index as a NotFoundError that still
// matches the API error it came from.
func indexNotFound(err error, uid string) error {
	if errors.Is(err, errors.ErrIndexNotFound) {
		return errors.NewNotFoundError("index", uid).WithCause(err)
	}
	return err
}

func indexPath(uid string, rest ...string) string {
	p := "/indexes/" + url.PathEscape(uid)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// Health reports whether the instance answers /health with "available".
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return err
	}
	if out.Status != "available" {
		return fmt.Errorf("meilisearch status %q", out.Status)
	}
	return nil
}
