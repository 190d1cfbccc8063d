package client

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

	"github.com/google/uuid"
	"github.com/wolfeidau/psadmin/internal/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RequestIDHeader carries a per-request identifier for correlating client and server logs.
const RequestIDHeader = "X-Request-Id"

// Config holds common client configuration
type Config struct {
	ServerURL string
	Timeout   time.Duration
	// Debug logs request and response headers of every API call.
	Debug bool
	// CacheDir enables an on-disk HTTP cache for cacheable downloads.
	// Empty keeps the cache in memory.
	CacheDir string
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:5000/api",
		Timeout:   30 * time.Second,
		Debug:     false,
	}
}

// Client is the base REST client shared by the auth and problems services.
type Client struct {
	baseURL   *url.URL
	timeout   time.Duration
	transport http.RoundTripper
	cacheDir  string
}

// New creates a client for the API rooted at config.ServerURL.
func New(config Config) (*Client, error) {
	if config.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}

	base, err := url.Parse(strings.TrimRight(config.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: scheme and host are required", config.ServerURL)
	}

	var logOpts []logger.Option
	if config.Debug {
		logOpts = append(logOpts, logger.WithHeaders())
	}

	return &Client{
		baseURL:   base,
		timeout:   config.Timeout,
		transport: otelhttp.NewTransport(logger.NewRoundTripper(http.DefaultTransport, logOpts...)),
		cacheDir:  config.CacheDir,
	}, nil
}

// Auth returns the authentication endpoints.
func (c *Client) Auth() *AuthService {
	return &AuthService{client: c}
}

// httpClient builds an http.Client over the shared transport chain.
func (c *Client) httpClient(rt http.RoundTripper) *http.Client {
	if rt == nil {
		rt = c.transport
	}
	return &http.Client{
		Transport: rt,
		Timeout:   c.timeout,
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = u.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, newRequestID())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// do sends req and decodes a successful response into out. Non-2xx responses
// become *APIError. When unwrap is set, a {"data": ...} envelope is removed
// before decoding.
func (c *Client) do(hc *http.Client, req *http.Request, out any, unwrap bool) error {
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if unwrap {
		data = unwrapData(data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// unwrapData returns the "data" member of a response envelope, or the body
// unchanged when there is none.
func unwrapData(body []byte) []byte {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return body
	}
	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return body
	}
	return envelope.Data
}

func newRequestID() string {
	return uuid.New().String()
}
