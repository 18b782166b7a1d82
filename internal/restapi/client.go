// Package restapi is the HTTP client shared by every REST surface of the
// platform: auth endpoints, the memory API, and health probes. It stamps the
// credential and tracing headers on each request and maps response statuses
// onto the shared fault taxonomy.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanonasis/memctl-go/internal/faults"
)

// DefaultTimeout bounds any single REST call.
const DefaultTimeout = 10 * time.Second

// Scheme selects how the credential travels.
type Scheme string

const (
	SchemeBearer Scheme = "bearer" // Authorization: Bearer <value>
	SchemeAPIKey Scheme = "apikey" // X-API-Key: <value>
)

// CredentialHeader is what gets stamped on an authenticated request.
type CredentialHeader struct {
	Scheme Scheme
	Value  string
	Method string // jwt, vendor_key, oauth; sent as X-Auth-Method
}

// HeaderSource yields the current credential header per request; returning
// nil sends the request anonymously. Pulling per request keeps refreshed
// tokens current without rebuilding clients.
type HeaderSource func() *CredentialHeader

// Client is a JSON-over-HTTP client for one base URL.
type Client struct {
	baseURL      string
	projectScope string
	headers      HeaderSource
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient creates a client for baseURL. headers may be nil for endpoints
// that take no credentials (discovery, public health).
func NewClient(baseURL, projectScope string, headers HeaderSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		projectScope: projectScope,
		headers:      headers,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		logger:       logger.With(zap.String("component", "restapi")),
	}
}

// SetTimeout adjusts the per-call timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// BaseURL returns the base this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET and decodes a JSON response into out (out may be nil).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do performs one JSON request. Non-2xx statuses become classified faults;
// transport failures become network faults so retry loops can tell them
// apart from rejections.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.projectScope != "" {
		req.Header.Set("X-Project-Scope", c.projectScope)
	}
	c.applyCredential(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return faults.Wrap(faults.Network, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	c.logger.Debug("rest call",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return faults.FromStatus(resp.StatusCode, errorDetail(resp, method, path))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return faults.Wrap(faults.Server, "failed to parse response body", err)
	}
	return nil
}

func (c *Client) applyCredential(req *http.Request) {
	if c.headers == nil {
		return
	}
	cred := c.headers()
	if cred == nil || cred.Value == "" {
		return
	}
	switch cred.Scheme {
	case SchemeAPIKey:
		req.Header.Set("X-API-Key", cred.Value)
	default:
		req.Header.Set("Authorization", "Bearer "+cred.Value)
	}
	if cred.Method != "" {
		req.Header.Set("X-Auth-Method", cred.Method)
	}
}

// errorDetail extracts a short human-readable cause from an error response.
func errorDetail(resp *http.Response, method, path string) string {
	detail := fmt.Sprintf("%s %s", method, path)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil || len(data) == 0 {
		return detail
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Message != "" {
			return fmt.Sprintf("%s: %s", detail, payload.Message)
		}
		if payload.Error != "" {
			return fmt.Sprintf("%s: %s", detail, payload.Error)
		}
	}
	return detail
}
