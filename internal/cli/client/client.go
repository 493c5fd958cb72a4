package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/financas-app/financas/internal/cli/credstore"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the API root including the versioned prefix
	DefaultBaseURL = "http://localhost:8000/api/v1"

	HeaderAuthorization = "Authorization"
	HeaderActAsUser     = "X-Act-As-User"
	HeaderRequestID     = "X-Request-ID"

	defaultUserAgent = "financas-cli"
)

// UnauthorizedEvent is emitted once per call that received a 401
type UnauthorizedEvent struct {
	Method string
	Path   string
}

// Client is the single outbound channel to the API. Every call reads the
// credential store, and every 401 clears it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      credstore.Store
	limiter    *rate.Limiter
	userAgent  string
	logger     zerolog.Logger

	mu          sync.RWMutex
	nextSubID   int
	subscribers map[int]func(UnauthorizedEvent)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTimeout sets the per-request timeout of the underlying HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimit paces outbound requests; rps <= 0 disables pacing
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a new API client
func New(baseURL string, store credstore.Store, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		store:       store,
		userAgent:   defaultUserAgent,
		logger:      zerolog.Nop(),
		subscribers: make(map[int]func(UnauthorizedEvent)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// BaseURL returns the API root this client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Store returns the credential store the client reads on every request
func (c *Client) Store() credstore.Store {
	return c.store
}

// OnUnauthorized subscribes fn to 401 events. Subscribers run in the order
// they subscribed. The returned func unsubscribes.
func (c *Client) OnUnauthorized(fn func(UnauthorizedEvent)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *Client) emitUnauthorized(ev UnauthorizedEvent) {
	c.mu.RLock()
	ids := make([]int, 0, len(c.subscribers))
	for id := range c.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(UnauthorizedEvent), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, c.subscribers[id])
	}
	c.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// formBody marks a request body to be sent form-encoded instead of JSON
type formBody struct {
	values url.Values
}

// Form wraps values so Do sends them as application/x-www-form-urlencoded
func Form(values url.Values) interface{} {
	return formBody{values: values}
}

type requestConfig struct {
	headers http.Header
	query   url.Values
}

// RequestOption customizes a single call
type RequestOption func(*requestConfig)

func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) { rc.headers.Set(key, value) }
}

func WithQuery(query url.Values) RequestOption {
	return func(rc *requestConfig) {
		for k, vs := range query {
			for _, v := range vs {
				rc.query.Add(k, v)
			}
		}
	}
}

func encodeBody(body interface{}) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case formBody:
		return strings.NewReader(b.values.Encode()), "application/x-www-form-urlencoded", nil
	default:
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request: %w", err)
		}
		return bytes.NewReader(jsonData), "application/json", nil
	}
}

// Do sends one request and decodes a 2xx JSON response into out (which may be
// nil). Non-2xx responses return *APIError, transport failures *NetworkError.
// It never retries.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}, opts ...RequestOption) error {
	rc := &requestConfig{headers: http.Header{}, query: url.Values{}}
	for _, opt := range opts {
		opt(rc)
	}

	reqBody, contentType, err := encodeBody(body)
	if err != nil {
		return err
	}

	target := c.baseURL + path
	if len(rc.query) > 0 {
		target += "?" + rc.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	requestID := ulid.Make().String()
	req.Header.Set(HeaderRequestID, requestID)

	if err := c.authorize(req); err != nil {
		return err
	}
	for k, vs := range rc.headers {
		req.Header[k] = vs
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &NetworkError{Method: method, Path: path, Err: err}
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Str("request_id", requestID).Msg("api request failed")
		return &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Dur("duration", time.Since(start)).
		Msg("api request")

	if resp.StatusCode == http.StatusUnauthorized {
		c.handleUnauthorized(method, path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, readErr := io.ReadAll(resp.Body)
		apiErr := newAPIError(method, path, resp.StatusCode, respBody)
		if readErr != nil {
			c.logger.Debug().Err(readErr).Str("request_id", requestID).Msg("failed to read error body")
			apiErr.BodyErr = readErr
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// authorize attaches the stored credential to req
func (c *Client) authorize(req *http.Request) error {
	if c.store == nil {
		return nil
	}

	cred, err := c.store.Get()
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	if cred.AccessToken != "" {
		req.Header.Set(HeaderAuthorization, "Bearer "+cred.AccessToken)
	}
	if cred.ActingAsUserID != "" {
		req.Header.Set(HeaderActAsUser, cred.ActingAsUserID)
	}
	return nil
}

// handleUnauthorized clears stored credentials and notifies subscribers.
// It runs for every 401, including the login endpoint's.
func (c *Client) handleUnauthorized(method, path string) {
	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			c.logger.Error().Err(err).Msg("failed to clear credentials after 401")
		}
	}
	c.logger.Warn().Str("method", method).Str("path", path).Msg("unauthorized response, credentials cleared")
	c.emitUnauthorized(UnauthorizedEvent{Method: method, Path: path})
}
