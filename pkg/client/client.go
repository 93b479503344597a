package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/api"
	"github.com/debjordan/ModuleHeatmap/pkg/httputil"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
)

const (
	DefaultTimeout = 30 * time.Second
	userAgent      = "module-heatmap-go"
)

var (
	ErrBaseURLRequired       = errors.New("base URL is required")
	ErrApplicationIDRequired = errors.New("application ID is required")
)

// APIError is a non-2xx response from the heat map service.
type APIError struct {
	StatusCode int
	Message    string
	Details    []string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("heatmap API returned %d: %s", e.StatusCode, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	ApplicationID string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *observability.Logger
	Retry         RetryConfig
}

// Client talks to the heat map HTTP API on behalf of one application.
type Client struct {
	baseURL       *url.URL
	applicationID string
	http          *http.Client
	logger        *observability.Logger
	retry         *RetryPolicy
	timeout       time.Duration
}

// New creates a client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if opts.ApplicationID == "" {
		return nil, ErrApplicationIDRequired
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Client{
		baseURL:       base,
		applicationID: opts.ApplicationID,
		http:          httpClient,
		logger:        logger.WithField("component", "heatmap-client"),
		retry:         NewRetryPolicy(opts.Retry),
		timeout:       opts.Timeout,
	}, nil
}

// ApplicationID returns the application the client reports for.
func (c *Client) ApplicationID() string {
	return c.applicationID
}

// Track records one module access.
func (c *Client) Track(ctx context.Context, req analytics.TrackRequest) (*api.TrackResponse, error) {
	c.fill(&req)
	var resp api.TrackResponse
	if err := c.do(ctx, http.MethodPost, "/api/tracking/track", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TrackBatch records several accesses in one request. Per-item failures are
// reported in the response, not as an error.
func (c *Client) TrackBatch(ctx context.Context, reqs []analytics.TrackRequest) (*api.BatchResponse, error) {
	if len(reqs) > analytics.MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds the maximum of %d", len(reqs), analytics.MaxBatchSize)
	}
	items := make([]analytics.TrackRequest, len(reqs))
	for i, req := range reqs {
		c.fill(&req)
		items[i] = req
	}

	var resp api.BatchResponse
	if err := c.do(ctx, http.MethodPost, "/api/tracking/track/batch", nil, items, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TrackAsync sends one access in the background. Failures are logged.
func (c *Client) TrackAsync(req analytics.TrackRequest) {
	go func() {
		defer observability.RecoverPanic(c.logger, "TrackAsync")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if _, err := c.Track(ctx, req); err != nil {
			c.logger.WithError(err).WithField("module", req.ModuleName).Warn("failed to track module access")
		}
	}()
}

// GetHeatMap returns the heat map for [start, end]. Zero times use the
// server default window.
func (c *Client) GetHeatMap(ctx context.Context, start, end time.Time) (*api.HeatMapResponse, error) {
	var resp api.HeatMapResponse
	p := "/api/analytics/" + url.PathEscape(c.applicationID) + "/heatmap"
	if err := c.do(ctx, http.MethodGet, p, windowQuery(start, end), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetModuleAnalytics returns the metrics of one module.
func (c *Client) GetModuleAnalytics(ctx context.Context, module string, start, end time.Time) (*api.ModuleAnalyticsResponse, error) {
	var resp api.ModuleAnalyticsResponse
	if err := c.do(ctx, http.MethodGet, c.modulePath(module, "analytics"), windowQuery(start, end), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetUnusedModules lists modules not accessed in the last days days.
// Non-positive days use the server default.
func (c *Client) GetUnusedModules(ctx context.Context, days int) (*api.UnusedModulesResponse, error) {
	q := url.Values{}
	if days > 0 {
		q.Set("days_since_last_access", strconv.Itoa(days))
	}
	var resp api.UnusedModulesResponse
	p := "/api/analytics/" + url.PathEscape(c.applicationID) + "/unused-modules"
	if err := c.do(ctx, http.MethodGet, p, q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTopUsers returns the most active users of a module.
func (c *Client) GetTopUsers(ctx context.Context, module string, limit int) (*api.TopUsersResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp api.TopUsersResponse
	if err := c.do(ctx, http.MethodGet, c.modulePath(module, "top-users"), q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) fill(req *analytics.TrackRequest) {
	if req.ApplicationID == "" {
		req.ApplicationID = c.applicationID
	}
}

func (c *Client) modulePath(module, leaf string) string {
	return "/api/analytics/" + url.PathEscape(c.applicationID) + "/modules/" + url.PathEscape(module) + "/" + leaf
}

func windowQuery(start, end time.Time) url.Values {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start_date", start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		q.Set("end_date", end.UTC().Format(time.RFC3339))
	}
	return q
}

// do sends a request, retrying transport failures, 429 and 5xx responses
// according to the retry policy, and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	u := *c.baseURL
	u.RawPath = c.baseURL.EscapedPath() + path
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return fmt.Errorf("invalid request path: %w", err)
	}
	u.Path = unescaped
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	target := u.String()

	for attempt := 1; ; attempt++ {
		err := c.send(ctx, method, target, payload, out)
		if !c.retry.ShouldRetry(attempt, err) {
			return err
		}

		delay := c.retry.NextRetryDelay(attempt, err)
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"method":  method,
			"path":    path,
			"attempt": attempt,
			"delay":   delay.String(),
		}).Debug("retrying heatmap request")
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(httputil.HeaderApplicationID, c.applicationID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response, data []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var body httputil.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Details = body.Details
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
