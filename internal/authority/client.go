// Package authority is the REST client for the MuaTool authority's plain
// HTTPS endpoints: version gating and token/device validation.
package authority

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	pathDashboardVersion    = "/api/dashboard-version"
	pathCheckUserVersion    = "/api/check-user-version"
	pathValidateTokenDevice = "/api/validate-token-device"

	// token sent by the dashboard itself, not a user token
	clientToken = "dashboard_client"
)

// Config configures the REST client. Zero values take defaults.
type Config struct {
	BaseURL    string
	Version    string
	Timeout    time.Duration
	Attempts   int
	RetryDelay time.Duration
	// RateLimit is requests per second; 0 means unlimited.
	RateLimit float64
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://app.muatool.com"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// UserAgent is the header value the authority expects from the dashboard.
func UserAgent(version string) string {
	return "MuaTool Dashboard v" + version
}

// StatusError is a non-2xx answer that survived retries.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("authority %s: status %d", e.Path, e.Status)
}

// Client talks to the authority REST surface.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client. Transient failures and 5xx answers are retried with
// a linear backoff of RetryDelay × attempt.
func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()

	transport := retryablehttp.NewClient()
	transport.Logger = nil

	r := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Attempts-1).
		SetRetryWaitTime(cfg.RetryDelay).
		SetRetryMaxWaitTime(cfg.RetryDelay*time.Duration(cfg.Attempts)).
		SetHeader("User-Agent", UserAgent(cfg.Version)).
		SetHeader("Content-Type", "application/json")
	r.SetTransport(transport.HTTPClient.Transport)
	r.SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
		return cfg.RetryDelay * time.Duration(resp.Request.Attempt), nil
	})
	r.AddRetryCondition(shouldRetry)

	limit := rate.Inf
	burst := 0
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}

	c := &Client{
		http:    r,
		limiter: rate.NewLimiter(limit, burst),
		logger:  slog.Default().With("component", "authority"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func shouldRetry(resp *resty.Response, err error) bool {
	ctx := context.Background()
	var raw *http.Response
	if resp != nil {
		raw = resp.RawResponse
		if resp.Request != nil {
			ctx = resp.Request.Context()
		}
	}
	if err == nil && raw == nil {
		return false
	}
	ok, _ := retryablehttp.DefaultRetryPolicy(ctx, raw, err)
	return ok
}

// VersionInfo is the answer of the dashboard-version endpoint.
type VersionInfo struct {
	Blocked     []string `json:"blocked"`
	DownloadURL string   `json:"downloadUrl"`
}

// Compatibility is the answer of the check-user-version endpoint.
type Compatibility struct {
	Valid           bool   `json:"valid"`
	UpdateRequired  bool   `json:"updateRequired"`
	RequiredVersion string `json:"requiredVersion"`
	AllowSkip       bool   `json:"allowSkip"`
	DownloadURL     string `json:"downloadUrl"`
	Message         string `json:"message"`
}

func (c *Client) DashboardVersion(ctx context.Context) (*VersionInfo, error) {
	var out VersionInfo
	if err := c.do(ctx, http.MethodGet, pathDashboardVersion, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckUserVersion(ctx context.Context, version string) (*Compatibility, error) {
	var out Compatibility
	body := map[string]string{"userVersion": version, "token": clientToken}
	if err := c.do(ctx, http.MethodPost, pathCheckUserVersion, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateTokenDevice binds token to the device described by deviceRaw and
// returns the authority's answer as-is.
func (c *Client) ValidateTokenDevice(ctx context.Context, token string, deviceRaw any) (map[string]any, error) {
	out := map[string]any{}
	body := map[string]any{"token": token, "device_raw_data": deviceRaw}
	if err := c.do(ctx, http.MethodPost, pathValidateTokenDevice, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("authority %s: %w", path, err)
	}

	req := c.http.R().SetContext(ctx).SetResult(out)
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Warn("request failed", "path", path, "error", err)
		return fmt.Errorf("authority %s: %w", path, err)
	}
	c.logger.Debug("request done", "path", path, "status", resp.StatusCode(),
		"attempts", resp.Request.Attempt, "duration", time.Since(start))

	if resp.IsError() {
		return &StatusError{Path: path, Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
