// Package api is the HTTP client for the video backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/reelfeed/reelfeed/internal/feed"
	"github.com/reelfeed/reelfeed/internal/metrics"
)

const maxResponseBodyBytes = 4 << 20

type Config struct {
	BaseURL   string
	Timeout   time.Duration     // defaults to 15s
	Transport http.RoundTripper // defaults to http.DefaultTransport
	Logger    *zerolog.Logger
}

type Client struct {
	base   *url.URL
	http   *http.Client
	logger zerolog.Logger
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend URL must be http or https, got %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "api").Logger()
	}

	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		logger: logger,
	}, nil
}

// BaseURL is the backend origin all relative media paths resolve against.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// MediaURL resolves a media path from a feed response. Absolute URLs are
// returned unchanged.
func (c *Client) MediaURL(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

type feedResponse struct {
	Videos *[]feed.Video `json:"videos"`
}

// FetchPage implements feed.Fetcher against GET /video/feed/{category}.
func (c *Client) FetchPage(ctx context.Context, page feed.Page) ([]feed.Video, error) {
	op := "feed " + page.Category.String()

	q := url.Values{}
	q.Set("skip", strconv.Itoa(page.Skip))
	q.Set("limit", strconv.Itoa(page.Limit))
	endpoint := c.endpoint(page.Category.Path()) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Sentinel: ErrNetwork, Op: op, Err: err}
	}
	if page.Token != "" {
		req.Header.Set("Authorization", "Bearer "+page.Token)
		req.Header.Set("Content-Type", "application/json")
	}

	var resp feedResponse
	if err := c.do(req, op, &resp); err != nil {
		return nil, err
	}
	if resp.Videos == nil {
		return nil, &Error{Sentinel: ErrBadResponse, Op: op, Detail: `missing "videos"`}
	}
	return *resp.Videos, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the sign-up form.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	return c.postForToken(ctx, "login", "/auth/login", loginRequest{Email: email, Password: password})
}

// Register creates an account and returns its first bearer token.
func (c *Client) Register(ctx context.Context, reg Registration) (string, error) {
	return c.postForToken(ctx, "register", "/auth/register", reg)
}

func (c *Client) postForToken(ctx context.Context, op, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return "", &Error{Sentinel: ErrNetwork, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var resp tokenResponse
	if err := c.do(req, op, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &Error{Sentinel: ErrBadResponse, Op: op, Detail: "no token in response"}
	}
	return resp.Token, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveBackendRequest(op, 0, time.Since(start))
		c.logger.Debug().Err(err).Str("op", op).Msg("backend request failed")
		return &Error{Sentinel: ErrNetwork, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveBackendRequest(op, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return &Error{Sentinel: ErrNetwork, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sentinel := ErrNetwork
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			sentinel = ErrUnauthorized
		}
		c.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("backend returned error status")
		return &Error{Sentinel: sentinel, Op: op, Status: resp.StatusCode, Detail: errorDetail(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Sentinel: ErrBadResponse, Op: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}

// errorDetail extracts FastAPI-style {"detail": "..."} messages. Validation
// errors, where detail is a list, yield nothing.
func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err != nil {
		return ""
	}
	return detail
}
