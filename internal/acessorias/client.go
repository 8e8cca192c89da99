package acessorias

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	maxAttempts     = 7
	bodyExcerptSize = 400
)

// Options configure a Client. Zero values fall back to the deployed
// defaults.
type Options struct {
	BaseURL    string
	Token      string
	RateBudget int
	HTTPClient *http.Client
	UserAgent  string
	Logger     *slog.Logger
	// Sleep is swapped out in tests; defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client issues calls against the Acessórias API under a per-minute
// rate budget, with bounded exponential backoff plus jitter for
// transient failures.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	// Minimum spacing between calls, derived from the rate budget.
	sleepInterval time.Duration
	lastCall      time.Time
}

func New(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, fmt.Errorf("acessorias: token is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.acessorias.com"
	}
	budget := opts.RateBudget
	if budget <= 0 {
		budget = 60
	}
	interval := time.Duration(float64(time.Minute) / float64(budget))
	if interval < 200*time.Millisecond {
		interval = 200 * time.Millisecond
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Client{
		baseURL:       baseURL,
		token:         token,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		log:           logger.With("component", "acessorias"),
		sleep:         sleep,
		sleepInterval: interval,
	}, nil
}

// SleepInterval returns the enforced minimum spacing between calls.
func (c *Client) SleepInterval() time.Duration { return c.sleepInterval }

// Pace blocks until the minimum inter-call spacing has elapsed since
// the previous call completed.
func (c *Client) Pace(ctx context.Context) error {
	if c.lastCall.IsZero() {
		return nil
	}
	elapsed := time.Since(c.lastCall)
	if elapsed >= c.sleepInterval {
		return nil
	}
	return c.sleep(ctx, c.sleepInterval-elapsed)
}

// request performs one logical API call, retrying transient failures
// up to the attempt ceiling. 2xx with an empty body decodes to an
// empty list.
func (c *Client) request(ctx context.Context, method, path string, params url.Values) (any, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	if err := c.Pace(ctx); err != nil {
		return nil, err
	}
	defer func() { c.lastCall = time.Now() }()

	var lastStatus int
	var lastExcerpt string
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			wait := backoffDelay(attempt)
			c.log.Warn("network error, retrying", "error", err, "wait", wait, "attempt", attempt, "max", maxAttempts)
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil, serr
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if serr := c.sleep(ctx, backoffDelay(attempt)); serr != nil {
				return nil, serr
			}
			continue
		}
		status := resp.StatusCode
		c.log.Debug("http_response", "url", fullURL, "status", status)

		switch {
		case status >= 200 && status < 300:
			if len(body) == 0 {
				return []any{}, nil
			}
			var payload any
			if err := json.Unmarshal(body, &payload); err != nil {
				return string(body), nil
			}
			return payload, nil

		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return nil, &TerminalError{Kind: KindAuth, Status: status, URL: fullURL}

		case status == http.StatusNotFound:
			return nil, &TerminalError{Kind: KindNotFound, Status: status, URL: fullURL}

		case status == http.StatusTooManyRequests:
			wait := retryAfterDelay(resp.Header.Get("Retry-After"))
			if wait <= 0 {
				wait = backoffDelay(attempt)
			}
			lastStatus, lastExcerpt, lastErr = status, excerpt(body), nil
			c.log.Warn("rate limited, waiting", "wait", wait, "attempt", attempt, "max", maxAttempts)
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil, serr
			}

		case status >= 500 && status < 600:
			wait := backoffDelay(attempt)
			lastStatus, lastExcerpt, lastErr = status, excerpt(body), nil
			c.log.Warn("server error, retrying", "status", status, "wait", wait, "attempt", attempt, "max", maxAttempts)
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil, serr
			}

		default:
			return nil, &ExhaustedRetriesError{
				Attempts:    attempt,
				LastStatus:  status,
				BodyExcerpt: excerpt(body),
			}
		}
	}

	return nil, &ExhaustedRetriesError{
		Attempts:    maxAttempts,
		LastStatus:  lastStatus,
		BodyExcerpt: lastExcerpt,
		LastErr:     lastErr,
	}
}

// backoffDelay is 2^attempt seconds plus up to half a second of jitter.
func backoffDelay(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	jitter := time.Duration(rand.Float64() * 500 * float64(time.Millisecond))
	return base + jitter
}

func retryAfterDelay(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func excerpt(body []byte) string {
	if len(body) > bodyExcerptSize {
		body = body[:bodyExcerptSize]
	}
	return string(body)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
