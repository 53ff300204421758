package collector

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/drawpulse/drawpulse/internal/pipeline"
)

// ClientConfig controls source HTTP behavior.
type ClientConfig struct {
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	RateLimitRPS   float64
	RateBurst      int
}

// Client fetches source payloads with rate limiting and bounded retries.
// Timeouts and 5xx responses are retried with exponential backoff; 4xx
// responses are permanent and returned immediately.
type Client struct {
	cfg     ClientConfig
	base    *colly.Collector
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds a Client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}
	limit := rate.Limit(cfg.RateLimitRPS)
	if cfg.RateLimitRPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	// colly v2.1.0's Async option ignores its argument and always
	// enables async mode, so set the field directly.
	c := colly.NewCollector()
	c.Async = false
	c.IgnoreRobotsTxt = true
	// The same endpoints are polled every tick and retried on failure.
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())

	return &Client{
		cfg:     cfg,
		base:    c,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Get fetches one endpoint body, waiting on the rate limiter before
// every attempt. Returns TransientSourceError after the retry budget is
// exhausted, PermanentSourceError on 4xx.
func (c *Client) Get(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	backoff := c.cfg.BackoffInitial

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		body, status, err := c.fetch(ctx, endpoint)
		switch {
		case err == nil && status >= 200 && status < 300:
			return body, nil
		case status >= 400 && status < 500:
			return nil, &pipeline.PermanentSourceError{
				Endpoint: endpoint,
				Err:      fmt.Errorf("status %d", status),
			}
		case status >= 500:
			lastErr = fmt.Errorf("status %d", status)
		case err != nil:
			lastErr = err
		default:
			lastErr = fmt.Errorf("unexpected status %d", status)
		}

		c.logger.Warn("source request failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.cfg.MaxRetries+1),
			zap.Error(lastErr),
		)

		if attempt < c.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.BackoffMax {
				backoff = c.cfg.BackoffMax
			}
		}
	}
	return nil, &pipeline.TransientSourceError{Endpoint: endpoint, Err: lastErr}
}

// fetch runs a single GET through a cloned collector.
func (c *Client) fetch(ctx context.Context, endpoint string) (body []byte, status int, err error) {
	collector := c.base.Clone()
	collector.IgnoreRobotsTxt = true
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)

	var fetchErr error
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(endpoint)
	}()

	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		if status == 0 && visitErr != nil {
			return nil, 0, fmt.Errorf("visit %s: %w", endpoint, visitErr)
		}
		if fetchErr != nil && status == 0 {
			return nil, 0, fmt.Errorf("fetch %s: %w", endpoint, fetchErr)
		}
		return body, status, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
