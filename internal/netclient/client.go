// Package netclient implements the resilient HTTP GET used for registry pages and attachments.
package netclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/backoff"
	"github.com/JakeFAU/customs-regdocs/internal/metrics"
)

const (
	// DefaultTimeout bounds a single request when no override is given.
	DefaultTimeout = 20 * time.Second
	// DefaultRetries is the number of retries after the first transient failure.
	DefaultRetries = 2
	// DefaultBackoff is the first retry delay; later delays double.
	DefaultBackoff = 500 * time.Millisecond
	// DefaultUserAgent is sent on every request.
	DefaultUserAgent = "Mozilla/5.0 (compatible; regdocs/1.0)"
)

// Config controls client behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	Retries      int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxBodyBytes int
	// Transport replaces the default IPv4 transport, mostly for tests.
	Transport http.RoundTripper
	// Fallback is invoked once the primary path gives up. Nil disables it.
	Fallback Fallback
	// Limiter paces primary-path attempts per host. Nil disables pacing.
	Limiter Limiter
}

// Limiter blocks until a request to rawURL may be sent.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Options tweak a single request.
type Options struct {
	Timeout time.Duration
	Headers http.Header
	// Binary requests the raw attachment bytes.
	Binary bool
	// Retries overrides Config.Retries when RetriesProvided is set.
	Retries         int
	RetriesProvided bool
}

// Response is the normalized result of either fetch path.
type Response struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	ViaFallback bool
}

// Client performs GET requests through a colly collector with a process-level fallback.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	backoff       backoff.Exponential
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodyBytes
	c.UserAgent = cfg.UserAgent
	// Per-request deadlines come from the context.
	c.SetRequestTimeout(0)
	transport := cfg.Transport
	if transport == nil {
		transport = newIPv4Transport()
	}
	c.WithTransport(transport)

	return &Client{
		cfg:           cfg,
		baseCollector: c,
		backoff:       backoff.Exponential{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		logger:        logger.Named("netclient"),
	}
}

// Get fetches rawURL, retrying transient failures and falling back to the external fetcher.
// HTTP error statuses return a *StatusError and are never retried.
func (c *Client) Get(ctx context.Context, rawURL string, opts Options) (Response, error) {
	retries := c.cfg.Retries
	if opts.RetriesProvided {
		retries = max(opts.Retries, 0)
	}
	timeout := c.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if c.cfg.Limiter != nil {
			if err := c.cfg.Limiter.Wait(ctx, rawURL); err != nil {
				return Response{}, fmt.Errorf("get %s: %w", rawURL, err)
			}
		}
		resp, err := c.fetchOnce(ctx, rawURL, opts, timeout)
		if err == nil {
			metrics.IncFetch("direct", "ok")
			return resp, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			metrics.IncFetch("direct", "http_error")
			return Response{}, err
		}
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("get %s: %w", rawURL, ctx.Err())
		}
		if !IsTransient(err) {
			metrics.IncFetch("direct", "fatal")
			break
		}
		metrics.IncFetch("direct", "transient")
		if attempt == retries {
			break
		}
		delay := c.backoff.Delay(attempt)
		c.logger.Warn("transient fetch error, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := backoff.Sleep(ctx, delay); err != nil {
			return Response{}, fmt.Errorf("get %s: %w", rawURL, err)
		}
	}

	return c.fallback(ctx, rawURL, opts, timeout, lastErr)
}

// FetchPage returns the body of an HTML page using default options.
func (c *Client) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL, Options{})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Download returns attachment bytes.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL, Options{Binary: true})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) fallback(ctx context.Context, rawURL string, opts Options, timeout time.Duration, cause error) (Response, error) {
	if c.cfg.Fallback == nil {
		return Response{}, fmt.Errorf("get %s: %w", rawURL, cause)
	}
	c.logger.Warn("primary fetch gave up, using fallback",
		zap.String("url", rawURL),
		zap.Error(cause),
	)
	headers := c.requestHeaders(opts)
	resp, err := c.cfg.Fallback.Fetch(ctx, FallbackRequest{
		URL:       rawURL,
		Headers:   headers,
		Timeout:   timeout,
		UserAgent: c.cfg.UserAgent,
	})
	if err != nil {
		metrics.IncFetch("fallback", "error")
		return Response{}, fmt.Errorf("get %s: %w (fallback: %w)", rawURL, cause, err)
	}
	metrics.IncFetch("fallback", "ok")
	resp.ViaFallback = true
	return resp, nil
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string, opts Options, timeout time.Duration) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := c.baseCollector.Clone()
	collector.Context = reqCtx
	c.configureCollectorHooks(collector, opts, start, &result, &fetchErr)

	if err := runCollector(reqCtx, collector, rawURL); err != nil {
		return Response{}, err
	}
	if fetchErr != nil {
		return Response{}, fetchErr
	}
	if result.StatusCode >= http.StatusBadRequest {
		return Response{}, &StatusError{URL: result.URL, StatusCode: result.StatusCode}
	}
	return result, nil
}

func (c *Client) configureCollectorHooks(
	hooks collectorHooks,
	opts Options,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	headers := c.requestHeaders(opts)
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (c *Client) requestHeaders(opts Options) http.Header {
	headers := http.Header{}
	if opts.Binary {
		headers.Set("Accept", "application/pdf,application/octet-stream,*/*")
	} else {
		headers.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
		headers.Set("Accept-Language", "vi,en;q=0.8")
	}
	for key, values := range opts.Headers {
		headers[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	return headers
}

func runCollector(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		// The collector shares ctx, so Visit unwinds promptly.
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit: %w", err)
		}
		return nil
	}
}

func newIPv4Transport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp4", addr)
		},
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
	}
}
