// Package headless renders registry pages in headless Chrome for sites that build
// their tables with JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultWait       = 30 * time.Second
)

// Config controls the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector is the element that marks a rendered page. Defaults to "table".
	WaitSelector string
	// Wait bounds how long to wait for WaitSelector before returning the page as is.
	Wait time.Duration
}

// Renderer is a crawler.PageFetcher backed by chromedp.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New starts a browser allocator. Chrome itself is launched lazily on first use.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.Wait <= 0 {
		cfg.Wait = defaultWait
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "table"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("headless"),
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// FetchPage navigates to rawURL, waits for the configured selector and returns the
// rendered DOM. A page whose selector never appears is still returned so callers can
// fall back to other parsers.
func (r *Renderer) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	// Stop the tab when the caller goes away.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout+r.cfg.Wait)
	defer cancel()

	meta := &documentStatus{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	if err := chromedp.Run(taskCtx, r.setupAction(), chromedp.Navigate(rawURL)); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if status := meta.get(); status >= 400 {
		return nil, fmt.Errorf("navigate %s: http status %d", rawURL, status)
	}

	waitCtx, waitCancel := context.WithTimeout(taskCtx, r.cfg.Wait)
	err := chromedp.Run(waitCtx, chromedp.WaitReady(r.cfg.WaitSelector, chromedp.ByQuery))
	waitCancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("wait for %s: %w", r.cfg.WaitSelector, ctx.Err())
		}
		r.logger.Info("selector not rendered, returning page as is",
			zap.String("url", rawURL),
			zap.String("selector", r.cfg.WaitSelector),
			zap.Duration("waited", r.cfg.Wait),
		)
	}

	var html string
	if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("read rendered html: %w", err)
	}
	return []byte(html), nil
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// documentStatus records the HTTP status of the main document response.
type documentStatus struct {
	mu     sync.Mutex
	status int
}

func (d *documentStatus) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.mu.Unlock()
}

func (d *documentStatus) get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
