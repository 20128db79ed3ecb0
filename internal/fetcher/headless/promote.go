package headless

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
	"github.com/JakeFAU/customs-regdocs/internal/metrics"
)

// Detector decides whether a plain HTTP body needs a headless render.
type Detector interface {
	ShouldPromote(body []byte) (bool, string)
}

// Promoting fetches pages over plain HTTP and re-fetches them through the renderer
// only when the detector flags the body.
type Promoting struct {
	fast     crawler.PageFetcher
	renderer crawler.PageFetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting builds a page source that promotes flagged pages to renderer.
func NewPromoting(fast, renderer crawler.PageFetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{fast: fast, renderer: renderer, detector: detector, logger: logger.Named("promote")}
}

// FetchPage returns the plain body unless it is flagged and the render succeeds.
// Errors from the plain fetch are returned as is.
func (p *Promoting) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	body, err := p.fast.FetchPage(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	promote, reason := p.detector.ShouldPromote(body)
	if !promote {
		return body, nil
	}
	metrics.IncHeadlessPromotion(reason)
	rendered, err := p.renderer.FetchPage(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("headless render failed, using plain body",
			zap.String("url", rawURL),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return body, nil
	}
	p.logger.Debug("page promoted to headless", zap.String("url", rawURL), zap.String("reason", reason))
	return rendered, nil
}
