package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/metrics"
)

// ListingProgress receives per-page crawl progress. Implementations must be safe
// for use from the crawling goroutine; a nil ListingProgress is allowed.
type ListingProgress interface {
	ListingPage(page int, parser string, entries int)
}

// ListingCrawler paginates the registry listing.
type ListingCrawler struct {
	registry  RegistryConfig
	pages     PageFetcher
	snapshots SnapshotSource
	html      ListingParser
	markdown  ListingParser
	logger    *zap.Logger
}

// NewListingCrawler wires the HTML page source and the optional snapshot fallback.
func NewListingCrawler(registry RegistryConfig, pages PageFetcher, snapshots SnapshotSource, mirrorBase string, logger *zap.Logger) *ListingCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry.PageParam == "" {
		registry.PageParam = "page"
	}
	return &ListingCrawler{
		registry:  registry,
		pages:     pages,
		snapshots: snapshots,
		html:      HTMLListingParser{},
		markdown:  MarkdownListingParser{RequiredParams: registry.RequiredParams, MirrorBase: mirrorBase},
		logger:    logger.Named("listing"),
	}
}

// PageURL builds the listing URL for a page number.
func (c *ListingCrawler) PageURL(page int, extra url.Values) (string, error) {
	base, err := url.Parse(c.registry.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse registry base url: %w", err)
	}
	u, err := base.Parse(c.registry.ListPath)
	if err != nil {
		return "", fmt.Errorf("parse listing path: %w", err)
	}
	q := u.Query()
	for key, values := range c.registry.RequiredParams {
		q[key] = append([]string(nil), values...)
	}
	for key, values := range extra {
		q[key] = append([]string(nil), values...)
	}
	q.Set(c.registry.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Crawl walks listing pages starting at opts.FromPage until a page contributes no new
// entries, MaxPages pages were fetched or MaxDocuments entries were collected.
// "New" is counted after deduplication by document number, so a page that only
// repeats documents already seen ends the walk even if later pages hold more
// (registries that ignore the page parameter serve page 1 forever). Page failures
// are logged and end the walk like an empty page.
func (c *ListingCrawler) Crawl(ctx context.Context, opts CrawlOptions, progress ListingProgress) ([]ListingEntry, error) {
	from := max(opts.FromPage, 1)
	maxPages := max(opts.MaxPages, 1)

	seen := make(map[string]struct{})
	var out []ListingEntry
	capReached := func() bool {
		return opts.MaxDocuments > 0 && len(out) >= opts.MaxDocuments
	}

	for page := from; page < from+maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("crawl listing: %w", err)
		}
		entries, parser := c.fetchPage(ctx, page, opts.Query)
		metrics.IncListingPage(parser)

		added := 0
		for _, entry := range entries {
			key := strings.ToLower(entry.DocumentNumber)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, entry)
			added++
			if capReached() {
				break
			}
		}
		if progress != nil {
			progress.ListingPage(page, parser, added)
		}
		c.logger.Info("listing page crawled",
			zap.Int("page", page),
			zap.String("parser", parser),
			zap.Int("entries", len(entries)),
			zap.Int("new_entries", added),
		)
		if capReached() {
			c.logger.Info("max documents reached", zap.Int("max_documents", opts.MaxDocuments))
			break
		}
		if added == 0 {
			break
		}
	}
	return out, nil
}

func (c *ListingCrawler) fetchPage(ctx context.Context, page int, query url.Values) ([]ListingEntry, string) {
	pageURL, err := c.PageURL(page, query)
	if err != nil {
		c.logger.Error("build listing url", zap.Int("page", page), zap.Error(err))
		return nil, "empty"
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		c.logger.Error("parse listing url", zap.String("url", pageURL), zap.Error(err))
		return nil, "empty"
	}

	body, err := c.pages.FetchPage(ctx, pageURL)
	if err != nil {
		c.logger.Warn("listing page fetch failed", zap.String("url", pageURL), zap.Error(err))
	} else {
		entries, err := c.html.ParseListing(body, parsed)
		if err != nil {
			c.logger.Warn("listing html parse failed", zap.String("url", pageURL), zap.Error(err))
		}
		if len(entries) > 0 {
			return entries, "html"
		}
	}

	if c.snapshots == nil || ctx.Err() != nil {
		return nil, "empty"
	}
	md, err := c.snapshots.Snapshot(ctx, pageURL)
	if err != nil {
		c.logger.Warn("listing snapshot failed", zap.String("url", pageURL), zap.Error(err))
		return nil, "empty"
	}
	entries, err := c.markdown.ParseListing(md, parsed)
	if err != nil {
		c.logger.Warn("listing markdown parse failed", zap.String("url", pageURL), zap.Error(err))
		return nil, "empty"
	}
	if len(entries) == 0 {
		return nil, "empty"
	}
	return entries, "markdown"
}
