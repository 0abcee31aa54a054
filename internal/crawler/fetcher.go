package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/proxy"
)

var (
	// ErrContentTimeout means the product containers never appeared.
	ErrContentTimeout = errors.New("crawler: timed out waiting for listings")
	// ErrNavigation means a single page could not be loaded.
	ErrNavigation = errors.New("crawler: navigation failed")
)

// Fetcher renders a page and returns its HTML once waitSelector is present.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL, waitSelector, referer string) (string, error)
}

// FetcherOptions tunes the headless browser.
type FetcherOptions struct {
	Headless          bool
	AcceptLanguage    string
	NavigationTimeout time.Duration
	WaitTimeout       time.Duration
}

// ChromeFetcher drives one headless Chrome for the duration of a run. Every
// fetch opens its own tab.
type ChromeFetcher struct {
	opts          FetcherOptions
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// NewChromeFetcher starts the browser with the next proxy and a random user
// agent from pm.
func NewChromeFetcher(opts FetcherOptions, pm *proxy.Manager, logger *zap.Logger) (*ChromeFetcher, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "ro-RO"),
	)
	if ua := pm.GetUserAgent(); ua != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(ua))
	}
	if p := pm.GetProxy(); p != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(p))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run launches the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &ChromeFetcher{
		opts:          opts,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger.Named("fetcher"),
	}, nil
}

// Fetch implements Fetcher.
func (f *ChromeFetcher) Fetch(ctx context.Context, pageURL, waitSelector, referer string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()

	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	if err := chromedp.Run(tabCtx); err != nil {
		return "", fmt.Errorf("open tab: %w", err)
	}

	headers := network.Headers{
		"Accept":     "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Connection": "keep-alive",
	}
	if f.opts.AcceptLanguage != "" {
		headers["Accept-Language"] = f.opts.AcceptLanguage
	}
	if referer != "" {
		headers["Referer"] = referer
	}

	navCtx, cancelNav := context.WithTimeout(tabCtx, f.opts.NavigationTimeout)
	defer cancelNav()
	err := chromedp.Run(navCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.Navigate(pageURL),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %s: %v", ErrNavigation, pageURL, err)
	}

	waitCtx, cancelWait := context.WithTimeout(tabCtx, f.opts.WaitTimeout)
	defer cancelWait()
	if err := chromedp.Run(waitCtx, chromedp.WaitReady(waitSelector, chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s", ErrContentTimeout, pageURL)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrNavigation, pageURL, err)
	}

	var htmlContent string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &htmlContent, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}

	f.logger.Debug("page fetched", zap.String("url", pageURL), zap.Int("bytes", len(htmlContent)))
	return htmlContent, nil
}

// Close shuts the browser down.
func (f *ChromeFetcher) Close() {
	f.browserCancel()
	f.allocCancel()
}

// BrowserExtractor fetches pages through a Fetcher and parses them with
// ExtractPage.
type BrowserExtractor struct {
	fetcher Fetcher
}

func NewBrowserExtractor(f Fetcher) *BrowserExtractor {
	return &BrowserExtractor{fetcher: f}
}

// Extract implements Extractor.
func (e *BrowserExtractor) Extract(ctx context.Context, site domain.SiteDescriptor, pageURL string) (*domain.Page, error) {
	htmlContent, err := e.fetcher.Fetch(ctx, pageURL, site.Selectors.Product, site.URL)
	if err != nil {
		return nil, err
	}
	return ExtractPage(pageURL, htmlContent, site)
}
