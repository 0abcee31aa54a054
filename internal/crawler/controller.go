// Package crawler paginates the configured sites for a query, turns every
// results page into catalog observations and stops each site once it runs
// out of useful results.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/price-tracker/internal/catalog"
	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/matcher"
	"github.com/user/price-tracker/internal/monitoring"
	"github.com/user/price-tracker/internal/parse"
)

// Extractor loads one results page of a site.
type Extractor interface {
	Extract(ctx context.Context, site domain.SiteDescriptor, pageURL string) (*domain.Page, error)
}

// Reconciler writes accepted listings to the catalog.
type Reconciler interface {
	UpsertProduct(ctx context.Context, obs catalog.Observation, coolDown time.Duration) (int64, error)
	UpsertPriceHistory(ctx context.Context, productID int64, priceMinor *int64, coolDown time.Duration) (catalog.Outcome, error)
}

// SiteState is where a site is in its pagination.
type SiteState int

const (
	SiteActive SiteState = iota
	SiteExhausted
)

func (s SiteState) String() string {
	if s == SiteExhausted {
		return "exhausted"
	}
	return "active"
}

// ExhaustReason records why a site stopped paginating.
type ExhaustReason string

const (
	ReasonNoSearchURL    ExhaustReason = "no_search_url"
	ReasonContentTimeout ExhaustReason = "content_timeout"
	ReasonNoContainers   ExhaustReason = "no_containers"
	ReasonEndOfResults   ExhaustReason = "end_of_results"
	ReasonEmptyYield     ExhaustReason = "empty_yield"
	ReasonFetchFailed    ExhaustReason = "fetch_failed"
)

// SiteProgress is the per-site state of a run.
type SiteProgress struct {
	Site     string        `json:"site"`
	State    SiteState     `json:"-"`
	Reason   ExhaustReason `json:"reason,omitempty"`
	Pages    int           `json:"pages"`
	Accepted int           `json:"accepted"`
}

// RunRequest is one scrape run.
type RunRequest struct {
	Query    string
	Sites    []domain.SiteDescriptor
	Filters  domain.Filters
	CoolDown time.Duration
}

// RunResult summarizes a run. Changed counts listings written to the
// catalog.
type RunResult struct {
	Changed int
	Rounds  int
	Sites   []SiteProgress
}

// Controller runs the round-robin pagination over all sites.
type Controller struct {
	extractor  Extractor
	reconciler Reconciler
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	roundDelay time.Duration
	parallel   bool
	sleep      func(ctx context.Context, d time.Duration) error
}

type ControllerOption func(*Controller)

// WithRoundDelay sets the pause between pagination rounds.
func WithRoundDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.roundDelay = d }
}

// WithParallelFetch fetches the pages of a round concurrently. Listings are
// still reconciled one at a time in site order.
func WithParallelFetch(enabled bool) ControllerOption {
	return func(c *Controller) { c.parallel = enabled }
}

func NewController(ex Extractor, rec Reconciler, m *monitoring.Metrics, l *zap.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		extractor:  ex,
		reconciler: rec,
		metrics:    m,
		logger:     l.Named("controller"),
		roundDelay: 3 * time.Second,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchURL fills the {query} and {page} placeholders of a site template.
func SearchURL(template, query string, page int) string {
	q := url.QueryEscape(strings.ReplaceAll(query, `"`, ""))
	return strings.NewReplacer("{query}", q, "{page}", strconv.Itoa(page)).Replace(template)
}

type cursor struct {
	site     domain.SiteDescriptor
	progress *SiteProgress
}

type fetched struct {
	page *domain.Page
	err  error
}

// Run paginates every site until all of them are exhausted. It returns the
// partial result together with the error when a fatal failure stops it.
func (c *Controller) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	m := matcher.Build(req.Query)
	c.logger.Info("run started",
		zap.String("query", req.Query),
		zap.Int("tokens", len(m.Patterns())),
		zap.Strings("phrases", m.Phrases()),
		zap.Int("min_hits", m.MinHits()),
		zap.Int("sites", len(req.Sites)),
	)

	result := &RunResult{Sites: make([]SiteProgress, len(req.Sites))}
	cursors := make([]cursor, len(req.Sites))
	for i, s := range req.Sites {
		result.Sites[i] = SiteProgress{Site: s.Name, State: SiteActive}
		cursors[i] = cursor{site: s, progress: &result.Sites[i]}
		if s.URL == "" || s.SearchTemplate == "" {
			c.exhaust(cursors[i], ReasonNoSearchURL)
		}
	}

	for page := 1; ; page++ {
		active := activeCursors(cursors)
		if len(active) == 0 {
			break
		}
		result.Rounds = page

		var prefetched []fetched
		if c.parallel && len(active) > 1 {
			var err error
			if prefetched, err = c.fetchRound(ctx, active, req.Query, page); err != nil {
				return result, err
			}
		}

		for i, cur := range active {
			var f fetched
			if prefetched != nil {
				f = prefetched[i]
			} else {
				f = c.fetch(ctx, cur, req.Query, page)
			}
			accepted, err := c.processPage(ctx, cur, f, m, req)
			result.Changed += accepted
			if err != nil {
				return result, err
			}
		}

		if len(activeCursors(cursors)) == 0 {
			break
		}
		if err := c.sleep(ctx, c.roundDelay); err != nil {
			return result, err
		}
	}

	c.logger.Info("run finished", zap.Int("changed", result.Changed), zap.Int("rounds", result.Rounds))
	return result, nil
}

func activeCursors(cursors []cursor) []cursor {
	var out []cursor
	for _, cur := range cursors {
		if cur.progress.State == SiteActive {
			out = append(out, cur)
		}
	}
	return out
}

func (c *Controller) fetch(ctx context.Context, cur cursor, query string, page int) fetched {
	pageURL := SearchURL(cur.site.SearchTemplate, query, page)
	c.logger.Info("fetching page", zap.String("site", cur.site.Name), zap.String("url", pageURL))
	p, err := c.extractor.Extract(ctx, cur.site, pageURL)
	return fetched{page: p, err: err}
}

// fetchRound loads the pages of one round concurrently. A fatal error cancels
// the remaining fetches.
func (c *Controller) fetchRound(ctx context.Context, active []cursor, query string, page int) ([]fetched, error) {
	out := make([]fetched, len(active))
	g, gctx := errgroup.WithContext(ctx)
	for i, cur := range active {
		g.Go(func() error {
			out[i] = c.fetch(gctx, cur, query, page)
			if err := out[i].err; err != nil && !recoverable(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func recoverable(err error) bool {
	return errors.Is(err, ErrContentTimeout) || errors.Is(err, ErrNavigation)
}

func (c *Controller) exhaust(cur cursor, reason ExhaustReason) {
	cur.progress.State = SiteExhausted
	cur.progress.Reason = reason
	c.metrics.IncExhausted(cur.site.Name, string(reason))
	c.logger.Info("site exhausted",
		zap.String("site", cur.site.Name),
		zap.String("reason", string(reason)),
		zap.Int("pages", cur.progress.Pages),
	)
}

func (c *Controller) processPage(ctx context.Context, cur cursor, f fetched, m *matcher.Matcher, req RunRequest) (int, error) {
	site := cur.site
	if f.err != nil {
		switch {
		case errors.Is(f.err, ErrContentTimeout):
			c.exhaust(cur, ReasonContentTimeout)
			return 0, nil
		case errors.Is(f.err, ErrNavigation):
			c.logger.Warn("page failed", zap.String("site", site.Name), zap.Error(f.err))
			c.metrics.IncErrorsTotal("fetch_failed")
			c.exhaust(cur, ReasonFetchFailed)
			return 0, nil
		default:
			c.metrics.IncErrorsTotal("extractor_failed")
			return 0, fmt.Errorf("extract %s: %w", site.Name, f.err)
		}
	}

	cur.progress.Pages++
	c.metrics.IncPages(site.Name)

	if f.page.Containers == 0 {
		c.exhaust(cur, ReasonNoContainers)
		return 0, nil
	}
	if f.page.EndOfResults {
		c.exhaust(cur, ReasonEndOfResults)
		return 0, nil
	}

	conv := parse.ConventionFor(site.DecimalSeparator)
	yielded := false
	accepted := 0

	for _, l := range f.page.Listings {
		if l.Excluded {
			c.metrics.IncListings(site.Name, "excluded")
			continue
		}
		price := parse.ParsePrice(l.PriceText, conv)
		rating := parse.ParseRating(l.RatingText)

		if l.Title == "" || l.Title == domain.NotAvailable || !m.Match(l.Title) {
			c.metrics.IncListings(site.Name, "unmatched")
			continue
		}
		yielded = true

		var value *float64
		if v, ok := price.Float(); ok {
			value = &v
		}
		if !req.Filters.Allow(value, rating.Value, rating.Count) {
			c.metrics.IncListings(site.Name, "filtered")
			continue
		}

		currency := price.Currency
		if l.Currency != "" {
			currency = l.Currency
		}
		obs := catalog.Observation{
			SiteName:     site.Name,
			ExternalID:   l.ExternalID,
			Title:        l.Title,
			Link:         l.Link,
			ImageLink:    l.ImageLink,
			Currency:     currency,
			Rating:       rating.Value,
			RatingsCount: rating.Count,
		}

		id, err := c.reconciler.UpsertProduct(ctx, obs, req.CoolDown)
		if err != nil {
			c.metrics.IncErrorsTotal("db_save_failed")
			return accepted, fmt.Errorf("upsert product %s/%s: %w", site.Name, l.ExternalID, err)
		}
		outcome, err := c.reconciler.UpsertPriceHistory(ctx, id, price.Minor(), req.CoolDown)
		if err != nil {
			c.metrics.IncErrorsTotal("db_save_failed")
			return accepted, fmt.Errorf("upsert price history %d: %w", id, err)
		}
		c.metrics.IncHistory(outcome.String())
		c.metrics.IncListings(site.Name, "accepted")
		c.logger.Debug("listing accepted",
			zap.String("site", site.Name),
			zap.String("title", l.Title),
			zap.String("outcome", outcome.String()),
		)
		accepted++
	}

	cur.progress.Accepted += accepted
	if !yielded {
		c.exhaust(cur, ReasonEmptyYield)
	}
	return accepted, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
