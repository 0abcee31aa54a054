package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/catalog"
	"github.com/user/price-tracker/internal/config"
	"github.com/user/price-tracker/internal/crawler"
	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/monitoring"
	"github.com/user/price-tracker/internal/storage"
)

type fakeDocs struct {
	mu      sync.Mutex
	doc     *config.Document
	loadErr error
	saved   []int
}

var _ DocumentStore = (*fakeDocs)(nil)

func (f *fakeDocs) Load() (*config.Document, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.doc, nil
}

func (f *fakeDocs) SaveRunResult(changed int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, changed)
	return nil
}

type onePageExtractor struct {
	titles []string
	block  chan struct{}
	served map[string]bool
	mu     sync.Mutex
}

func (e *onePageExtractor) Extract(ctx context.Context, site domain.SiteDescriptor, pageURL string) (*domain.Page, error) {
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.served[site.Name] {
		return &domain.Page{}, nil
	}
	e.served[site.Name] = true
	p := &domain.Page{Containers: len(e.titles)}
	for i, title := range e.titles {
		p.Listings = append(p.Listings, domain.Listing{
			Title:      title,
			PriceText:  "1.500 Lei",
			RatingText: domain.NotAvailable,
			ExternalID: string(rune('a' + i)),
			Link:       "https://shop.example/p",
			ImageLink:  domain.NotAvailable,
		})
	}
	return p, nil
}

type nopReconciler struct{ calls int }

func (r *nopReconciler) UpsertProduct(ctx context.Context, obs catalog.Observation, coolDown time.Duration) (int64, error) {
	r.calls++
	return int64(r.calls), nil
}

func (r *nopReconciler) UpsertPriceHistory(ctx context.Context, id int64, price *int64, coolDown time.Duration) (catalog.Outcome, error) {
	return catalog.FirstPrice, nil
}

type countingTracker struct {
	*storage.MemoryRunTracker
	refreshes atomic.Int32
}

var _ RunTracker = (*countingTracker)(nil)

func (c *countingTracker) Refresh(ctx context.Context, ttl time.Duration) (bool, error) {
	c.refreshes.Add(1)
	return c.MemoryRunTracker.Refresh(ctx, ttl)
}

type fakeAlerter struct{ users []string }

func (a *fakeAlerter) Alert(ctx context.Context, userID string) (int, error) {
	a.users = append(a.users, userID)
	return 1, nil
}

func document() *config.Document {
	return &config.Document{
		Sites: []domain.SiteDescriptor{{
			Name:           "emag",
			URL:            "https://emag.example",
			SearchTemplate: "https://emag.example/search/{query}/p{page}",
			Selectors:      domain.Selectors{Product: "div.card", Title: "a"},
		}},
		Schedule: config.Schedule{Query: "samsung a55", Time: "20:37"},
		Notify:   config.Notify{DiscordUserID: "77"},
	}
}

func newUseCase(docs *fakeDocs, ex crawler.Extractor, tracker RunTracker, opts ...Option) Scraper {
	factory := func(ctx context.Context) (crawler.Extractor, func(), error) {
		return ex, func() {}, nil
	}
	opts = append(opts, WithControllerOptions(crawler.WithRoundDelay(0)))
	return NewScrapeUseCase(docs, tracker, factory, &nopReconciler{},
		monitoring.NewMetrics(prometheus.NewRegistry()), zap.NewNop(), opts...)
}

func TestScrapeRecordsResult(t *testing.T) {
	docs := &fakeDocs{doc: document()}
	tracker := storage.NewMemoryRunTracker()
	alerter := &fakeAlerter{}
	ex := &onePageExtractor{titles: []string{"Samsung Galaxy A55", "Samsung Galaxy A35"}, served: map[string]bool{}}
	uc := newUseCase(docs, ex, tracker, WithAlerter(alerter))

	res, err := uc.Scrape(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, []int{1}, docs.saved)
	assert.Equal(t, []string{"77"}, alerter.users)

	status, err := uc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunDone, status.State)
	assert.Equal(t, "samsung a55", status.Query, "empty query falls back to the scheduled one")
	assert.Equal(t, 1, status.Changed)

	ok, err := tracker.TryAcquire(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock is released after the run")
}

func TestScrapeRejectsConcurrentRun(t *testing.T) {
	tracker := storage.NewMemoryRunTracker()
	_, err := tracker.TryAcquire(context.Background(), time.Hour)
	require.NoError(t, err)

	uc := newUseCase(&fakeDocs{doc: document()}, &onePageExtractor{served: map[string]bool{}}, tracker)
	_, err = uc.Scrape(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrRunInProgress))
}

func TestScrapeDocumentFailure(t *testing.T) {
	boom := errors.New("bad json")
	tracker := storage.NewMemoryRunTracker()
	uc := newUseCase(&fakeDocs{loadErr: boom}, &onePageExtractor{served: map[string]bool{}}, tracker)

	_, err := uc.Scrape(context.Background(), "x")
	assert.True(t, errors.Is(err, boom))

	status, _ := uc.Status(context.Background())
	assert.Equal(t, domain.RunFailed, status.State)
	assert.Contains(t, status.Error, "bad json")
}

func TestScrapeEmptyQuery(t *testing.T) {
	doc := document()
	doc.Schedule.Query = ""
	uc := newUseCase(&fakeDocs{doc: doc}, &onePageExtractor{served: map[string]bool{}}, storage.NewMemoryRunTracker())

	_, err := uc.Scrape(context.Background(), "")
	assert.True(t, errors.Is(err, ErrEmptyQuery))
}

func TestTriggerRunsInBackground(t *testing.T) {
	docs := &fakeDocs{doc: document()}
	block := make(chan struct{})
	ex := &onePageExtractor{titles: []string{"Samsung Galaxy A55"}, block: block, served: map[string]bool{}}
	uc := newUseCase(docs, ex, storage.NewMemoryRunTracker())

	require.NoError(t, uc.Trigger(context.Background(), "samsung a55"))
	assert.True(t, errors.Is(uc.Trigger(context.Background(), "samsung a55"), ErrRunInProgress))

	close(block)
	uc.Wait()

	status, err := uc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunDone, status.State)
	assert.Equal(t, 1, status.Changed)
}

func TestRunKeepsLockBeyondTTL(t *testing.T) {
	docs := &fakeDocs{doc: document()}
	block := make(chan struct{})
	ex := &onePageExtractor{titles: []string{"Samsung Galaxy A55"}, block: block, served: map[string]bool{}}
	tracker := &countingTracker{MemoryRunTracker: storage.NewMemoryRunTracker()}
	uc := newUseCase(docs, ex, tracker, WithLockTTL(300*time.Millisecond))

	require.NoError(t, uc.Trigger(context.Background(), "samsung a55"))
	require.Eventually(t, func() bool { return tracker.refreshes.Load() >= 4 }, 5*time.Second, 10*time.Millisecond)

	ok, err := tracker.TryAcquire(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a long run still holds the lock")

	close(block)
	uc.Wait()

	refreshes := tracker.refreshes.Load()
	ok, err = tracker.TryAcquire(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock is released after the run")

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, refreshes, tracker.refreshes.Load(), "refreshing stops with the run")
}
