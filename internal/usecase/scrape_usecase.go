package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/config"
	"github.com/user/price-tracker/internal/crawler"
	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/monitoring"
)

var (
	// ErrRunInProgress is returned when another run holds the run lock.
	ErrRunInProgress = errors.New("a scrape run is already in progress")
	// ErrEmptyQuery is returned when neither the caller nor the document
	// schedule names a query.
	ErrEmptyQuery = errors.New("query is required")
)

// RunTracker guards against concurrent runs and remembers the last status.
type RunTracker interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (bool, error)
	// Refresh extends a held lock and reports false once it is lost.
	Refresh(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
	SetStatus(ctx context.Context, status domain.RunStatus) error
	Status(ctx context.Context) (domain.RunStatus, error)
}

// DocumentStore loads the crawl document and records run results in it.
type DocumentStore interface {
	Load() (*config.Document, error)
	SaveRunResult(changed int, at time.Time) error
}

// Alerter tells a user about watched products that got cheap enough.
type Alerter interface {
	Alert(ctx context.Context, userID string) (int, error)
}

// ExtractorFactory opens the page extractor for one run. The returned func
// releases it.
type ExtractorFactory func(ctx context.Context) (crawler.Extractor, func(), error)

// Scraper runs scrapes for the CLI, the API and the scheduler.
type Scraper interface {
	// Scrape runs synchronously and returns the number of changed products.
	Scrape(ctx context.Context, query string) (*crawler.RunResult, error)
	// Trigger starts a run in the background.
	Trigger(ctx context.Context, query string) error
	Status(ctx context.Context) (domain.RunStatus, error)
	// Wait blocks until background runs finish.
	Wait()
}

type scrapeUseCase struct {
	docs         DocumentStore
	tracker      RunTracker
	newExtractor ExtractorFactory
	reconciler   crawler.Reconciler
	alerter      Alerter
	metrics      *monitoring.Metrics
	logger       *zap.Logger
	lockTTL      time.Duration
	ctrlOpts     []crawler.ControllerOption
	baseCtx      context.Context
	now          func() time.Time
	wg           sync.WaitGroup
}

// Option configures the scrape use case.
type Option func(*scrapeUseCase)

func WithAlerter(a Alerter) Option { return func(uc *scrapeUseCase) { uc.alerter = a } }

func WithLockTTL(ttl time.Duration) Option { return func(uc *scrapeUseCase) { uc.lockTTL = ttl } }

func WithControllerOptions(opts ...crawler.ControllerOption) Option {
	return func(uc *scrapeUseCase) { uc.ctrlOpts = append(uc.ctrlOpts, opts...) }
}

// WithBaseContext sets the context background runs are bound to.
func WithBaseContext(ctx context.Context) Option { return func(uc *scrapeUseCase) { uc.baseCtx = ctx } }

func WithClock(now func() time.Time) Option { return func(uc *scrapeUseCase) { uc.now = now } }

// NewScrapeUseCase creates a new instance of the scrape use case.
func NewScrapeUseCase(
	docs DocumentStore,
	tracker RunTracker,
	newExtractor ExtractorFactory,
	reconciler crawler.Reconciler,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
	opts ...Option,
) Scraper {
	uc := &scrapeUseCase{
		docs:         docs,
		tracker:      tracker,
		newExtractor: newExtractor,
		reconciler:   reconciler,
		metrics:      metrics,
		logger:       logger.Named("scrape"),
		lockTTL:      time.Hour,
		baseCtx:      context.Background(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *scrapeUseCase) acquire(ctx context.Context) error {
	ok, err := uc.tracker.TryAcquire(ctx, uc.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return ErrRunInProgress
	}
	return nil
}

func (uc *scrapeUseCase) Scrape(ctx context.Context, query string) (*crawler.RunResult, error) {
	if err := uc.acquire(ctx); err != nil {
		return nil, err
	}
	defer uc.release()
	stop := uc.keepLock()
	defer stop()
	return uc.run(ctx, query)
}

func (uc *scrapeUseCase) Trigger(ctx context.Context, query string) error {
	if err := uc.acquire(ctx); err != nil {
		return err
	}
	uc.wg.Add(1)
	go func() {
		defer uc.wg.Done()
		defer uc.release()
		stop := uc.keepLock()
		defer stop()
		if _, err := uc.run(uc.baseCtx, query); err != nil {
			uc.logger.Error("background run failed", zap.Error(err))
		}
	}()
	return nil
}

func (uc *scrapeUseCase) Status(ctx context.Context) (domain.RunStatus, error) {
	return uc.tracker.Status(ctx)
}

func (uc *scrapeUseCase) Wait() {
	uc.wg.Wait()
}

// keepLock refreshes the run lock every third of its TTL until the returned
// func is called.
func (uc *scrapeUseCase) keepLock() func() {
	if uc.lockTTL <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(uc.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := uc.tracker.Refresh(ctx, uc.lockTTL)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				uc.logger.Warn("failed to refresh run lock", zap.Error(err))
			case !ok:
				uc.logger.Warn("run lock lost, another run may start")
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (uc *scrapeUseCase) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := uc.tracker.Release(ctx); err != nil {
		uc.logger.Warn("failed to release run lock", zap.Error(err))
	}
}

func (uc *scrapeUseCase) setStatus(ctx context.Context, status domain.RunStatus) {
	if err := uc.tracker.SetStatus(ctx, status); err != nil {
		uc.logger.Warn("failed to record run status", zap.Error(err))
	}
}

// run assumes the run lock is held.
func (uc *scrapeUseCase) run(ctx context.Context, query string) (*crawler.RunResult, error) {
	started := uc.now()
	status := domain.RunStatus{State: domain.RunRunning, Query: query, StartedAt: started}

	fail := func(err error) error {
		status.State = domain.RunFailed
		status.Error = err.Error()
		status.FinishedAt = uc.now()
		uc.setStatus(context.Background(), status)
		uc.metrics.ObserveRun(string(domain.RunFailed), status.FinishedAt.Sub(started).Seconds())
		return err
	}

	doc, err := uc.docs.Load()
	if err != nil {
		return nil, fail(fmt.Errorf("load document: %w", err))
	}
	if query == "" {
		query = doc.Schedule.Query
		status.Query = query
	}
	if query == "" {
		return nil, fail(ErrEmptyQuery)
	}
	uc.setStatus(ctx, status)

	ex, closeExtractor, err := uc.newExtractor(ctx)
	if err != nil {
		return nil, fail(fmt.Errorf("open extractor: %w", err))
	}
	defer closeExtractor()

	ctrl := crawler.NewController(ex, uc.reconciler, uc.metrics, uc.logger, uc.ctrlOpts...)
	res, err := ctrl.Run(ctx, crawler.RunRequest{
		Query:    query,
		Sites:    doc.Sites,
		Filters:  doc.Filters,
		CoolDown: doc.CoolDown(),
	})
	if res != nil {
		status.Changed = res.Changed
	}
	if err != nil {
		return res, fail(err)
	}

	finished := uc.now()
	if err := uc.docs.SaveRunResult(res.Changed, finished); err != nil {
		return res, fail(fmt.Errorf("save run result: %w", err))
	}

	status.State = domain.RunDone
	status.FinishedAt = finished
	uc.setStatus(context.Background(), status)
	uc.metrics.ObserveRun(string(domain.RunDone), finished.Sub(started).Seconds())

	if uc.alerter != nil && doc.Notify.DiscordUserID != "" {
		if n, err := uc.alerter.Alert(ctx, doc.Notify.DiscordUserID); err != nil {
			uc.logger.Warn("watch alert failed", zap.Error(err))
		} else if n > 0 {
			uc.logger.Info("watch alert sent", zap.Int("products", n))
		}
	}

	uc.logger.Info("run complete",
		zap.String("query", query),
		zap.Int("changed", res.Changed),
		zap.Duration("took", finished.Sub(started)),
	)
	return res, nil
}
