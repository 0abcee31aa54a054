package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	PagesTotal     *prometheus.CounterVec
	ListingsTotal  *prometheus.CounterVec
	ExhaustedTotal *prometheus.CounterVec
	HistoryTotal   *prometheus.CounterVec
	ErrorsTotal    *prometheus.CounterVec
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	HTTPRequests   *prometheus.CounterVec
}

// NewMetrics registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_pages_fetched_total",
			Help: "The total number of result pages fetched",
		}, []string{"site"}),
		ListingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_listings_total",
			Help: "Listings seen, by what happened to them",
		}, []string{"site", "outcome"}), // excluded, unmatched, filtered, accepted
		ExhaustedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_sites_exhausted_total",
			Help: "Sites that stopped paginating, by reason",
		}, []string{"site", "reason"}),
		HistoryTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_price_history_total",
			Help: "Price history reconciliations, by outcome",
		}, []string{"outcome"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "The total number of errors encountered",
		}, []string{"type"}), // e.g., 'fetch_failed', 'db_save_failed'
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_runs_total",
			Help: "Scrape runs, by final state",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Wall time of a scrape run",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "api_http_requests_total",
			Help: "HTTP requests served, by route and status code",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) IncPages(site string) {
	m.PagesTotal.WithLabelValues(site).Inc()
}

func (m *Metrics) IncListings(site, outcome string) {
	m.ListingsTotal.WithLabelValues(site, outcome).Inc()
}

func (m *Metrics) IncExhausted(site, reason string) {
	m.ExhaustedTotal.WithLabelValues(site, reason).Inc()
}

func (m *Metrics) IncHistory(outcome string) {
	m.HistoryTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncErrorsTotal(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) ObserveRun(status string, seconds float64) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(seconds)
}
