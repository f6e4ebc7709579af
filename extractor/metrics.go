package extractor

import (
	"time"

	"deal-scraper/internal/types"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for scrape runs.
type Metrics struct {
	Registry           *prometheus.Registry
	PagesTotal         *prometheus.CounterVec
	NavigationDuration prometheus.Histogram
	RecordsTotal       prometheus.Counter
	RetriesTotal       prometheus.Counter
	CaptchasTotal      prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Listing pages by terminal state.",
		},
		[]string{"site", "state"},
	)
	navDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_navigation_duration_seconds",
			Help:    "Page navigation latency, including timeouts.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Product records extracted after de-duplication.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Navigation retries scheduled after timeouts.",
		},
	)
	captchas := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_captchas_total",
			Help: "CAPTCHA pages encountered.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(pages, navDuration, records, retries, captchas, errorsTotal)

	return &Metrics{
		Registry:           registry,
		PagesTotal:         pages,
		NavigationDuration: navDuration,
		RecordsTotal:       records,
		RetriesTotal:       retries,
		CaptchasTotal:      captchas,
		ErrorsTotal:        errorsTotal,
	}
}

// IncPage counts a page reaching a terminal state.
func (m *Metrics) IncPage(site string, state types.PageState) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(site, string(state)).Inc()
}

// ObserveNavigation records a navigation duration.
func (m *Metrics) ObserveNavigation(d time.Duration) {
	if m == nil {
		return
	}
	m.NavigationDuration.Observe(d.Seconds())
}

// AddRecords increments the records counter.
func (m *Metrics) AddRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncCaptcha increments the CAPTCHA counter.
func (m *Metrics) IncCaptcha() {
	if m == nil {
		return
	}
	m.CaptchasTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
