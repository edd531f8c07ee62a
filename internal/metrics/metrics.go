// Package metrics exposes Prometheus collectors for pagefetch runs.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Record outcomes used as the "outcome" label.
const (
	OutcomeSuccess          = "success"
	OutcomeTimeoutRecovered = "timeout_recovered"
	OutcomeFailed           = "failed"
	OutcomeSkipped          = "skipped"
)

var (
	recordsTotal          *prometheus.CounterVec
	textBytesTotal        *prometheus.CounterVec
	fetchDurationSeconds  prometheus.Histogram
	navigationTimeoutsTot prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefetch_records_total",
				Help: "Total number of input records processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		textBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagefetch_text_bytes_total",
				Help: "Total bytes of extracted text appended, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagefetch_fetch_duration_seconds",
				Help:    "Histogram of navigate-and-extract latencies.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 15, 30},
			},
		)

		navigationTimeoutsTot = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagefetch_navigation_timeouts_total",
				Help: "Navigations that hit the timeout and fell back to the delayed extraction.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveRecord counts one processed record.
func ObserveRecord(site, outcome string) {
	recordsTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveSkipped counts input lines that did not parse into a record.
func ObserveSkipped(n int) {
	if n <= 0 {
		return
	}
	recordsTotal.WithLabelValues("none", OutcomeSkipped).Add(float64(n))
}

// ObserveText adds the size of appended text for a site.
func ObserveText(site string, n int) {
	if n <= 0 {
		return
	}
	textBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(n))
}

// ObserveFetchDuration records how long one fetch took.
func ObserveFetchDuration(d time.Duration) {
	fetchDurationSeconds.Observe(d.Seconds())
}

// ObserveNavigationTimeout increments the navigation timeout counter.
func ObserveNavigationTimeout() {
	navigationTimeoutsTot.Inc()
}

// WriteTextfile dumps the default registry in the text exposition format,
// for pickup by node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
