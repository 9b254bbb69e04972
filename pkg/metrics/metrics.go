package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// System metrics
	SystemMemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sieve_system_memory_bytes",
		Help: "Current heap allocation",
	})

	SystemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sieve_system_goroutines",
		Help: "Number of goroutines",
	})

	// Ingest metrics
	DocumentsRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sieve_documents_read_total",
		Help: "Input documents decoded from the stream",
	})

	DocumentsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieve_documents_skipped_total",
			Help: "Input documents that did not add an entry",
		},
		[]string{"reason"},
	)

	DedupEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sieve_dedup_entries",
		Help: "Distinct ids held for lookup",
	})

	// Lookup metrics
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieve_lookups_total",
			Help: "Entity lookups by result",
		},
		[]string{"result"},
	)

	LookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sieve_lookup_duration_seconds",
		Help:    "Time spent in a single entity lookup, retries included",
		Buckets: prometheus.DefBuckets,
	})

	// Output metrics
	RecordsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sieve_records_emitted_total",
		Help: "Target records written to the output",
	})
)

// UpdateSystemMetrics updates system-level metrics
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	SystemMemoryUsage.Set(float64(m.Alloc))
	SystemGoroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler serves the default registry, refreshing system metrics per scrape
func Handler() http.Handler {
	h := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		UpdateSystemMetrics()
		h.ServeHTTP(w, r)
	})
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Metrics server shutdown failed")
		}
	}()

	logger.WithField("addr", addr).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrapf(err, "serve metrics on %s", addr)
	}
	return nil
}
