package metrics

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

// Instruments for the update pipeline and the library scanner.
var (
	UpdateChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "renight",
		Name:      "update_checks_total",
		Help:      "Update checks by outcome.",
	}, []string{"outcome"})

	Downloads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "renight",
		Name:      "downloads_total",
		Help:      "Payload downloads that completed.",
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "renight",
		Name:      "download_bytes_total",
		Help:      "Bytes received by completed payload downloads.",
	})

	LibraryScans = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "renight",
		Name:      "library_scans_total",
		Help:      "Library scans performed.",
	})

	LibraryEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "renight",
		Name:      "library_entries",
		Help:      "Entries seen by the most recent library scan, by class.",
	}, []string{"class"})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "renight",
		Name:      "library_scan_duration_seconds",
		Help:      "Wall time of one library scan.",
		Buckets:   prometheus.DefBuckets,
	})
)

// ServeMetrics runs the status server on l until ctx is canceled. It exposes
// Prometheus metrics, a liveness probe, and the watch daemon's readiness.
func ServeMetrics(ctx context.Context, l net.Listener, ready *ReadyServer, log *zerolog.Logger) error {
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK\n"))
	})
	router.Method(http.MethodGet, "/ready", ready)
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      router,
	}

	errC := make(chan error, 1)
	go func() {
		errC <- server.Serve(l)
	}()
	log.Info().Str("addr", l.Addr().String()).Msg("Starting status server")

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		err = <-errC
	case err = <-errC:
	}
	if err == http.ErrServerClosed {
		log.Info().Msg("Status server stopped")
		return nil
	}
	return err
}

// RegisterBuildInfo exposes the running version as a gauge label.
func RegisterBuildInfo(version, buildTime string) {
	buildInfo := promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build and version information",
	}, []string{"goversion", "revision", "version"})
	buildInfo.WithLabelValues(runtime.Version(), buildTime, version).Set(1)
}
