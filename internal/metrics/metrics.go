package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpent_fetch_requests_total",
			Help: "Total number of result page requests executed",
		},
		[]string{"host", "status", "blocked_by"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serpent_fetch_duration_seconds",
			Help:    "Duration of result page requests in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpent_fetch_bytes_total",
			Help: "Total bytes of result page HTML downloaded",
		},
		[]string{"host"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpent_proxy_failures_total",
			Help: "Total number of requests that failed through a proxy",
		},
		[]string{"proxy_url"},
	)

	PagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serpent_pages_total",
		Help: "Total number of result pages parsed",
	})

	ResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serpent_results_total",
		Help: "Total number of organic results extracted",
	})

	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpent_sessions_total",
			Help: "Total number of search sessions by outcome",
		},
		[]string{"outcome"},
	)
)

// Fetch summarizes a single result page request.
type Fetch struct {
	Host       string
	StatusCode int
	// Failed marks transport errors; StatusCode is meaningless then.
	Failed    bool
	BlockedBy string
	Duration  time.Duration
	Bytes     int
}

// RecordFetch updates the request metrics.
func RecordFetch(f Fetch) {
	status := strconv.Itoa(f.StatusCode)
	if f.Failed {
		status = "error"
	}
	FetchRequestsTotal.WithLabelValues(f.Host, status, f.BlockedBy).Inc()
	FetchDuration.WithLabelValues(f.Host).Observe(f.Duration.Seconds())
	FetchBytesTotal.WithLabelValues(f.Host).Add(float64(f.Bytes))
}

// RecordPage counts a parsed page and its results.
func RecordPage(results int) {
	PagesTotal.Inc()
	ResultsTotal.Add(float64(results))
}

// RecordSession counts a finished session. outcome is "ok" or "error".
func RecordSession(outcome string) {
	SessionsTotal.WithLabelValues(outcome).Inc()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on port (0 picks a free one) and serves /metrics in the
// background.
func Start(port int, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics server listening", "addr", ln.Addr().String())

	return &Server{srv: srv, ln: ln}, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
