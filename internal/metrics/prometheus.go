package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics holds all Prometheus metrics for the probe.
type PrometheusMetrics struct {
	// Counters
	IterationsTotal *prometheus.CounterVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Gauges
	ChainHead prometheus.Gauge

	// Histograms
	ConfirmLatency prometheus.Histogram
	SubmitLatency  prometheus.Histogram
	BlockDelta     prometheus.Histogram
}

// NewPrometheusMetrics creates and registers all probe metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		IterationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcprobe_iterations_total",
				Help: "Probe iterations by outcome",
			},
			[]string{"outcome"},
		),

		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcprobe_rpc_errors_total",
				Help: "RPC failures by error kind",
			},
			[]string{"kind"},
		),

		ChainHead: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rpcprobe_chain_head",
				Help: "Latest observed block number",
			},
		),

		ConfirmLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rpcprobe_confirmation_latency_seconds",
				Help:    "Submission-to-receipt latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		SubmitLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rpcprobe_submit_latency_seconds",
				Help:    "eth_sendRawTransaction round-trip latency in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		),

		BlockDelta: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rpcprobe_block_delta",
				Help:    "Blocks elapsed between submission and receipt",
				Buckets: []float64{0, 1, 2, 3, 5, 10},
			},
		),
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
// Runs in its own goroutine; errors other than server shutdown are logged.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics listener started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener failed", slog.String("error", err.Error()))
		}
	}()
}
