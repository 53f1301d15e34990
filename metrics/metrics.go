// Package metrics exposes Prometheus collectors for the listening
// pipeline on a private registry.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics methods are safe on a nil receiver so components can run
// without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	RequestsInFlight prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	UtterancesTotal  *prometheus.CounterVec
	Interruptions    prometheus.Counter
	PlaybacksTotal   *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voice"
	}

	registry := prometheus.NewRegistry()

	requestsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Number of submitted utterances not yet settled",
		},
	)

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of voice backend requests",
		},
		[]string{"endpoint", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Voice backend request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	utterancesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances by outcome",
		},
		[]string{"outcome"},
	)

	interruptions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interruptions_total",
			Help:      "Replies cut short by barge-in",
		},
	)

	playbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Reply playbacks by result",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		requestsInFlight,
		requestsTotal,
		requestDuration,
		utterancesTotal,
		interruptions,
		playbacksTotal,
	)

	return &Metrics{
		registry:         registry,
		RequestsInFlight: requestsInFlight,
		RequestsTotal:    requestsTotal,
		RequestDuration:  requestDuration,
		UtterancesTotal:  utterancesTotal,
		Interruptions:    interruptions,
		PlaybacksTotal:   playbacksTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.RequestsInFlight.Set(float64(n))
}

func (m *Metrics) RecordRequest(endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordUtterance(outcome string) {
	if m == nil {
		return
	}
	m.UtterancesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

func (m *Metrics) RecordPlayback(result string) {
	if m == nil {
		return
	}
	m.PlaybacksTotal.WithLabelValues(result).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
