// internal/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bddtriage/internal/triage"
)

const namespace = "bddtriage"

// Metrics holds the triage collectors. It implements triage.Observer.
type Metrics struct {
	registry *prometheus.Registry

	FailuresSeen    prometheus.Counter
	FailuresInScope prometheus.Counter
	Dispatches      prometheus.Counter
	Skips           *prometheus.CounterVec
	Outcomes        *prometheus.CounterVec
	AnalysisSeconds *prometheus.HistogramVec
	ParseSeconds    prometheus.Histogram
	Resolutions     *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: reg,
		FailuresSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_seen_total",
			Help:      "Failed tests reported by the host.",
		}),
		FailuresInScope: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_in_scope_total",
			Help:      "Failed tests classified as behavior-driven.",
		}),
		Dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_dispatches_total",
			Help:      "Analyses started.",
		}),
		Skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_skips_total",
			Help:      "Failures that did not start an analysis, by reason.",
		}, []string{"reason"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_outcomes_total",
			Help:      "Finished analyses by outcome.",
		}, []string{"outcome"}),
		AnalysisSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of analysis calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		}, []string{"outcome"}),
		ParseSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Time spent parsing a failure into a context.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolver lookups by resolver and result.",
		}, []string{"resolver", "result"}),
	}

	for _, c := range []prometheus.Collector{
		m.FailuresSeen, m.FailuresInScope, m.Dispatches, m.Skips,
		m.Outcomes, m.AnalysisSeconds, m.ParseSeconds, m.Resolutions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}
	return m, nil
}

// Dispatched implements triage.Observer.
func (m *Metrics) Dispatched() { m.Dispatches.Inc() }

// Skipped implements triage.Observer.
func (m *Metrics) Skipped(reason triage.SkipReason) {
	m.Skips.WithLabelValues(string(reason)).Inc()
}

// Completed implements triage.Observer.
func (m *Metrics) Completed(elapsed time.Duration) { m.outcome("completed", elapsed) }

// Failed implements triage.Observer.
func (m *Metrics) Failed(elapsed time.Duration) { m.outcome("failed", elapsed) }

func (m *Metrics) outcome(name string, elapsed time.Duration) {
	m.Outcomes.WithLabelValues(name).Inc()
	m.AnalysisSeconds.WithLabelValues(name).Observe(elapsed.Seconds())
}

// FailureSeen counts a failed test and whether it was in scope.
func (m *Metrics) FailureSeen(inScope bool) {
	m.FailuresSeen.Inc()
	if inScope {
		m.FailuresInScope.Inc()
	}
}

// Parsed records extraction time.
func (m *Metrics) Parsed(d time.Duration) { m.ParseSeconds.Observe(d.Seconds()) }

// Resolved records a resolver lookup.
func (m *Metrics) Resolved(resolver string, found bool) {
	result := "miss"
	if found {
		result = "hit"
	}
	m.Resolutions.WithLabelValues(resolver, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, logger *zap.Logger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("Serving metrics.", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

var _ triage.Observer = (*Metrics)(nil)
