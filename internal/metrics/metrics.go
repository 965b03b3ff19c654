// File: internal/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/irpa-agent/internal/dispatch"
)

const namespace = "irpa_agent"

// Metrics holds the agent's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Frames            *prometheus.CounterVec
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Heartbeats        *prometheus.CounterVec
	Dials             *prometheus.CounterVec
	StableWindows     *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Frames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Frames exchanged with the controller",
			},
			[]string{"direction"},
		),
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Dispatched operations by result code",
			},
			[]string{"operation", "code"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Time spent executing an operation",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		Heartbeats: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_total",
				Help:      "Heartbeat attempts by result",
			},
			[]string{"result"},
		),
		Dials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dials_total",
				Help:      "Connection attempts to the controller by result",
			},
			[]string{"result"},
		),
		StableWindows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stability_windows_total",
				Help:      "Completed stability windows by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveOperation implements dispatch.Observer. Unknown operation names
// are folded into one label value so a noisy controller cannot grow the series set.
func (m *Metrics) ObserveOperation(operation string, code dispatch.ErrorCode, took time.Duration) {
	if code == dispatch.CodeUnsupportedOperation {
		operation = "unsupported"
	}
	if operation == "" {
		operation = "missing"
	}
	m.Operations.WithLabelValues(operation, string(code)).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(took.Seconds())
}

// ObserveFrame implements transport.Observer.
func (m *Metrics) ObserveFrame(direction string) {
	m.Frames.WithLabelValues(direction).Inc()
}

// ObserveDial implements transport.Observer.
func (m *Metrics) ObserveDial(err error) {
	m.Dials.WithLabelValues(result(err)).Inc()
}

// ObserveHeartbeat implements heartbeat.Observer.
func (m *Metrics) ObserveHeartbeat(err error) {
	m.Heartbeats.WithLabelValues(result(err)).Inc()
}

// ObserveStable counts a finished stability window.
func (m *Metrics) ObserveStable(outcome string) {
	m.StableWindows.WithLabelValues(outcome).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	logger = logger.Named("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics.", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed.", zap.Error(err))
		}
		<-errCh
		return nil
	}
}
