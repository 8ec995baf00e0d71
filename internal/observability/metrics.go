// Package observability — metrics.go
//
// Prometheus metrics for the HoneyTrap gateway.
//
// Endpoint: GET /metrics (and GET /healthz) on 127.0.0.1:9091 by default.
// Bind: the configured address as given; the default is loopback only.
//
// Metric naming convention: honeytrap_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process. Metrics are purely additive telemetry:
// nothing in the policy decision path reads them back.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// LoginsTotal counts login attempts by outcome (admin, valid, decoy, error).
	LoginsTotal *prometheus.CounterVec

	// DecoyTriggersTotal counts ports flipped into decoy mode by the policy engine.
	DecoyTriggersTotal prometheus.Counter

	// RSTConnectionsTotal counts connections accepted and reset by the
	// port visibility supervisor.
	RSTConnectionsTotal prometheus.Counter

	// ActiveSessions is the current number of live sessions.
	ActiveSessions prometheus.Gauge

	// ActiveConnections is the current number of open connections, by channel.
	ActiveConnections *prometheus.GaugeVec

	// SweepDurationSeconds records how long each supervisor sweep takes.
	SweepDurationSeconds prometheus.Histogram

	// startTime records when the gateway started (for uptime calculation).
	startTime time.Time

	// UptimeSeconds is the number of seconds since the gateway started.
	UptimeSeconds prometheus.Gauge
}

// NewMetrics creates and registers all gateway Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		LoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "honeytrap",
			Subsystem: "policy",
			Name:      "logins_total",
			Help:      "Total login attempts, by outcome.",
		}, []string{"outcome"}),

		DecoyTriggersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "honeytrap",
			Subsystem: "policy",
			Name:      "decoy_triggers_total",
			Help:      "Total ports flipped into decoy mode after repeated failed logins or session inactivity.",
		}),

		RSTConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "honeytrap",
			Subsystem: "portvis",
			Name:      "rst_connections_total",
			Help:      "Total connections accepted and reset on disabled ports.",
		}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "honeytrap",
			Subsystem: "policy",
			Name:      "active_sessions",
			Help:      "Current number of live sessions.",
		}),

		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "honeytrap",
			Subsystem: "msgserver",
			Name:      "active_connections",
			Help:      "Current number of open connections, by channel.",
		}, []string{"channel"}),

		SweepDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "honeytrap",
			Subsystem: "supervisor",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each idle/inactivity sweep cycle.",
			Buckets:   prometheus.DefBuckets,
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "honeytrap",
			Subsystem: "gateway",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the gateway started.",
		}),
	}

	reg.MustRegister(
		m.LoginsTotal,
		m.DecoyTriggersTotal,
		m.RSTConnectionsTotal,
		m.ActiveSessions,
		m.ActiveConnections,
		m.SweepDurationSeconds,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the UptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
