/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package metrics exposes chatrelay counters and gauges in Prometheus format.

METRIC CATEGORIES:
==================
- Connections: active, accepted per transport
- Users: currently registered
- Authentication: register/login outcomes by result code
- Dispatch: enqueued, rejected, queue depth, delivery outcomes, latency

PROMETHEUS ENDPOINT:
====================
Metrics are served at /metrics by Server.

EXAMPLE METRICS:
================

	chatrelay_connections_active 12
	chatrelay_messages_enqueued_total{kind="regular"} 4711
	chatrelay_deliveries_total{outcome="failed"} 3
	chatrelay_dispatch_queue_depth 0

All recording methods are safe to call on a nil *Metrics.
*/
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
)

const namespace = "chatrelay"

// Delivery outcomes.
const (
	OutcomeDelivered    = "delivered"
	OutcomeFailed       = "failed"
	OutcomeNotConnected = "not_connected"
)

// Metrics holds all chatrelay collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	usersOnline       prometheus.Gauge
	authResults       *prometheus.CounterVec
	messagesEnqueued  *prometheus.CounterVec
	messagesRejected  prometheus.Counter
	queueDepth        prometheus.Gauge
	deliveries        *prometheus.CounterVec
	deliveryLatency   prometheus.Histogram
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Get returns the process-wide metrics instance.
func Get() *Metrics {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Currently open client connections.",
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted client connections.",
		}, []string{"transport"}),
		usersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users_online",
			Help:      "Users present in the registry.",
		}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_results_total",
			Help:      "Register and login outcomes.",
		}, []string{"method", "result"}),
		messagesEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_enqueued_total",
			Help:      "Messages accepted by the dispatcher.",
		}, []string{"kind"}),
		messagesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Messages refused because the dispatcher is stopping.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Messages waiting for a dispatch worker.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery attempts by outcome.",
		}, []string{"outcome"}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Time from enqueue to a completed write.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	m.registry.MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.usersOnline,
		m.authResults,
		m.messagesEnqueued,
		m.messagesRejected,
		m.queueDepth,
		m.deliveries,
		m.deliveryLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened(transport string) {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.WithLabelValues(transport).Inc()
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// SetUsersOnline records the registry size.
func (m *Metrics) SetUsersOnline(n int) {
	if m == nil {
		return
	}
	m.usersOnline.Set(float64(n))
}

// RecordAuth records a register or login outcome.
func (m *Metrics) RecordAuth(method, result string) {
	if m == nil {
		return
	}
	m.authResults.WithLabelValues(method, result).Inc()
}

// MessageEnqueued records a message accepted by the dispatcher.
func (m *Metrics) MessageEnqueued(kind string) {
	if m == nil {
		return
	}
	m.messagesEnqueued.WithLabelValues(kind).Inc()
}

// MessageRejected records a message refused during shutdown.
func (m *Metrics) MessageRejected() {
	if m == nil {
		return
	}
	m.messagesRejected.Inc()
}

// SetQueueDepth records the number of queued messages.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RecordDelivery records one delivery attempt. Latency is observed only
// for completed writes.
func (m *Metrics) RecordDelivery(outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
	if outcome == OutcomeDelivered {
		m.deliveryLatency.Observe(latency.Seconds())
	}
}

// Server serves the /metrics endpoint.
type Server struct {
	config  *config.MetricsConfig
	metrics *Metrics
	server  *http.Server
	logger  *logging.Logger
}

// NewServer creates a metrics HTTP server.
func NewServer(cfg *config.MetricsConfig, m *Metrics) *Server {
	return &Server{
		config:  cfg,
		metrics: m,
		logger:  logging.NewLogger("metrics"),
	}
}

// Start begins serving in the background.
func (s *Server) Start() error {
	if !s.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Metrics server starting", "addr", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down with a 5 second grace period.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
