package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ordersguard/resource"
)

// Metrics holds the access-control counters on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	decisions   *prometheus.CounterVec
	validations *prometheus.CounterVec
	requests    *prometheus.CounterVec
}

// NewMetrics registers the counters on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_authz_decisions_total",
			Help: "Authorization decisions by outcome and reason.",
		}, []string{"outcome", "reason"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_token_validation_failures_total",
			Help: "Rejected bearer tokens by failure reason.",
		}, []string{"reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
	}
	m.registry.MustRegister(m.decisions, m.validations, m.requests)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveDecision counts one policy decision.
func (m *Metrics) ObserveDecision(d resource.Decision) {
	outcome := "allowed"
	reason := "none"
	if !d.Allowed {
		outcome = "denied"
		reason = string(d.Reason)
	}
	m.decisions.WithLabelValues(outcome, reason).Inc()
}

// ObserveValidationFailure counts one rejected token.
func (m *Metrics) ObserveValidationFailure(r resource.Reason) {
	if r == "" {
		r = resource.ReasonSignatureInvalid
	}
	m.validations.WithLabelValues(string(r)).Inc()
}

// Middleware counts every request once it has been answered.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.requests.WithLabelValues(methodLabel(r.Method), strconv.Itoa(rec.status)).Inc()
	})
}

// methodLabel keeps the method label set bounded.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return method
	default:
		return "other"
	}
}

// StartMetricsServer serves /metrics on its own listener.
func StartMetricsServer(addr string, handler http.Handler, logger *slog.Logger) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server error", "error", err)
		}
	}()
	return srv, ln, nil
}
