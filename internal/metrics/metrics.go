package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the fulfillment counters. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	Notifications *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Provisions    *prometheus.CounterVec
	Tracking      *prometheus.CounterVec
	Requests      *prometheus.CounterVec
	LatencyMS     *prometheus.HistogramVec
}

func New() *Recorder {
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "webhook_notifications_total",
		Help:      "Payment notifications processed, by outcome.",
	}, []string{"outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "order_transitions_total",
		Help:      "Order status transitions applied.",
	}, []string{"from", "to"})
	provisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "shipment_provisions_total",
		Help:      "Shipment provisioning attempts, by result.",
	}, []string{"result"})
	tracking := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "tracking_refresh_total",
		Help:      "Tracking refreshes, by result.",
	}, []string{"result"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fulfillment",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		notifications, transitions, provisions, tracking, requests, latency,
	)

	return &Recorder{
		registry:      registry,
		Notifications: notifications,
		Transitions:   transitions,
		Provisions:    provisions,
		Tracking:      tracking,
		Requests:      requests,
		LatencyMS:     latency,
	}
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Notification(outcome string) {
	if r == nil {
		return
	}
	r.Notifications.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Transition(from, to string) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(from, to).Inc()
}

func (r *Recorder) Provision(result string) {
	if r == nil {
		return
	}
	r.Provisions.WithLabelValues(result).Inc()
}

func (r *Recorder) TrackingRefresh(result string) {
	if r == nil {
		return
	}
	r.Tracking.WithLabelValues(result).Inc()
}

func (r *Recorder) Request(route, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(route, status).Inc()
	r.LatencyMS.WithLabelValues(route).Observe(float64(elapsed.Microseconds()) / 1000)
}
