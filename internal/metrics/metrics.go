// Package metrics holds the Prometheus collectors for the marketplace. All
// methods are safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hackmarket"

// Metrics groups the collectors registered on one registry
type Metrics struct {
	registry *prometheus.Registry

	searches             *prometheus.CounterVec
	listingsReturned     prometheus.Histogram
	droppedRecords       *prometheus.CounterVec
	mutations            *prometheus.CounterVec
	notificationsSent    *prometheus.CounterVec
	notificationsFailed  *prometheus.CounterVec
	notificationsDropped prometheus.Counter
}

// New creates the collectors on a fresh registry, together with the Go and
// process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Market searches by result.",
		}, []string{"result"}),
		listingsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_listings",
			Help:      "Listings returned per successful search.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
		droppedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_dropped_records_total",
			Help:      "Stored records skipped during search because they failed to parse.",
		}, []string{"reason"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Place and take-off operations by result.",
		}, []string{"op", "result"}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notifications delivered by sink.",
		}, []string{"sink"}),
		notificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Notifications a sink failed to deliver.",
		}, []string{"sink"}),
		notificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications discarded because the outbound queue was full or closed.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.searches,
		m.listingsReturned,
		m.droppedRecords,
		m.mutations,
		m.notificationsSent,
		m.notificationsFailed,
		m.notificationsDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SearchSucceeded records a search that returned n listings
func (m *Metrics) SearchSucceeded(n int) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues("ok").Inc()
	m.listingsReturned.Observe(float64(n))
}

// SearchFailed records a search aborted with an error
func (m *Metrics) SearchFailed() {
	if m == nil {
		return
	}
	m.searches.WithLabelValues("error").Inc()
}

// RecordDropped records a stored record skipped during search
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedRecords.WithLabelValues(reason).Inc()
}

// Mutation records the outcome of a place or take-off
func (m *Metrics) Mutation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.mutations.WithLabelValues(op, result).Inc()
}

// NotificationSent records a delivered notification
func (m *Metrics) NotificationSent(sink string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(sink).Inc()
}

// NotificationFailed records a failed delivery
func (m *Metrics) NotificationFailed(sink string) {
	if m == nil {
		return
	}
	m.notificationsFailed.WithLabelValues(sink).Inc()
}

// NotificationDropped records a notification discarded before delivery
func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}
