package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the messaging service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Message lifecycle metrics
	messagesPersistedTotal *prometheus.CounterVec
	mirrorAppendsTotal     *prometheus.CounterVec
	broadcastsTotal        *prometheus.CounterVec
	deliveryDuration       *prometheus.HistogramVec
	deliveryDegradedTotal  *prometheus.CounterVec

	// Hub metrics
	wsConnections prometheus.Gauge
	wsRooms       prometheus.Gauge
	wsDropsTotal  prometheus.Counter

	// Notification metrics
	notificationsCreatedTotal prometheus.Counter
	pushSendsTotal            *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on a dedicated registry
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)
	constLabels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: constLabels,
		}, []string{"method", "endpoint", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency in seconds",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		httpRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: constLabels,
		}),

		messagesPersistedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "messaging_messages_persisted_total",
			Help:        "Total number of authoritative message writes",
			ConstLabels: constLabels,
		}, []string{"status"}),
		mirrorAppendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "messaging_mirror_appends_total",
			Help:        "Total number of mirror channel appends",
			ConstLabels: constLabels,
		}, []string{"status"}),
		broadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "messaging_broadcasts_total",
			Help:        "Total number of hub room broadcasts",
			ConstLabels: constLabels,
		}, []string{"event"}),
		deliveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "messaging_delivery_duration_seconds",
			Help:        "Time taken per message delivery step",
			ConstLabels: constLabels,
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"step"}), // persist, broadcast, mirror, notify
		deliveryDegradedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "messaging_delivery_degraded_total",
			Help:        "Accepted messages whose non-authoritative side effects failed",
			ConstLabels: constLabels,
		}, []string{"step"}), // last_message, unread

		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "hub_connections",
			Help:        "Number of live WebSocket connections",
			ConstLabels: constLabels,
		}),
		wsRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "hub_rooms",
			Help:        "Number of conversation rooms with at least one subscriber",
			ConstLabels: constLabels,
		}),
		wsDropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "hub_slow_client_drops_total",
			Help:        "Connections dropped because their send buffer overflowed",
			ConstLabels: constLabels,
		}),

		notificationsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "notifications_created_total",
			Help:        "Total number of durable notifications created",
			ConstLabels: constLabels,
		}),
		pushSendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "push_sends_total",
			Help:        "Total number of best-effort push dispatches",
			ConstLabels: constLabels,
		}, []string{"status"}),
	}
}

// GetRegistry returns the registry backing the /metrics endpoint
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RecordMessagePersisted records the outcome of an authoritative write
func (m *Metrics) RecordMessagePersisted(status string) {
	m.messagesPersistedTotal.WithLabelValues(status).Inc()
}

// RecordMirrorAppend records the outcome of a mirror channel append
func (m *Metrics) RecordMirrorAppend(status string) {
	m.mirrorAppendsTotal.WithLabelValues(status).Inc()
}

// RecordBroadcast records one room broadcast by event type
func (m *Metrics) RecordBroadcast(event string) {
	m.broadcastsTotal.WithLabelValues(event).Inc()
}

// RecordDeliveryStep records the latency of one delivery pipeline step
func (m *Metrics) RecordDeliveryStep(step string, duration time.Duration) {
	m.deliveryDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordDeliveryDegraded records an accepted message whose named side
// effect failed and was absorbed
func (m *Metrics) RecordDeliveryDegraded(step string) {
	m.deliveryDegradedTotal.WithLabelValues(step).Inc()
}

// SetWSConnections updates the live connection gauge
func (m *Metrics) SetWSConnections(count int) {
	m.wsConnections.Set(float64(count))
}

// SetWSRooms updates the live room gauge
func (m *Metrics) SetWSRooms(count int) {
	m.wsRooms.Set(float64(count))
}

// RecordSlowClientDrop records a connection dropped on send-buffer overflow
func (m *Metrics) RecordSlowClientDrop() {
	m.wsDropsTotal.Inc()
}

// RecordNotificationCreated records one durable notification insert
func (m *Metrics) RecordNotificationCreated() {
	m.notificationsCreatedTotal.Inc()
}

// RecordPushSend records the outcome of a best-effort push dispatch
func (m *Metrics) RecordPushSend(status string) {
	m.pushSendsTotal.WithLabelValues(status).Inc()
}
