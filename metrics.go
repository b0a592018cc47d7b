package thingshadow

import (
	"time"
)

// MetricLabels are the label pairs of one metric series.
type MetricLabels map[string]string

// Metrics hands out named, labelled series. The same name and labels always
// return the same series.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter only grows.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge holds the last value set, e.g. the pending request count.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Value() float64
}

// Histogram accumulates latencies as a count and a sum of seconds.
type Histogram interface {
	ObserveDuration(d time.Duration)
	Count() uint64
	Sum() float64
}

// NoOpMetrics discards everything. It is the default when no Metrics is set.
type NoOpMetrics struct{}

// Counter returns a counter that records nothing.
func (n *NoOpMetrics) Counter(_ string, _ MetricLabels) Counter { return noOpSeries{} }

// Gauge returns a gauge that records nothing.
func (n *NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge { return noOpSeries{} }

// Histogram returns a histogram that records nothing.
func (n *NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram { return noOpSeries{} }

// noOpSeries satisfies Counter, Gauge and Histogram at once.
type noOpSeries struct{}

func (noOpSeries) Inc()                          {}
func (noOpSeries) Dec()                          {}
func (noOpSeries) Add(float64)                   {}
func (noOpSeries) Set(float64)                   {}
func (noOpSeries) Value() float64                { return 0 }
func (noOpSeries) ObserveDuration(time.Duration) {}
func (noOpSeries) Count() uint64                 { return 0 }
func (noOpSeries) Sum() float64                  { return 0 }

// Metric names recorded by the shadow client and the sample device.
const (
	MetricUpdatesPublished = "shadow_updates_published_total"
	MetricGetsPublished    = "shadow_gets_published_total"
	MetricAcks             = "shadow_acks_total"
	MetricAckLatency       = "shadow_ack_latency_seconds"
	MetricPendingRequests  = "shadow_pending_requests"
	MetricDeltasReceived   = "shadow_deltas_received_total"
	MetricDeltasDiscarded  = "shadow_deltas_discarded_total"
	MetricConnectionEvents = "shadow_connection_events_total"
	MetricDeviceState      = "device_state"
	MetricTemperature      = "device_temperature_celsius"
)

// Metric labels.
const (
	LabelAction    = "action"
	LabelAckStatus = "status"
	LabelEvent     = "event"
)

// ShadowMetrics wraps Metrics with shadow-specific helpers.
type ShadowMetrics struct {
	metrics Metrics
}

// NewShadowMetrics creates a ShadowMetrics. A nil Metrics records nothing.
func NewShadowMetrics(m Metrics) *ShadowMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &ShadowMetrics{metrics: m}
}

// RequestPublished counts a published update or get request.
func (s *ShadowMetrics) RequestPublished(action Action) {
	name := MetricUpdatesPublished
	if action == ActionGet {
		name = MetricGetsPublished
	}
	s.metrics.Counter(name, nil).Inc()
	s.metrics.Gauge(MetricPendingRequests, nil).Inc()
}

// AckReceived records the outcome of a tracked request.
func (s *ShadowMetrics) AckReceived(action Action, status AckStatus, latency time.Duration) {
	labels := MetricLabels{LabelAction: action.String(), LabelAckStatus: status.String()}
	s.metrics.Counter(MetricAcks, labels).Inc()
	s.metrics.Histogram(MetricAckLatency, MetricLabels{LabelAction: action.String()}).ObserveDuration(latency)
	s.metrics.Gauge(MetricPendingRequests, nil).Dec()
}

// RequestsDropped removes n pending requests that will never be acknowledged.
func (s *ShadowMetrics) RequestsDropped(n int) {
	if n > 0 {
		s.metrics.Gauge(MetricPendingRequests, nil).Add(-float64(n))
	}
}

// DeltaReceived counts a dispatched delta document.
func (s *ShadowMetrics) DeltaReceived() {
	s.metrics.Counter(MetricDeltasReceived, nil).Inc()
}

// DeltaDiscarded counts a delta dropped for being older than the known version.
func (s *ShadowMetrics) DeltaDiscarded() {
	s.metrics.Counter(MetricDeltasDiscarded, nil).Inc()
}

// ConnectionEvent counts lost/reconnecting/reconnected transitions.
func (s *ShadowMetrics) ConnectionEvent(event string) {
	s.metrics.Counter(MetricConnectionEvents, MetricLabels{LabelEvent: event}).Inc()
}

// DeviceState sets the current device state gauge.
func (s *ShadowMetrics) DeviceState(code int) {
	s.metrics.Gauge(MetricDeviceState, nil).Set(float64(code))
}

// Temperature sets the last reported temperature gauge.
func (s *ShadowMetrics) Temperature(v float64) {
	s.metrics.Gauge(MetricTemperature, nil).Set(v)
}
