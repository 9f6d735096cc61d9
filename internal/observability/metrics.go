package observability

// Metrics provides counter and gauge recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Metric names emitted by the connectivity layer.
const (
	// MetricEventsEmitted counts live events pushed to the engine sink.
	MetricEventsEmitted = "live.events_emitted"
	// MetricDecodeFailures counts frames dropped for decode errors.
	MetricDecodeFailures = "live.decode_failures"
	// MetricReconnects counts session restarts performed by the supervisor.
	MetricReconnects = "live.reconnects"
	// MetricOrdersSent counts outbound order-entry frames.
	MetricOrdersSent = "live.orders_sent"
)

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)   {}
