package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports the health booleans and uptime as prometheus gauges,
// labelled with the account id.
type Metrics struct {
	uptime        prometheus.Gauge
	healthy       prometheus.Gauge
	connected     prometheus.Gauge
	broker        prometheus.Gauge
	synchronized  prometheus.Gauge
	quotesHealthy prometheus.Gauge
}

// NewMetrics registers the health gauges for one account with reg.
func NewMetrics(reg prometheus.Registerer, accountID string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"account_id": accountID}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mtcloud",
			Subsystem:   "health",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return &Metrics{
		uptime:        gauge("uptime_percent", "Uptime percentage over the trailing week."),
		healthy:       gauge("healthy", "Overall connection health (1 healthy, 0 not)."),
		connected:     gauge("connected", "Connection to the API server (1 up, 0 down)."),
		broker:        gauge("connected_to_broker", "Terminal link to the broker (1 up, 0 down)."),
		synchronized:  gauge("synchronized", "Terminal state synchronization (1 done, 0 pending)."),
		quotesHealthy: gauge("quote_streaming_healthy", "Quote streaming liveness (1 healthy, 0 stale)."),
	}
}

// Observe publishes one health sample.
func (m *Metrics) Observe(status Status, uptime float64) {
	m.uptime.Set(uptime)
	m.healthy.Set(boolGauge(status.Healthy))
	m.connected.Set(boolGauge(status.Connected))
	m.broker.Set(boolGauge(status.ConnectedToBroker))
	m.synchronized.Set(boolGauge(status.Synchronized))
	m.quotesHealthy.Set(boolGauge(status.QuoteStreamingHealthy))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
