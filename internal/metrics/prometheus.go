package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink exports delivery counters and batch timings. It satisfies
// the delivery stats sink interface.
type PrometheusSink struct {
	registry      *prometheus.Registry
	deliveries    *prometheus.CounterVec
	batchDuration prometheus.Histogram
	batchClaimed  prometheus.Histogram
	gatewayHealth prometheus.Gauge
}

// NewPrometheusSink registers its collectors, plus the Go runtime and
// process collectors, on a fresh registry.
func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()
	s := &PrometheusSink{
		registry: reg,
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wadispatch",
			Name:      "deliveries_total",
			Help:      "Delivery outcomes by result (sent, failed, delivered, read).",
		}, []string{"result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wadispatch",
			Name:      "queue_batch_duration_seconds",
			Help:      "Wall time of one queue processing batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		batchClaimed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wadispatch",
			Name:      "queue_batch_claimed",
			Help:      "Entries claimed per batch.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		gatewayHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wadispatch",
			Name:      "gateway_health_status",
			Help:      "Gateway health: 2 healthy, 1 degraded, 0 down.",
		}),
	}

	reg.MustRegister(
		s.deliveries,
		s.batchDuration,
		s.batchClaimed,
		s.gatewayHealth,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return s
}

func (s *PrometheusSink) RecordSent()      { s.deliveries.WithLabelValues("sent").Inc() }
func (s *PrometheusSink) RecordFailed()    { s.deliveries.WithLabelValues("failed").Inc() }
func (s *PrometheusSink) RecordDelivered() { s.deliveries.WithLabelValues("delivered").Inc() }
func (s *PrometheusSink) RecordRead()      { s.deliveries.WithLabelValues("read").Inc() }

// ObserveBatch records the duration and size of one processing batch.
func (s *PrometheusSink) ObserveBatch(d time.Duration, claimed int) {
	s.batchDuration.Observe(d.Seconds())
	s.batchClaimed.Observe(float64(claimed))
}

// SetGatewayHealth records the health status as 2, 1 or 0.
func (s *PrometheusSink) SetGatewayHealth(v float64) {
	s.gatewayHealth.Set(v)
}

// Handler serves the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
