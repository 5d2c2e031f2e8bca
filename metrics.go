// metrics.go
package parallelconsumer

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pool's prometheus collectors. A nil *Metrics disables
// collection; every recording method is nil-safe.
type Metrics struct {
	processed    prometheus.Counter
	failed       prometheus.Counter
	committed    prometheus.Counter
	staleEvicted prometheus.Counter
	slowWork     *prometheus.CounterVec
	inFlight     prometheus.Gauge
}

// NewMetrics creates and registers the pool's collectors
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parallel_consumer_records_processed_total",
			Help: "Records processed successfully.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parallel_consumer_records_failed_total",
			Help: "Records that failed permanently.",
		}),
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parallel_consumer_offsets_committed_total",
			Help: "Partition offsets committed.",
		}),
		staleEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parallel_consumer_stale_evicted_total",
			Help: "Stale units evicted after partition reassignment.",
		}),
		slowWork: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parallel_consumer_slow_work_total",
			Help: "Units observed waiting in queue past the warning threshold.",
		}, []string{"topic", "partition"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parallel_consumer_in_flight",
			Help: "Units currently held by workers.",
		}),
	}
	reg.MustRegister(m.processed, m.failed, m.committed, m.staleEvicted, m.slowWork, m.inFlight)
	return m
}

func (m *Metrics) recordProcessed() {
	if m != nil {
		m.processed.Inc()
	}
}

func (m *Metrics) recordFailed() {
	if m != nil {
		m.failed.Inc()
	}
}

func (m *Metrics) recordCommitted(n int) {
	if m != nil {
		m.committed.Add(float64(n))
	}
}

func (m *Metrics) recordStaleEvicted(n int64) {
	if m != nil && n > 0 {
		m.staleEvicted.Add(float64(n))
	}
}

func (m *Metrics) recordSlowWork(seg Segment) {
	if m != nil {
		m.slowWork.WithLabelValues(seg.Topic, int32Label(seg.Partition)).Inc()
	}
}

func (m *Metrics) recordDispatched() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) recordResolved() {
	if m != nil {
		m.inFlight.Dec()
	}
}

func int32Label(v int32) string {
	return strconv.FormatInt(int64(v), 10)
}
