package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once           sync.Once
	emitted        prom.Counter
	dropped        prom.Counter
	encodeFailures prom.Counter
	events         *prom.CounterVec
	pollsSkipped   prom.Counter
	pollFailures   prom.Counter
	busReconnects  prom.Counter
	pollDuration   prom.Histogram
	trackedUnits   prom.Gauge
	filteredUnits  prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.emitted = prom.NewCounter(prom.CounterOpts{
			Namespace: "unitmon",
			Name:      "metrics_emitted_total",
			Help:      "Metric records successfully handed to the sink",
		})
		pr.dropped = prom.NewCounter(prom.CounterOpts{
			Namespace: "unitmon",
			Name:      "metrics_dropped_total",
			Help:      "Metric records dropped after sink retry failure",
		})
		pr.encodeFailures = prom.NewCounter(prom.CounterOpts{
			Namespace: "unitmon",
			Name:      "encode_failures_total",
			Help:      "Records that could not be encoded",
		})
		pr.events = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "unitmon",
			Name:      "unit_events_total",
			Help:      "Bus notifications processed by kind",
		}, []string{"kind"})
		pr.pollsSkipped = prom.NewCounter(prom.CounterOpts{
			Namespace: "unitmon",
			Name:      "polls_skipped_total",
			Help:      "Poll ticks skipped because a poll was still in flight",
		})
		pr.pollFailures = prom.NewCounter(prom.CounterOpts{
			Namespace: "unitmon",
			Name:      "poll_failures_total",
			Help:      "Reconciliation polls that failed against the bus",
		})
		pr.busReconnects = prom.NewCounter(prom.CounterOpts{
			Namespace: "unitmon",
			Name:      "bus_reconnects_total",
			Help:      "Event subscription re-establish attempts",
		})
		pr.pollDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "unitmon",
			Name:      "poll_duration_seconds",
			Help:      "Duration of full reconciliation polls",
			Buckets:   prom.DefBuckets,
		})
		pr.trackedUnits = prom.NewGauge(prom.GaugeOpts{
			Namespace: "unitmon",
			Name:      "tracked_units",
			Help:      "Units currently held in the state table",
		})
		pr.filteredUnits = prom.NewGauge(prom.GaugeOpts{
			Namespace: "unitmon",
			Name:      "filter_passing_units",
			Help:      "Tracked units currently passing the emission filter",
		})
		reg.MustRegister(pr.emitted, pr.dropped, pr.encodeFailures, pr.events,
			pr.pollsSkipped, pr.pollFailures, pr.busReconnects, pr.pollDuration,
			pr.trackedUnits, pr.filteredUnits)
	})
	return pr
}

func (pr *PrometheusRecorder) IncEmitted()       { pr.emitted.Inc() }
func (pr *PrometheusRecorder) IncDropped()       { pr.dropped.Inc() }
func (pr *PrometheusRecorder) IncEncodeFailure() { pr.encodeFailures.Inc() }
func (pr *PrometheusRecorder) IncEvent(kind string) {
	pr.events.WithLabelValues(kind).Inc()
}
func (pr *PrometheusRecorder) IncPollSkipped()  { pr.pollsSkipped.Inc() }
func (pr *PrometheusRecorder) IncPollFailure()  { pr.pollFailures.Inc() }
func (pr *PrometheusRecorder) IncBusReconnect() { pr.busReconnects.Inc() }
func (pr *PrometheusRecorder) ObservePollDuration(d time.Duration) {
	pr.pollDuration.Observe(d.Seconds())
}
func (pr *PrometheusRecorder) SetTrackedUnits(n int)  { pr.trackedUnits.Set(float64(n)) }
func (pr *PrometheusRecorder) SetFilteredUnits(n int) { pr.filteredUnits.Set(float64(n)) }
