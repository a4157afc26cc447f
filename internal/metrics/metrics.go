package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitfetch_operations_total",
		Help: "Finished operations by kind and result",
	}, []string{"kind", "result"})

	Fragments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitfetch_fragments_total",
		Help: "Fragment tasks by result",
	}, []string{"result"})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitfetch_tasks_in_flight",
		Help: "Range and file tasks currently transferring",
	})

	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitfetch_bytes_received_total",
		Help: "Payload bytes handed to the coordinator",
	})

	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitfetch_bytes_sent_total",
		Help: "Upload body bytes written",
	})

	PinDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitfetch_pin_decisions_total",
		Help: "Certificate pinning decisions by disposition",
	}, []string{"disposition"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "splitfetch_operation_duration_seconds",
		Help:    "Wall time of finished operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultCancelled = "cancelled"
)

func Handler() http.Handler {
	return promhttp.Handler()
}
