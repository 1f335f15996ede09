package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	esRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nefertari",
			Name:      "es_request_duration_seconds",
			Help:      "Elasticsearch request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	esRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nefertari",
			Name:      "es_requests_total",
			Help:      "Total number of Elasticsearch requests",
		},
		[]string{"op", "status"},
	)

	esBulkDocsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nefertari",
			Name:      "es_bulk_documents_total",
			Help:      "Total number of documents submitted in bulk requests",
		},
		[]string{"op_type"},
	)
)

func init() {
	prometheus.MustRegister(esRequestDuration)
	prometheus.MustRegister(esRequestsTotal)
	prometheus.MustRegister(esBulkDocsTotal)
}

// ObserveES records one Elasticsearch round trip.
func ObserveES(op string, status int, elapsed time.Duration) {
	esRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	esRequestsTotal.WithLabelValues(op, strconv.Itoa(status)).Inc()
}

// CountBulkDocs records documents submitted in a bulk request by op type.
func CountBulkDocs(opType string, n int) {
	esBulkDocsTotal.WithLabelValues(opType).Add(float64(n))
}
