package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query path label values.
const (
	pathVector  = "vector"
	pathTabular = "tabular"
)

// Outcome label values.
const (
	outcomeOK       = "ok"
	outcomeDegraded = "degraded"
	outcomeError    = "error"
)

// Metrics holds the dispatcher's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	// queriesTotal counts Query calls by path and outcome. "degraded" means
	// an answer was returned whose text carries a generation error.
	queriesTotal *prometheus.CounterVec

	// queryDurationSeconds records Query latency by path.
	queryDurationSeconds *prometheus.HistogramVec

	// ingestionsTotal counts collection and table builds by document kind
	// and result: "created", "loaded" or "error".
	ingestionsTotal *prometheus.CounterVec
}

// NewMetrics registers the dispatcher collectors against reg. Tests pass a
// fresh prometheus.Registry so registrations stay hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of document queries, partitioned by path and outcome.",
		}, []string{"path", "outcome"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docchat",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of document queries, including any lazy ingestion.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"path"}),

		ingestionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "ingestion",
			Name:      "total",
			Help:      "Total number of ingestion attempts, partitioned by document kind and result.",
		}, []string{"kind", "result"}),
	}
}

func (m *Metrics) observeQuery(path, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(path, outcome).Inc()
	m.queryDurationSeconds.WithLabelValues(path).Observe(seconds)
}

func (m *Metrics) observeIngestion(kind, result string) {
	if m == nil {
		return
	}
	m.ingestionsTotal.WithLabelValues(kind, result).Inc()
}
