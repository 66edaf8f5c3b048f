package incidents

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentrelay"

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "mutations_total",
			Help:      "Incident mutations by operation and result",
		},
		[]string{"operation", "result"},
	)

	bypassRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "bypass_rejections_total",
			Help:      "Status changes rejected because the incident awaits validation",
		},
	)
)

func recordMutation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	mutationsTotal.WithLabelValues(operation, result).Inc()
}
