package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentrelay"

var (
	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total notifications processed by event kind and outcome",
		},
		[]string{"kind", "status"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver a notification including retries",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	notificationRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "recipients",
			Help:      "Number of recipients per notification",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)
)

func recordNotificationSent(kind, status string) {
	notificationsSent.WithLabelValues(kind, status).Inc()
}

func recordNotificationDuration(kind string, duration time.Duration) {
	notificationSendDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
