package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HTTP request metrics come from the order-service middleware package, which
// registers them on the default registry.
var notificationsSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of notifications handled",
	},
	[]string{"type", "outcome"},
)

func init() {
	prometheus.MustRegister(notificationsSentTotal)
}

func RecordNotificationSent(notificationType, outcome string) {
	notificationsSentTotal.WithLabelValues(notificationType, outcome).Inc()
}
