package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	checkoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_total",
			Help: "Total number of checkout attempts by payment method and outcome",
		},
		[]string{"method", "outcome"},
	)

	paymentRefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_refunds_total",
			Help: "Total number of compensating refunds",
		},
		[]string{"outcome"},
	)

	ledgerTransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transfers_total",
			Help: "Total number of ledger token transfers",
		},
		[]string{"outcome"},
	)

	ipnNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipn_notifications_total",
			Help: "Total number of payment provider notifications",
		},
		[]string{"provider", "status"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(checkoutTotal)
	prometheus.MustRegister(paymentRefundsTotal)
	prometheus.MustRegister(ledgerTransfersTotal)
	prometheus.MustRegister(ipnNotificationsTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordCheckout(method, outcome string) {
	checkoutTotal.WithLabelValues(method, outcome).Inc()
}

func RecordRefund(outcome string) {
	paymentRefundsTotal.WithLabelValues(outcome).Inc()
}

func RecordLedgerTransfer(outcome string) {
	ledgerTransfersTotal.WithLabelValues(outcome).Inc()
}

func RecordNotification(provider, status string) {
	ipnNotificationsTotal.WithLabelValues(provider, status).Inc()
}
