package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	sessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_sessions_opened_total",
			Help: "Total payment sessions opened",
		},
	)

	sessionsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_sessions_resolved_total",
			Help: "Payment sessions resolved per terminal state",
		},
		[]string{"state"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_sessions_active",
			Help: "Current number of non-terminal payment sessions",
		},
	)

	pollTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_poll_ticks_total",
			Help: "Status poll ticks per outcome",
		},
		[]string{"outcome"},
	)

	pollResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_poll_resolutions_total",
			Help: "Status poll cycle resolutions per outcome",
		},
		[]string{"outcome"},
	)

	gatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Duration of outbound gateway calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation", "status"},
	)

	receiptGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_receipts_total",
			Help: "Receipt generation attempts per outcome",
		},
		[]string{"outcome"},
	)

	storedCorrelations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_session_correlations",
			Help: "Session correlation entries currently held in redis",
		},
	)
)

func SessionOpened() {
	sessionsOpened.Inc()
	activeSessions.Inc()
}

// SessionReopened marks a resolved session going active again after a
// retry or finalize.
func SessionReopened() {
	activeSessions.Inc()
}

func SessionResolved(state string) {
	sessionsResolved.WithLabelValues(state).Inc()
	activeSessions.Dec()
}

func PollTick(outcome string) {
	pollTicks.WithLabelValues(outcome).Inc()
}

func PollResolved(outcome string) {
	pollResolutions.WithLabelValues(outcome).Inc()
}

func ObserveGatewayRequest(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	gatewayRequestDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

func ReceiptGenerated(err error) {
	if err != nil {
		receiptGenerations.WithLabelValues("error").Inc()
		return
	}
	receiptGenerations.WithLabelValues("ok").Inc()
}

// Monitor samples redis-backed session counts in the background.
type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	// Start metrics collection
	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()
		m.collectSessionMetrics(ctx)
	}
}

func (m *Monitor) collectSessionMetrics(ctx context.Context) {
	keys, _ := m.redis.Keys(ctx, "payment_session:*").Result()
	storedCorrelations.Set(float64(len(keys)))
}
