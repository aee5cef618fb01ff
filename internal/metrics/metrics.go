package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bontle_staff",
			Name:      "api_requests_total",
			Help:      "Count of backend API calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	apiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bontle_staff",
			Name:      "api_request_duration_seconds",
			Help:      "Backend API call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	storeCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bontle_staff",
			Name:      "store_cache_total",
			Help:      "Store list cache lookups by result.",
		},
		[]string{"result"},
	)

	polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bontle_staff",
			Name:      "queue_refresh_total",
			Help:      "Count of queue refreshes by outcome.",
		},
		[]string{"outcome"},
	)

	statusRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bontle_staff",
			Name:      "status_request_total",
			Help:      "Count of booking status change requests by target status and outcome.",
		},
		[]string{"status", "outcome"},
	)

	logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bontle_staff",
			Name:      "login_total",
			Help:      "Count of staff login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bontle_staff",
			Name:      "active_sessions",
			Help:      "Number of authenticated dashboard sessions.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(apiRequests, apiLatency, storeCache, polls, statusRequests, logins, activeSessions)
	})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveAPI(op string, started time.Time, err error) {
	apiRequests.WithLabelValues(op, outcome(err)).Inc()
	apiLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func IncStoreCache(hit bool) {
	if hit {
		storeCache.WithLabelValues("hit").Inc()
		return
	}
	storeCache.WithLabelValues("miss").Inc()
}

func IncRefresh(err error) {
	polls.WithLabelValues(outcome(err)).Inc()
}

func IncStatusRequest(status string, err error) {
	statusRequests.WithLabelValues(status, outcome(err)).Inc()
}

func IncLogin(err error) {
	logins.WithLabelValues(outcome(err)).Inc()
}

func SessionStarted() {
	activeSessions.Inc()
}

func SessionEnded() {
	activeSessions.Dec()
}
