package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the feed engine.
type Metrics struct {
	TicksTotal   prometheus.Counter
	TickErrors   prometheus.Counter
	TickDuration prometheus.Histogram

	// Strategy
	TradesTotal     *prometheus.CounterVec // labels: portfolio, action
	SuppressedTotal *prometheus.CounterVec // labels: portfolio, reason

	// Fan-out
	BroadcastMessages prometheus.Counter
	Evictions         *prometheus.CounterVec // labels: reason
	WSClients         prometheus.Gauge
	FanoutDuration    prometheus.Histogram

	// Persistence
	PersistErrors     *prometheus.CounterVec // labels: sink
	PersistReconnects *prometheus.CounterVec // labels: sink
	PersistDuration   *prometheus.HistogramVec

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedengine_ticks_total",
			Help: "Total simulation ticks completed",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedengine_tick_errors_total",
			Help: "Ticks that faulted and triggered a backoff",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedengine_tick_duration_seconds",
			Help:    "Wall time of one tick including publish and persistence",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedengine_trades_total",
			Help: "Executed one-unit trades",
		}, []string{"portfolio", "action"}),
		SuppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedengine_trades_suppressed_total",
			Help: "Signals that fired but were blocked by a cash or holdings guard",
		}, []string{"portfolio", "reason"}),

		BroadcastMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedengine_broadcast_messages_total",
			Help: "Messages enqueued to subscribers",
		}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedengine_ws_evictions_total",
			Help: "Subscribers removed from the live set",
		}, []string{"reason"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedengine_ws_clients",
			Help: "Live websocket subscribers",
		}),
		FanoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedengine_fanout_duration_seconds",
			Help:    "Time to enqueue one event to every live subscriber",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),

		PersistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedengine_persist_errors_total",
			Help: "Failed series upserts",
		}, []string{"sink"}),
		PersistReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedengine_persist_reconnects_total",
			Help: "Reconnects attempted after a failed upsert",
		}, []string{"sink"}),
		PersistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedengine_persist_duration_seconds",
			Help:    "Series upsert latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TickErrors,
		m.TickDuration,
		m.TradesTotal,
		m.SuppressedTotal,
		m.BroadcastMessages,
		m.Evictions,
		m.WSClients,
		m.FanoutDuration,
		m.PersistErrors,
		m.PersistReconnects,
		m.PersistDuration,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}
