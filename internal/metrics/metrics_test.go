package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	name string
	err  error
}

func (f fakePinger) Name() string                   { return f.name }
func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type fixedLatency struct{ p50, p95, p99 float64 }

func (f fixedLatency) Percentiles() (float64, float64, float64) { return f.p50, f.p95, f.p99 }

func TestNew_RegistersOnPrivateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TicksTotal.Inc()
	m.TradesTotal.WithLabelValues("RSI_Gold_mtm", "BUY").Inc()
	m.Evictions.WithLabelValues("send_failed").Add(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				values[f.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["feedengine_ticks_total"])
	assert.Equal(t, 1.0, values["feedengine_trades_total"])
	assert.Equal(t, 2.0, values["feedengine_ws_evictions_total"])

	// a second set on another registry must not collide
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}

func TestHealth_UnhealthyBeforeFirstTick(t *testing.T) {
	h := NewHealthStatus(time.Second)
	r, code := h.Snapshot()
	assert.Equal(t, "unhealthy", r.Status)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHealth_HealthyWhenTickingWithoutSinks(t *testing.T) {
	h := NewHealthStatus(time.Second)
	h.SetLastTickTime(time.Now())
	h.SetClients(3)
	h.SetLatencySource(fixedLatency{1, 2, 3})

	r, code := h.Snapshot()
	assert.Equal(t, "healthy", r.Status)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, r.Clients)
	assert.Equal(t, 3.0, r.LatencyP99)
}

func TestHealth_DegradedOnStaleTick(t *testing.T) {
	h := NewHealthStatus(time.Second)
	h.SetLastTickTime(time.Now().Add(-10 * time.Second))
	r, _ := h.Snapshot()
	assert.Equal(t, "degraded", r.Status)
}

func TestHealth_SinkProbes(t *testing.T) {
	h := NewHealthStatus(time.Second)
	h.SetLastTickTime(time.Now())

	h.Check(context.Background(), fakePinger{name: "redis"})
	h.Check(context.Background(), fakePinger{name: "postgres", err: errors.New("dial tcp: refused")})

	r, code := h.Snapshot()
	assert.Equal(t, "degraded", r.Status)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, r.Sinks["postgres"].OK)
	assert.Equal(t, "dial tcp: refused", r.Sinks["postgres"].LastError)

	h.SetSinkError("redis", errors.New("circuit breaker is open"))
	r, _ = h.Snapshot()
	assert.Equal(t, "unhealthy", r.Status)
}

func TestHealth_ServeHTTP(t *testing.T) {
	h := NewHealthStatus(time.Second)
	h.SetLastTickTime(time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStartLivenessChecker_ProbesImmediately(t *testing.T) {
	h := NewHealthStatus(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.StartLivenessChecker(ctx, []Pinger{fakePinger{name: "sqlite"}}, time.Hour)

	assert.Eventually(t, func() bool {
		r, _ := h.Snapshot()
		s, ok := r.Sinks["sqlite"]
		return ok && s.OK
	}, time.Second, 10*time.Millisecond)
}
