package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is a dependency the liveness checker can probe.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// LatencySource reports fan-out latency percentiles in milliseconds.
type LatencySource interface {
	Percentiles() (p50, p95, p99 float64)
}

// SinkHealth is the last probe result for one persistence sink.
type SinkHealth struct {
	OK        bool      `json:"ok"`
	LatencyMs float64   `json:"latency_ms"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LastTickTime time.Time
	TickInterval time.Duration
	Clients      int
	Sinks        map[string]SinkHealth
	Latency      LatencySource
	StartedAt    time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(tickInterval time.Duration) *HealthStatus {
	return &HealthStatus{
		TickInterval: tickInterval,
		Sinks:        make(map[string]SinkHealth),
		StartedAt:    time.Now(),
	}
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetClients(n int) {
	h.mu.Lock()
	h.Clients = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetLatencySource(l LatencySource) {
	h.mu.Lock()
	h.Latency = l
	h.mu.Unlock()
}

// SetSinkError records a write failure observed outside the liveness probe.
func (h *HealthStatus) SetSinkError(name string, err error) {
	h.mu.Lock()
	s := h.Sinks[name]
	s.OK = err == nil
	s.LastError = ""
	if err != nil {
		s.LastError = err.Error()
	}
	s.CheckedAt = time.Now()
	h.Sinks[name] = s
	h.mu.Unlock()
}

// Check pings p and records latency + health.
func (h *HealthStatus) Check(ctx context.Context, p Pinger) {
	start := time.Now()
	err := p.Ping(ctx)
	latency := time.Since(start)

	s := SinkHealth{
		OK:        err == nil,
		LatencyMs: float64(latency.Microseconds()) / 1000.0,
		CheckedAt: time.Now(),
	}
	if err != nil {
		s.LastError = err.Error()
	}

	h.mu.Lock()
	h.Sinks[p.Name()] = s
	h.mu.Unlock()
}

// StartLivenessChecker probes every pinger immediately and then on interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, pingers []Pinger, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		for _, p := range pingers {
			h.Check(probeCtx, p)
		}
	}
	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// Report is the /healthz body.
type Report struct {
	Status       string                `json:"status"`
	Uptime       string                `json:"uptime"`
	LastTickTime string                `json:"last_tick_time"`
	TickAge      string                `json:"tick_age"`
	Clients      int                   `json:"clients"`
	Sinks        map[string]SinkHealth `json:"sinks"`
	LatencyP50   float64               `json:"fanout_latency_p50_ms"`
	LatencyP95   float64               `json:"fanout_latency_p95_ms"`
	LatencyP99   float64               `json:"fanout_latency_p99_ms"`
}

// Snapshot evaluates the current status.
//
// healthy: ticking and every sink OK. degraded: a sink is down or the last tick
// is older than five intervals. unhealthy: no tick yet, or every sink is down.
func (h *HealthStatus) Snapshot() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := Report{
		Status:  "healthy",
		Uptime:  time.Since(h.StartedAt).Round(time.Second).String(),
		Clients: h.Clients,
		Sinks:   make(map[string]SinkHealth, len(h.Sinks)),
	}
	code := http.StatusOK

	down := 0
	for name, s := range h.Sinks {
		r.Sinks[name] = s
		if !s.OK {
			down++
		}
	}

	stale := false
	if !h.LastTickTime.IsZero() {
		age := time.Since(h.LastTickTime)
		r.LastTickTime = h.LastTickTime.Format(time.RFC3339)
		r.TickAge = age.Round(time.Millisecond).String()
		stale = h.TickInterval > 0 && age > 5*h.TickInterval
	}

	if down > 0 || stale {
		r.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if h.LastTickTime.IsZero() || (len(h.Sinks) > 0 && down == len(h.Sinks)) {
		r.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	if h.Latency != nil {
		r.LatencyP50, r.LatencyP95, r.LatencyP99 = h.Latency.Percentiles()
	}
	return r, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
