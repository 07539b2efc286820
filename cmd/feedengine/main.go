// cmd/feedengine: simulated index feed.
//
// Walks the catalog's price series and strategy portfolios on a fixed tick,
// streams every update over websocket and mirrors the values to the configured
// stores.
//
// Config (env vars):
//
//	FEED_ADDR        websocket + REST listen address (default: ":8765")
//	METRICS_ADDR     /metrics and /healthz listen address (default: ":9090")
//	CATALOG_PATH     YAML catalog; empty uses the built-in metals catalog
//	TICK_INTERVAL    overrides the catalog tick interval, e.g. "500ms"
//	STORE_BACKENDS   comma-separated subset of postgres,redis,sqlite
//	RNG_SEED         fixed seed for reproducible runs (default: clock)
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feed-engine/config"
	"feed-engine/internal/aggregator"
	"feed-engine/internal/gateway"
	"feed-engine/internal/logger"
	"feed-engine/internal/metrics"
	"feed-engine/internal/model"
	"feed-engine/internal/randwalk"
	"feed-engine/internal/store/postgres"
	"feed-engine/internal/store/redis"
	"feed-engine/internal/store/sqlite"
)

// hubPublisher lets the aggregator publish to a hub that is built after it.
type hubPublisher struct{ hub *gateway.Hub }

func (p *hubPublisher) Publish(e model.Event) {
	if p.hub != nil {
		p.hub.Publish(e)
	}
}

type stores struct {
	sinks   []model.Sink
	pingers []metrics.Pinger
	journal *sqlite.Writer
}

func (s *stores) add(sink model.Sink, p metrics.Pinger) {
	s.sinks = append(s.sinks, sink)
	s.pingers = append(s.pingers, p)
}

func (s *stores) close() {
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			log.Printf("[feedengine] close %s: %v", sink.Name(), err)
		}
	}
}

func openStores(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*stores, error) {
	s := &stores{}
	for _, name := range cfg.Backends() {
		switch name {
		case "postgres":
			pg, err := postgres.New(ctx, cfg.PostgresDSN)
			if err != nil {
				s.close()
				return nil, err
			}
			s.add(pg, pg)
		case "redis":
			rw, err := redis.New(redis.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
			if err != nil {
				s.close()
				return nil, err
			}
			rw.Breaker().OnStateChange = func(from, to redis.State) {
				m.RedisCircuitBreakerState.Set(float64(to))
				if to == redis.StateOpen {
					m.RedisCircuitBreakerTrips.Inc()
				}
				log.Printf("[feedengine] redis breaker %s -> %s", from, to)
			}
			s.add(rw, rw)
		case "sqlite":
			sw, err := sqlite.New(sqlite.WriterConfig{DBPath: cfg.SQLitePath})
			if err != nil {
				s.close()
				return nil, err
			}
			s.add(sw, sw)
			s.journal = sw
		}
		log.Printf("[feedengine] store %s ready", name)
	}
	return s, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	logger.Init("feedengine", logger.ParseLevel(cfg.LogLevel))

	cat, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("[feedengine] catalog: %v", err)
	}
	if cfg.TickInterval > 0 {
		cat.TickInterval = cfg.TickInterval
	}

	seed := cfg.RNGSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Printf("[feedengine] %d series, %d portfolios, tick %s, seed %d",
		len(cat.Series), len(cat.Portfolios), cat.TickInterval, seed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus(cat.TickInterval)

	st, err := openStores(ctx, cfg, m)
	if err != nil {
		log.Fatalf("[feedengine] store init failed: %v", err)
	}
	defer st.close()

	pub := &hubPublisher{}
	opts := aggregator.Options{
		RNG:       randwalk.NewSource(seed),
		Publisher: pub,
		Sinks:     st.sinks,
		Metrics:   m,
		Health:    health,
	}
	// a typed nil would defeat the aggregator's nil check
	var trades gateway.TradeSource
	if st.journal != nil {
		opts.Trades = st.journal
		trades = st.journal
	}

	agg, err := aggregator.New(cat, opts)
	if err != nil {
		log.Fatalf("[feedengine] init failed: %v", err)
	}
	hub := gateway.NewHub(agg, gateway.DefaultHubConfig(), m, health)
	pub.hub = hub

	if err := agg.Seed(ctx, cfg.ReseedOnStart); err != nil {
		log.Fatalf("[feedengine] seed failed: %v", err)
	}

	health.StartLivenessChecker(ctx, st.pingers, 10*time.Second)
	go hub.RunSweeper(ctx, cfg.SweepInterval)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, agg, trades)
	srv := &http.Server{Addr: cfg.FeedAddr, Handler: mux}
	go func() {
		log.Printf("[feedengine] feed listening on %s", cfg.FeedAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[feedengine] feed server: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		agg.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	cancel()
	<-done

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	hub.CloseAll()
	srv.Shutdown(shutCtx)
	metricsSrv.Stop(shutCtx)
}
