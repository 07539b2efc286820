package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"feed-engine/internal/model"
	"feed-engine/internal/store/sqlite"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StateSource is what the REST handlers read from.
type StateSource interface {
	SnapshotSource
	Value(id string) (float64, error)
}

// TradeSource lists journaled trades, newest first.
type TradeSource interface {
	Trades(ctx context.Context, portfolio string, limit int) ([]sqlite.TradeRecord, error)
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(v)
}

// RegisterRoutes registers the websocket and REST routes on mux. trades may be
// nil, in which case /api/trades is not served.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, state StateSource, trades TradeSource) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		if _, err := hub.Register(conn); err != nil {
			log.Printf("[gateway] ws register error: %v", err)
		}
	})

	// REST: current value of every series, or of one with ?id=
	mux.HandleFunc("/api/indices", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			writeJSON(w, http.StatusOK, state.Snapshot().Prices)
			return
		}
		v, err := state.Value(id)
		if errors.Is(err, model.ErrUnknownIndex) {
			writeJSON(w, http.StatusNotFound, ErrorOut{Error: err.Error()})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorOut{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, IndexOut{ID: id, Price: v})
	})

	// REST: holdings and cash of every portfolio
	mux.HandleFunc("/api/positions", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeJSON(w, http.StatusOK, state.Snapshot().Positions)
	})

	if trades == nil {
		return
	}

	// REST: trade journal, ?portfolio=&limit=
	mux.HandleFunc("/api/trades", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		limit := 100
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 1000 {
				writeJSON(w, http.StatusBadRequest, ErrorOut{Error: "limit must be between 1 and 1000"})
				return
			}
			limit = n
		}
		out, err := trades.Trades(r.Context(), r.URL.Query().Get("portfolio"), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorOut{Error: err.Error()})
			return
		}
		if out == nil {
			out = []sqlite.TradeRecord{}
		}
		writeJSON(w, http.StatusOK, out)
	})
}
