package feedclient

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Quote is the latest known value of one series.
type Quote struct {
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// State mirrors the server's view from the messages received so far.
type State struct {
	mu        sync.RWMutex
	prices    map[string]Quote
	positions map[string]map[string]float64
	updates   int
}

// NewState returns an empty mirror.
func NewState() *State {
	return &State{
		prices:    make(map[string]Quote),
		positions: make(map[string]map[string]float64),
	}
}

// Apply folds one message into the mirror. Snapshots replace, updates merge.
func (s *State) Apply(m Message) error {
	switch m.Type {
	case "snapshot":
		var prices map[string]Quote
		if err := json.Unmarshal(m.Data, &prices); err != nil {
			return err
		}
		s.mu.Lock()
		s.prices = prices
		s.mu.Unlock()

	case "positions_snapshot":
		var pos map[string]map[string]float64
		if err := json.Unmarshal(m.Data, &pos); err != nil {
			return err
		}
		s.mu.Lock()
		s.positions = pos
		s.mu.Unlock()

	case "price_update":
		var u struct {
			IndexID   string  `json:"index_id"`
			Price     float64 `json:"price"`
			Timestamp string  `json:"timestamp"`
		}
		if err := json.Unmarshal(m.Data, &u); err != nil {
			return err
		}
		if u.IndexID == "" {
			return fmt.Errorf("price_update without index_id")
		}
		s.mu.Lock()
		s.prices[u.IndexID] = Quote{Price: u.Price, Timestamp: u.Timestamp}
		s.updates++
		s.mu.Unlock()

	case "position_update":
		var raw map[string]any
		if err := json.Unmarshal(m.Data, &raw); err != nil {
			return err
		}
		id, _ := raw["index_id"].(string)
		if id == "" {
			return fmt.Errorf("position_update without index_id")
		}
		fields := make(map[string]float64, 2)
		for k, v := range raw {
			if f, ok := v.(float64); ok {
				fields[k] = f
			}
		}
		s.mu.Lock()
		s.positions[id] = fields
		s.updates++
		s.mu.Unlock()
	}
	return nil
}

// Price returns the latest quote for id.
func (s *State) Price(id string) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.prices[id]
	return q, ok
}

// Position returns the latest holdings/cash fields for a portfolio.
func (s *State) Position(id string) (map[string]float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, false
	}
	cp := make(map[string]float64, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp, true
}

// Prices copies every quote.
func (s *State) Prices() map[string]Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]Quote, len(s.prices))
	for k, v := range s.prices {
		cp[k] = v
	}
	return cp
}

// Updates counts price and position updates applied since start.
func (s *State) Updates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}
