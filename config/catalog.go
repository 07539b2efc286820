package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"feed-engine/internal/model"
)

// ErrInvalidCatalog wraps every catalog validation failure.
var ErrInvalidCatalog = errors.New("invalid catalog")

// DefaultTickInterval applies when neither the catalog nor TICK_INTERVAL sets one.
const DefaultTickInterval = time.Second

// Catalog declares every series and portfolio the engine simulates.
type Catalog struct {
	TickInterval time.Duration    `yaml:"tick_interval"`
	Series       []SeriesEntry    `yaml:"series"`
	Portfolios   []PortfolioEntry `yaml:"portfolios"`
}

// SeriesEntry is one raw price series.
type SeriesEntry struct {
	ID   string  `yaml:"id"`
	Name string  `yaml:"name"`
	Seed float64 `yaml:"seed"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

// PortfolioEntry is one strategy portfolio bound to a series.
type PortfolioEntry struct {
	ID            string  `yaml:"id"`
	Underlying    string  `yaml:"underlying"`
	Strategy      string  `yaml:"strategy"`
	HoldingsField string  `yaml:"holdings_field"`
	Cash          float64 `yaml:"cash"`
	Notional      float64 `yaml:"notional"`
}

// DefaultCatalog is the metals set: Gold and Silver with a momentum and a
// contrarian portfolio on each.
func DefaultCatalog() *Catalog {
	const cash, notional = 7000.0, 3000.0
	return &Catalog{
		TickInterval: DefaultTickInterval,
		Series: []SeriesEntry{
			{ID: "Gold", Name: "Gold", Seed: 1900, Min: 1700, Max: 2100, Step: 2},
			{ID: "Silver", Name: "Silver", Seed: 30, Min: 20, Max: 40, Step: 0.1},
		},
		Portfolios: []PortfolioEntry{
			{ID: "RSI_Gold_mtm", Underlying: "Gold", Strategy: "momentum", HoldingsField: "gold_positions", Cash: cash, Notional: notional},
			{ID: "RSI_Gold_ctn", Underlying: "Gold", Strategy: "contrarian", HoldingsField: "gold_positions", Cash: cash, Notional: notional},
			{ID: "RSI_Silver_mtm", Underlying: "Silver", Strategy: "momentum", HoldingsField: "silver_positions", Cash: cash, Notional: notional},
			{ID: "RSI_Silver_ctn", Underlying: "Silver", Strategy: "contrarian", HoldingsField: "silver_positions", Cash: cash, Notional: notional},
		},
	}
}

// LoadCatalog reads and validates a YAML catalog. An empty path yields
// DefaultCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file '%s': %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog from YAML: %w", err)
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	for i := range c.Series {
		if c.Series[i].Name == "" {
			c.Series[i].Name = c.Series[i].ID
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ids, ranges and that every portfolio sits on a raw price series.
func (c *Catalog) Validate() error {
	if c.TickInterval < 0 {
		return fmt.Errorf("%w: negative tick interval %s", ErrInvalidCatalog, c.TickInterval)
	}
	if len(c.Series) == 0 {
		return fmt.Errorf("%w: at least one series must be configured", ErrInvalidCatalog)
	}

	ids := make(map[string]bool)
	series := make(map[string]bool)
	for i, s := range c.Series {
		if s.ID == "" {
			return fmt.Errorf("%w: series %d must have an id", ErrInvalidCatalog, i)
		}
		if ids[s.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, s.ID)
		}
		if s.Min >= s.Max {
			return fmt.Errorf("%w: series %q: min %.4f must be below max %.4f", ErrInvalidCatalog, s.ID, s.Min, s.Max)
		}
		if s.Seed < s.Min || s.Seed > s.Max {
			return fmt.Errorf("%w: series %q: seed %.4f outside [%.4f, %.4f]", ErrInvalidCatalog, s.ID, s.Seed, s.Min, s.Max)
		}
		if s.Min <= 0 {
			return fmt.Errorf("%w: series %q: prices must stay positive", ErrInvalidCatalog, s.ID)
		}
		if s.Step <= 0 {
			return fmt.Errorf("%w: series %q: step must be greater than 0", ErrInvalidCatalog, s.ID)
		}
		ids[s.ID] = true
		series[s.ID] = true
	}

	fields := make(map[string]string)
	for i, p := range c.Portfolios {
		if p.ID == "" {
			return fmt.Errorf("%w: portfolio %d must have an id", ErrInvalidCatalog, i)
		}
		if ids[p.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, p.ID)
		}
		ids[p.ID] = true
		if !series[p.Underlying] {
			return fmt.Errorf("%w: portfolio %q: underlying %q: %w", ErrInvalidCatalog, p.ID, p.Underlying, model.ErrUnknownIndex)
		}
		if _, err := model.ParseStrategy(p.Strategy); err != nil {
			return fmt.Errorf("%w: portfolio %q: %w", ErrInvalidCatalog, p.ID, err)
		}
		if p.HoldingsField == "" {
			return fmt.Errorf("%w: portfolio %q must name a holdings field", ErrInvalidCatalog, p.ID)
		}
		if p.HoldingsField == "cash_balance" || p.HoldingsField == "index_id" || p.HoldingsField == "timestamp" {
			return fmt.Errorf("%w: portfolio %q: holdings field %q collides with a message key", ErrInvalidCatalog, p.ID, p.HoldingsField)
		}
		if prev, ok := fields[p.Underlying]; ok && prev != p.HoldingsField {
			return fmt.Errorf("%w: portfolio %q: holdings field %q differs from %q used for %s", ErrInvalidCatalog, p.ID, p.HoldingsField, prev, p.Underlying)
		}
		fields[p.Underlying] = p.HoldingsField
		if p.Cash < 0 || p.Notional < 0 {
			return fmt.Errorf("%w: portfolio %q: cash and notional cannot be negative", ErrInvalidCatalog, p.ID)
		}
	}
	return nil
}

// PortfolioSpecs converts the catalog portfolios into model specs. The catalog
// must already be valid.
func (c *Catalog) PortfolioSpecs() ([]model.PortfolioSpec, error) {
	out := make([]model.PortfolioSpec, 0, len(c.Portfolios))
	for _, p := range c.Portfolios {
		kind, err := model.ParseStrategy(p.Strategy)
		if err != nil {
			return nil, fmt.Errorf("%w: portfolio %q: %w", ErrInvalidCatalog, p.ID, err)
		}
		out = append(out, model.PortfolioSpec{
			ID:            p.ID,
			Underlying:    p.Underlying,
			Strategy:      kind,
			HoldingsField: p.HoldingsField,
			Cash:          p.Cash,
			Notional:      p.Notional,
		})
	}
	return out, nil
}
