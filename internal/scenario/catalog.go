package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition describes one practice scenario. DriftBias is an additive
// per-tick percentage drift (e.g. -0.0005 pushes prices down ~0.05% per
// tick); VolatilityMultiplier scales the affected symbols' tick
// volatility.
type Definition struct {
	ID                   string   `yaml:"id" json:"id"`
	Title                string   `yaml:"title" json:"title"`
	Description          string   `yaml:"description" json:"description"`
	Difficulty           string   `yaml:"difficulty" json:"difficulty"`
	Category             string   `yaml:"category" json:"category"`
	DriftBias            float64  `yaml:"drift_bias" json:"drift_bias"`
	VolatilityMultiplier float64  `yaml:"volatility_multiplier" json:"volatility_multiplier"`
	AffectedSymbols      []string `yaml:"affected_symbols" json:"affected_symbols"`
	DurationSeconds      int      `yaml:"duration_seconds" json:"duration_seconds"`
}

// Catalog is the set of scenario definitions available to start.
type Catalog struct {
	defs  map[string]Definition
	order []string
}

// NewCatalog builds a catalog from definitions, rejecting duplicates.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("scenario: definition %q has no id", d.Title)
		}
		if _, dup := c.defs[d.ID]; dup {
			return nil, fmt.Errorf("scenario: duplicate definition id %s", d.ID)
		}
		c.defs[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	return c, nil
}

// LoadCatalog reads scenario definitions from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Scenarios []Definition `yaml:"scenarios"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	return NewCatalog(file.Scenarios)
}

// Get returns the definition with the given id.
func (c *Catalog) Get(id string) (Definition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// List returns all definitions in registration order.
func (c *Catalog) List() []Definition {
	out := make([]Definition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.defs[id])
	}
	return out
}

// DefaultCatalog returns the built-in practice scenarios.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Definition{
		{
			ID:                   "market-crash",
			Title:                "Market Crash Response",
			Description:          "Major market index drops sharply on unexpected economic news. Practice protective strategies and risk management.",
			Difficulty:           "Advanced",
			Category:             "Risk Management",
			DriftBias:            -0.0005,
			VolatilityMultiplier: 5,
			AffectedSymbols:      []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN", "NVDA"},
			DurationSeconds:      600,
		},
		{
			ID:                   "earnings-beat",
			Title:                "Earnings Beat",
			Description:          "Company just reported earnings that beat expectations by 15%. Trade the post-announcement momentum.",
			Difficulty:           "Intermediate",
			Category:             "Event Trading",
			DriftBias:            0.0005,
			VolatilityMultiplier: 3,
			AffectedSymbols:      []string{"AAPL"},
			DurationSeconds:      300,
		},
		{
			ID:                   "news-spike",
			Title:                "Breaking News Spike",
			Description:          "Positive regulatory news causes a sudden price movement. Decide quickly whether to chase or fade the move.",
			Difficulty:           "Intermediate",
			Category:             "Event Trading",
			DriftBias:            0.0015,
			VolatilityMultiplier: 4,
			AffectedSymbols:      []string{"NVDA"},
			DurationSeconds:      180,
		},
	})
	if err != nil {
		panic(err) // built-in definitions are static
	}
	return c
}
