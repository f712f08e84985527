// Package scenario overlays bounded-duration demand/supply shocks onto the
// price simulator: a drift bias plus a volatility multiplier over a subset
// of symbols, reverted automatically on expiry.
package scenario

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simutrade/practice-engine/internal/sim"
)

var (
	// ErrConflict is returned when a new scenario's symbol set overlaps an
	// already-active one.
	ErrConflict = errors.New("scenario: conflicting scenario already active")

	// ErrInvalidDefinition is returned for a definition with no symbols, a
	// non-positive duration or a non-positive volatility multiplier.
	ErrInvalidDefinition = errors.New("scenario: invalid definition")
)

// Active is a running scenario with its expiry deadline.
type Active struct {
	ID        string     `json:"id"`
	Def       Definition `json:"definition"`
	StartedAt time.Time  `json:"started_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Info is the presentation view of an active scenario.
type Info struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// Engine applies scenario overlays to the simulator's per-symbol
// generation parameters and restores the saved originals on stop or
// expiry. Reversion is a single atomic parameter swap, so no tick can
// observe a half-reverted set; expiry is swept from the simulator's
// pre-tick hook.
type Engine struct {
	mu      sync.Mutex
	sim     *sim.Simulator
	now     func() time.Time
	actives map[string]*Active
	saved   map[string]map[string]sim.Params // scenario id → original params
}

// NewEngine creates an engine bound to the simulator and registers the
// expiry sweep as the simulator's pre-tick hook.
func NewEngine(s *sim.Simulator, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		sim:     s,
		now:     now,
		actives: make(map[string]*Active),
		saved:   make(map[string]map[string]sim.Params),
	}
	s.SetPreTick(e.Sweep)
	return e
}

// Start activates a scenario: saves the affected symbols' current
// parameters, applies volatility*multiplier and drift+bias, and arms the
// expiry. Disjoint scenarios may run concurrently; overlapping symbol
// sets conflict.
func (e *Engine) Start(def Definition) (*Active, error) {
	if len(def.AffectedSymbols) == 0 || def.DurationSeconds <= 0 || def.VolatilityMultiplier <= 0 {
		return nil, ErrInvalidDefinition
	}

	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepLocked(now)

	for _, a := range e.actives {
		if overlaps(a.Def.AffectedSymbols, def.AffectedSymbols) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, a.Def.Title)
		}
	}

	saved, err := e.sim.ParamsFor(def.AffectedSymbols)
	if err != nil {
		return nil, err
	}

	overlay := make(map[string]sim.Params, len(saved))
	for symbol, p := range saved {
		overlay[symbol] = sim.Params{
			Volatility: p.Volatility * def.VolatilityMultiplier,
			Drift:      p.Drift + def.DriftBias,
		}
	}
	if err := e.sim.SetParams(overlay); err != nil {
		return nil, err
	}

	a := &Active{
		ID:        uuid.New().String(),
		Def:       def,
		StartedAt: now,
		ExpiresAt: now.Add(time.Duration(def.DurationSeconds) * time.Second),
	}
	e.actives[a.ID] = a
	e.saved[a.ID] = saved
	return a, nil
}

// Stop reverts an active scenario immediately. Stopping an unknown or
// already-expired scenario is a no-op.
func (e *Engine) Stop(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revertLocked(id)
}

// Sweep reverts every scenario whose deadline has passed. The simulator
// invokes it before each tick.
func (e *Engine) Sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepLocked(now)
}

// Active returns presentation metadata for the scenarios still running.
func (e *Engine) Active() []Info {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweepLocked(now)

	out := make([]Info, 0, len(e.actives))
	for _, a := range e.actives {
		remaining := int64(a.ExpiresAt.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Info{
			ID:               a.ID,
			Title:            a.Def.Title,
			Description:      a.Def.Description,
			RemainingSeconds: remaining,
		})
	}
	return out
}

func (e *Engine) sweepLocked(now time.Time) {
	for id, a := range e.actives {
		if !now.Before(a.ExpiresAt) {
			e.revertLocked(id)
		}
	}
}

func (e *Engine) revertLocked(id string) {
	saved, ok := e.saved[id]
	if !ok {
		return
	}
	// SetParams swaps the whole set under the simulator's lock; ticks see
	// either the overlay or the restored originals, never a mix. The saved
	// set came from ParamsFor on a fixed universe, so every symbol exists.
	_ = e.sim.SetParams(saved)
	delete(e.saved, id)
	delete(e.actives, id)
}

func overlaps(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}
