// Package sim generates synthetic market data: live percentage-walk ticks
// for a fixed symbol universe and reproducible backdated daily history.
//
// All prices use shopspring/decimal — never float64 for money. The random
// percentage delta is drawn as float64 and converted immediately.
//
// Concurrency model: Tick is the only mutator and runs on a single logical
// clock. Each tick publishes an immutable MarketState snapshot; readers
// load the last-published snapshot without locking.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simutrade/practice-engine/internal/model"
)

var (
	// ErrUnknownSymbol is returned when a symbol is not in the universe.
	ErrUnknownSymbol = errors.New("sim: unknown symbol")

	// ErrNoSymbols is returned when the simulator is created with an
	// empty symbol universe.
	ErrNoSymbols = errors.New("sim: at least one symbol is required")

	// PriceFloor is the minimum allowed simulated price. Keeps prices
	// strictly positive so percentage math stays defined.
	PriceFloor = decimal.NewFromFloat(0.01)
)

// QuoteScale is the number of decimal places quotes are rounded to.
const QuoteScale int32 = 2

// Default generation parameters. Live ticks draw a delta uniform on
// [-Volatility, +Volatility] plus Drift; history generation uses wider
// daily volatility with a small positive drift.
const (
	DefaultTickVolatility = 0.01
	HistoryVolatility     = 0.02
	HistoryDrift          = 0.0002
	DefaultTickInterval   = 2 * time.Second
)

// Params are the per-symbol generation parameters. A scenario overlay
// temporarily replaces them and restores the originals on expiry.
type Params struct {
	Volatility float64 // half-width of the uniform percentage delta
	Drift      float64 // additive per-tick percentage bias
}

// SymbolSpec registers one symbol with its reference price. The symbol
// universe is fixed at initialization.
type SymbolSpec struct {
	Symbol    string
	BasePrice decimal.Decimal
}

// Simulator owns the market state for the whole process. One instance
// drives every user's market view.
type Simulator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	now      func() time.Time
	interval time.Duration
	quotes   map[string]*model.Quote
	params   map[string]Params

	snapshot atomic.Pointer[model.MarketState]

	hookMu  sync.RWMutex
	preTick func(time.Time) // scenario expiry sweep, runs before each tick

	subMu   sync.RWMutex
	subs    map[int]func(*model.MarketState)
	nextSub int
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithRand injects a seedable random source so price paths can be
// replayed exactly in tests.
func WithRand(rng *rand.Rand) Option {
	return func(s *Simulator) { s.rng = rng }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// WithInterval sets the live tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Simulator) { s.interval = d }
}

// New seeds each symbol with price = openPrice = basePrice, zero change and
// a pseudo-random initial volume, and publishes the initial snapshot.
func New(symbols []SymbolSpec, opts ...Option) (*Simulator, error) {
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}

	s := &Simulator{
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		interval: DefaultTickInterval,
		quotes:   make(map[string]*model.Quote, len(symbols)),
		params:   make(map[string]Params, len(symbols)),
		subs:     make(map[int]func(*model.MarketState)),
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now()
	for _, spec := range symbols {
		if !spec.BasePrice.IsPositive() {
			return nil, fmt.Errorf("sim: symbol %s: base price must be positive, got %s", spec.Symbol, spec.BasePrice)
		}
		if _, dup := s.quotes[spec.Symbol]; dup {
			return nil, fmt.Errorf("sim: duplicate symbol %s", spec.Symbol)
		}
		price := spec.BasePrice.Round(QuoteScale)
		s.quotes[spec.Symbol] = &model.Quote{
			Symbol:        spec.Symbol,
			Price:         price,
			OpenPrice:     price,
			Change:        decimal.Zero,
			ChangePercent: decimal.Zero,
			Volume:        500_000 + s.rng.Int63n(1_000_000),
			High:          price,
			Low:           price,
			LastUpdated:   now,
		}
		s.params[spec.Symbol] = Params{Volatility: DefaultTickVolatility}
	}

	s.snapshot.Store(s.buildSnapshot(now))
	return s, nil
}

// SetPreTick registers a hook invoked with the current time before each
// tick mutates prices. The scenario engine uses it to sweep expired
// overlays, so a tick never runs against a half-reverted parameter set.
func (s *Simulator) SetPreTick(fn func(time.Time)) {
	s.hookMu.Lock()
	s.preTick = fn
	s.hookMu.Unlock()
}

// Tick advances every symbol one step and publishes the new snapshot.
// It is the single writer; never call it from more than one goroutine.
func (s *Simulator) Tick() *model.MarketState {
	now := s.now()

	s.hookMu.RLock()
	hook := s.preTick
	s.hookMu.RUnlock()
	if hook != nil {
		hook(now)
	}

	s.mu.Lock()
	for symbol, q := range s.quotes {
		p := s.params[symbol]
		delta := (s.rng.Float64()*2-1)*p.Volatility + p.Drift

		next := q.Price.Mul(decimal.NewFromFloat(1 + delta)).Round(QuoteScale)
		if next.LessThan(PriceFloor) {
			// Clamp rather than reject: a non-positive price must
			// never be produced.
			next = PriceFloor
		}

		if !q.OpenPrice.IsPositive() {
			panic("sim: open price invariant violated for " + symbol)
		}

		q.Price = next
		q.Change = next.Sub(q.OpenPrice)
		q.ChangePercent = q.Change.Div(q.OpenPrice).Mul(decimal.NewFromInt(100)).Round(4)
		if next.GreaterThan(q.High) {
			q.High = next
		}
		if next.LessThan(q.Low) {
			q.Low = next
		}
		q.Volume += 1_000 + s.rng.Int63n(50_000)
		q.LastUpdated = now
	}
	snap := s.buildSnapshot(now)
	s.snapshot.Store(snap)
	s.mu.Unlock()

	s.notify(snap)
	return snap
}

// buildSnapshot copies the working quotes into an immutable MarketState.
// Caller must hold s.mu.
func (s *Simulator) buildSnapshot(now time.Time) *model.MarketState {
	quotes := make(map[string]model.Quote, len(s.quotes))
	for symbol, q := range s.quotes {
		quotes[symbol] = *q
	}
	return &model.MarketState{Quotes: quotes, AsOf: now}
}

// MarketState returns the last-published snapshot. Lock-free.
func (s *Simulator) MarketState() *model.MarketState {
	return s.snapshot.Load()
}

// Quote returns the current quote for one symbol.
func (s *Simulator) Quote(symbol string) (model.Quote, error) {
	q, ok := s.snapshot.Load().Quotes[symbol]
	if !ok {
		return model.Quote{}, ErrUnknownSymbol
	}
	return q, nil
}

// Symbols returns the fixed symbol universe.
func (s *Simulator) Symbols() []string {
	snap := s.snapshot.Load()
	out := make([]string, 0, len(snap.Quotes))
	for symbol := range snap.Quotes {
		out = append(out, symbol)
	}
	return out
}

// ParamsFor returns a copy of the current generation parameters for the
// given symbols. Fails if any symbol is unknown.
func (s *Simulator) ParamsFor(symbols []string) (map[string]Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Params, len(symbols))
	for _, symbol := range symbols {
		p, ok := s.params[symbol]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
		out[symbol] = p
	}
	return out, nil
}

// SetParams swaps generation parameters for a set of symbols in one
// critical section: either every symbol is updated or none is, and no
// tick can observe a partial update.
func (s *Simulator) SetParams(params map[string]Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for symbol := range params {
		if _, ok := s.params[symbol]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
	}
	for symbol, p := range params {
		s.params[symbol] = p
	}
	return nil
}

// Subscribe registers a callback invoked with each published snapshot.
// The returned function removes the subscription.
func (s *Simulator) Subscribe(fn func(*model.MarketState)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Simulator) notify(snap *model.MarketState) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subs {
		fn(snap)
	}
}

// Run ticks on a fixed-period timer until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// History generates a backdated daily series for one registered symbol,
// seeded from its base (session open) price.
func (s *Simulator) History(symbol string, days int) (model.PriceSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[symbol]
	if !ok {
		return nil, ErrUnknownSymbol
	}
	return GenerateHistory(symbol, q.OpenPrice, days, s.rng, s.now()), nil
}

// GenerateHistory walks days+1 daily points backward from now: each step
// applies a delta uniform on [-HistoryVolatility, +HistoryVolatility] plus
// HistoryDrift, clamped at PriceFloor. It is a pure function of its
// arguments and the random source, so a seeded rng replays the exact path.
func GenerateHistory(symbol string, basePrice decimal.Decimal, days int, rng *rand.Rand, now time.Time) model.PriceSeries {
	series := make(model.PriceSeries, 0, days+1)
	price := basePrice

	for i := days; i >= 0; i-- {
		ts := now.AddDate(0, 0, -i)
		delta := (rng.Float64()*2-1)*HistoryVolatility + HistoryDrift

		price = price.Mul(decimal.NewFromFloat(1 + delta)).Round(QuoteScale)
		if price.LessThan(PriceFloor) {
			price = PriceFloor
		}

		series = append(series, model.PricePoint{
			Symbol:    symbol,
			Timestamp: ts,
			Price:     price,
		})
	}
	return series
}
