// Package trade provides the HTTP handlers and business logic for market
// data queries, opening and closing positions, portfolio reads and
// scenario control.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/simutrade/practice-engine/internal/book"
	"github.com/simutrade/practice-engine/internal/feedback"
	"github.com/simutrade/practice-engine/internal/ledger"
	"github.com/simutrade/practice-engine/internal/metrics"
	"github.com/simutrade/practice-engine/internal/model"
	"github.com/simutrade/practice-engine/internal/scenario"
	"github.com/simutrade/practice-engine/internal/session"
	"github.com/simutrade/practice-engine/internal/sim"
)

// Service wires the simulator, sessions, scenarios and feedback behind the
// HTTP surface. Per-user serialization lives in the ledger and book; the
// service itself holds no trade state.
type Service struct {
	sim       *sim.Simulator
	sessions  *session.Manager
	scenarios *scenario.Engine
	catalog   *scenario.Catalog
	feedback  *feedback.Service
	wsHub     *WSHub // optional, nil disables broadcasting
	now       func() time.Time
}

// NewService creates the trade service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(s *sim.Simulator, sessions *session.Manager, engine *scenario.Engine, catalog *scenario.Catalog, fb *feedback.Service, hub *WSHub) *Service {
	return &Service{
		sim:       s,
		sessions:  sessions,
		scenarios: engine,
		catalog:   catalog,
		feedback:  fb,
		wsHub:     hub,
		now:       time.Now,
	}
}

// Routes mounts all handlers under the given router.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Get("/market", s.GetMarket)
	r.Get("/market/{symbol}", s.GetQuote)
	r.Get("/market/{symbol}/history", s.GetHistory)

	r.Post("/positions", s.OpenPosition)
	r.Post("/positions/{positionID}/close", s.ClosePosition)
	r.Get("/portfolio/{userID}", s.GetPortfolio)

	r.Get("/scenarios", s.ListScenarios)
	r.Post("/scenarios", s.StartScenario)
	r.Delete("/scenarios/{scenarioID}", s.StopScenario)

	r.Get("/feedback/{tradeID}", s.GetFeedback)
}

// --- Request/Response types ---

// OpenRequest is the JSON body for POST /positions.
type OpenRequest struct {
	UserID   string          `json:"user_id"`
	Symbol   string          `json:"symbol"`
	Side     model.Side      `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
}

// CloseRequest is the JSON body for POST /positions/{id}/close.
type CloseRequest struct {
	UserID string `json:"user_id"`
}

// OpenResponse is returned after a successful open.
type OpenResponse struct {
	Position model.Position  `json:"position"`
	Balance  decimal.Decimal `json:"balance"`
}

// CloseResponse is returned after a successful close.
type CloseResponse struct {
	Trade   model.ClosedTrade `json:"trade"`
	Balance decimal.Decimal   `json:"balance"`
}

// PositionView is an open position marked to the current price.
type PositionView struct {
	model.Position
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioResponse is returned from GET /portfolio/{userID}.
type PortfolioResponse struct {
	UserID             string              `json:"user_id"`
	Balance            decimal.Decimal     `json:"balance"`
	MarginCalled       bool                `json:"margin_called"`
	Positions          []PositionView      `json:"positions"`
	ClosedTrades       []model.ClosedTrade `json:"closed_trades"`
	TotalUnrealizedPnL decimal.Decimal     `json:"total_unrealized_pnl"`
	TotalRealizedPnL   decimal.Decimal     `json:"total_realized_pnl"`
}

// StartScenarioRequest starts a catalog scenario by id, or an inline
// custom definition when scenario_id is empty.
type StartScenarioRequest struct {
	ScenarioID string               `json:"scenario_id"`
	Definition *scenario.Definition `json:"definition,omitempty"`
}

// ScenariosResponse lists the catalog and the currently active scenarios.
type ScenariosResponse struct {
	Catalog []scenario.Definition `json:"catalog"`
	Active  []scenario.Info       `json:"active"`
}

// --- Market data handlers ---

// GetMarket handles GET /api/v1/market
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.MarketState())
}

// GetQuote handles GET /api/v1/market/{symbol}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	q, err := s.sim.Quote(symbol)
	if err != nil {
		writeError(w, "unknown symbol: "+symbol, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetHistory handles GET /api/v1/market/{symbol}/history?days=N
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			writeError(w, "days must be between 1 and 365", http.StatusBadRequest)
			return
		}
		days = n
	}

	series, err := s.sim.History(symbol, days)
	if err != nil {
		writeError(w, "unknown symbol: "+symbol, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// --- Trade handlers ---

// OpenPosition handles POST /api/v1/positions
// Reads the entry price atomically from the current market snapshot,
// reserves cash for longs, and records the position.
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be long or short", http.StatusBadRequest)
		return
	}

	quote, err := s.sim.Quote(req.Symbol)
	if err != nil {
		writeError(w, "unknown symbol: "+req.Symbol, http.StatusNotFound)
		return
	}

	ctx := r.Context()
	sess, err := s.sessions.Get(ctx, req.UserID)
	if err != nil {
		writeError(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	pos, err := sess.Book.Open(req.Symbol, req.Side, req.Quantity, quote.Price, s.now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.sessions.Save(ctx, sess); err != nil {
		// The trade already settled in memory; persistence catches up on
		// the next save.
		slog.Warn("session save failed", "user", req.UserID, "err", err)
	}

	metrics.TradesOpened.WithLabelValues(string(pos.Side)).Inc()
	metrics.OpenPositions.Inc()

	slog.Info("position opened",
		"position_id", pos.ID,
		"user", req.UserID,
		"symbol", pos.Symbol,
		"side", pos.Side,
		"qty", pos.Quantity.String(),
		"entry_price", pos.EntryPrice.String(),
	)

	s.dispatchFeedback(sess, feedback.Request{
		TradeID:       pos.ID,
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		Quantity:      pos.Quantity,
		EntryPrice:    pos.EntryPrice,
		ChangePercent: quote.ChangePercent,
	})

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "trade_opened", Data: pos})
	}

	writeJSON(w, http.StatusCreated, OpenResponse{
		Position: *pos,
		Balance:  sess.Ledger.Balance(),
	})
}

// ClosePosition handles POST /api/v1/positions/{positionID}/close
// Reads the exit price from the current snapshot, settles realized P&L
// and appends the trade to history. A second close fails cleanly.
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	sess, err := s.sessions.Get(ctx, req.UserID)
	if err != nil {
		writeError(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	pos, err := sess.Book.Get(positionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	quote, err := s.sim.Quote(pos.Symbol)
	if err != nil {
		writeError(w, "unknown symbol: "+pos.Symbol, http.StatusInternalServerError)
		return
	}

	calledBefore := sess.Ledger.MarginCalled()
	trade, err := sess.Book.Close(positionID, quote.Price, s.now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.sessions.Save(ctx, sess); err != nil {
		slog.Warn("session save failed", "user", req.UserID, "err", err)
	}

	outcome := "flat"
	if trade.RealizedPnL.IsPositive() {
		outcome = "win"
	} else if trade.RealizedPnL.IsNegative() {
		outcome = "loss"
	}
	metrics.TradesClosed.WithLabelValues(string(trade.Side), outcome).Inc()
	metrics.OpenPositions.Dec()
	if !calledBefore && sess.Ledger.MarginCalled() {
		metrics.MarginCalls.Inc()
		slog.Warn("margin call", "user", req.UserID, "balance", sess.Ledger.Balance().String())
	}

	slog.Info("position closed",
		"position_id", trade.ID,
		"user", req.UserID,
		"symbol", trade.Symbol,
		"side", trade.Side,
		"exit_price", trade.ExitPrice.String(),
		"realized_pnl", trade.RealizedPnL.String(),
	)

	s.dispatchFeedback(sess, feedback.Request{
		TradeID:       trade.ID,
		Symbol:        trade.Symbol,
		Side:          trade.Side,
		Quantity:      trade.Quantity,
		EntryPrice:    trade.EntryPrice,
		ExitPrice:     trade.ExitPrice,
		PnL:           trade.RealizedPnL,
		Closed:        true,
		ChangePercent: quote.ChangePercent,
	})

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "trade_closed", Data: trade})
	}

	writeJSON(w, http.StatusOK, CloseResponse{
		Trade:   *trade,
		Balance: sess.Ledger.Balance(),
	})
}

// dispatchFeedback fills in user context and hands the request to the
// fire-and-forget feedback service. Never blocks settlement.
func (s *Service) dispatchFeedback(sess *session.Session, req feedback.Request) {
	if s.feedback == nil {
		return
	}

	req.TradeCount = len(sess.Book.ClosedTrades())
	req.TotalPnL = sess.Book.TotalRealizedPnL()
	switch {
	case req.TradeCount < 10:
		req.ExperienceLevel = "beginner"
	case req.TradeCount < 50:
		req.ExperienceLevel = "intermediate"
	default:
		req.ExperienceLevel = "advanced"
	}

	s.feedback.Dispatch(req)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Unrealized P&L is recomputed against the current snapshot on every read.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	sess, err := s.sessions.Get(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	state := s.sim.MarketState()
	open := sess.Book.OpenPositions()

	views := make([]PositionView, 0, len(open))
	for _, p := range open {
		q := state.Quotes[p.Symbol]
		views = append(views, PositionView{
			Position:      p,
			CurrentPrice:  q.Price,
			UnrealizedPnL: book.UnrealizedPnL(p, q.Price),
		})
	}

	closed := sess.Book.ClosedTrades()
	if closed == nil {
		closed = []model.ClosedTrade{}
	}

	writeJSON(w, http.StatusOK, PortfolioResponse{
		UserID:             userID,
		Balance:            sess.Ledger.Balance(),
		MarginCalled:       sess.Ledger.MarginCalled(),
		Positions:          views,
		ClosedTrades:       closed,
		TotalUnrealizedPnL: sess.Book.TotalUnrealizedPnL(state),
		TotalRealizedPnL:   sess.Book.TotalRealizedPnL(),
	})
}

// --- Scenario handlers ---

// ListScenarios handles GET /api/v1/scenarios
func (s *Service) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ScenariosResponse{
		Catalog: s.catalog.List(),
		Active:  s.scenarios.Active(),
	})
}

// StartScenario handles POST /api/v1/scenarios
func (s *Service) StartScenario(w http.ResponseWriter, r *http.Request) {
	var req StartScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var def scenario.Definition
	switch {
	case req.ScenarioID != "":
		d, ok := s.catalog.Get(req.ScenarioID)
		if !ok {
			writeError(w, "unknown scenario: "+req.ScenarioID, http.StatusNotFound)
			return
		}
		def = d
	case req.Definition != nil:
		def = *req.Definition
	default:
		writeError(w, "scenario_id or definition is required", http.StatusBadRequest)
		return
	}

	active, err := s.scenarios.Start(def)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	metrics.ActiveScenarios.Set(float64(len(s.scenarios.Active())))
	slog.Info("scenario started",
		"scenario_id", active.ID,
		"title", def.Title,
		"symbols", def.AffectedSymbols,
		"duration_s", def.DurationSeconds,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "scenario_started", Data: active})
	}

	writeJSON(w, http.StatusCreated, active)
}

// StopScenario handles DELETE /api/v1/scenarios/{scenarioID}
// Idempotent: stopping an expired or unknown scenario still returns 204.
func (s *Service) StopScenario(w http.ResponseWriter, r *http.Request) {
	scenarioID := chi.URLParam(r, "scenarioID")

	s.scenarios.Stop(scenarioID)
	metrics.ActiveScenarios.Set(float64(len(s.scenarios.Active())))

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "scenario_stopped", Data: scenarioID})
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Feedback handler ---

// GetFeedback handles GET /api/v1/feedback/{tradeID}
// Feedback is generated asynchronously after settlement; until it lands
// this returns 404.
func (s *Service) GetFeedback(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	fb, ok := s.feedback.Get(tradeID)
	if !ok {
		writeError(w, "feedback not available yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

// --- Helpers ---

// writeDomainError maps typed domain errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
		writeError(w, "insufficient funds", http.StatusConflict)
	case errors.Is(err, book.ErrInvalidQuantity):
		metrics.TradeRejections.WithLabelValues("invalid_quantity").Inc()
		writeError(w, "quantity must be positive", http.StatusBadRequest)
	case errors.Is(err, book.ErrInvalidSide):
		writeError(w, "side must be long or short", http.StatusBadRequest)
	case errors.Is(err, book.ErrNotFound):
		writeError(w, "position not found", http.StatusNotFound)
	case errors.Is(err, book.ErrAlreadyClosed):
		metrics.TradeRejections.WithLabelValues("already_closed").Inc()
		writeError(w, "position already closed", http.StatusConflict)
	case errors.Is(err, scenario.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, scenario.ErrInvalidDefinition):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, sim.ErrUnknownSymbol):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
