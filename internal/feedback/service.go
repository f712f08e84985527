package feedback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/simutrade/practice-engine/internal/model"
)

// cacheLimit bounds the in-memory feedback cache.
const cacheLimit = 1024

// Service dispatches feedback generation off the settlement path. The
// remote adapter is tried first when configured; any failure falls back to
// the deterministic rule adapter, which cannot fail. Results land in a
// bounded cache keyed by trade ID and are pushed to the optional onReady
// callback.
type Service struct {
	remote   Adapter // nil when not configured
	fallback Adapter
	timeout  time.Duration
	onReady  func(*model.Feedback)

	mu    sync.Mutex
	cache map[string]*model.Feedback
	order []string

	wg sync.WaitGroup
}

// NewService creates the dispatcher. remote may be nil.
func NewService(remote Adapter, onReady func(*model.Feedback)) *Service {
	return &Service{
		remote:   remote,
		fallback: NewRuleAdapter(),
		timeout:  10 * time.Second,
		onReady:  onReady,
		cache:    make(map[string]*model.Feedback),
	}
}

// Dispatch generates feedback for the trade in a detached goroutine.
// It returns immediately; settlement never waits on it.
func (s *Service) Dispatch(req Request) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fb := s.generate(req)
		fb.CreatedAt = time.Now().UTC()
		s.put(req.TradeID, fb)
		if s.onReady != nil {
			s.onReady(fb)
		}
	}()
}

func (s *Service) generate(req Request) *model.Feedback {
	if s.remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		fb, err := s.remote.Generate(ctx, req)
		if err == nil {
			return fb
		}
		slog.Warn("remote feedback unavailable, using fallback",
			"trade_id", req.TradeID, "err", err)
	}
	fb, _ := s.fallback.Generate(context.Background(), req) // rule adapter never fails
	return fb
}

// Get returns cached feedback for a trade, if generated yet.
func (s *Service) Get(tradeID string) (*model.Feedback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fb, ok := s.cache[tradeID]
	return fb, ok
}

func (s *Service) put(tradeID string, fb *model.Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cache[tradeID]; !exists {
		s.order = append(s.order, tradeID)
	}
	s.cache[tradeID] = fb

	for len(s.order) > cacheLimit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.cache, oldest)
	}
}

// Wait blocks until all dispatched generations have finished. Test hook.
func (s *Service) Wait() { s.wg.Wait() }
