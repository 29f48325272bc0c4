// Package oracle provides read-only JPY/USD price feeds for the conversion
// keeper. A quote carries the rate and the feed's own update timestamp; the
// keeper, not the feed, decides whether the quote is too stale to act on.
package oracle

import (
	"context"
	"sync"
	"time"
)

// Quote is one observation of the JPY-per-USD exchange rate, scaled 1e6
// (155_000_000 = ¥155.00 per dollar).
type Quote struct {
	Rate      uint64
	UpdatedAt time.Time
}

// Source retrieves the current exchange rate quote.
type Source interface {
	JPYRate(ctx context.Context) (Quote, error)
}

// Static returns a settable fixed quote; used in tests and dry runs.
type Static struct {
	mu    sync.RWMutex
	quote Quote
	err   error
}

// NewStatic builds a static source quoting rate as of updatedAt.
func NewStatic(rate uint64, updatedAt time.Time) *Static {
	return &Static{quote: Quote{Rate: rate, UpdatedAt: updatedAt}}
}

// Set replaces the quote.
func (s *Static) Set(rate uint64, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote = Quote{Rate: rate, UpdatedAt: updatedAt}
	s.err = nil
}

// Fail makes every subsequent call return err.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) JPYRate(context.Context) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quote, s.err
}

var _ Source = (*Static)(nil)
