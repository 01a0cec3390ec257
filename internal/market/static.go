package market

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

var _ PriceSource = (*StaticSource)(nil)

// StaticSource serves prices from an in-memory table. It backs the simulator
// configuration and tests; prices can be moved at runtime with Set.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticSource creates a StaticSource seeded with the given prices.
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	s := &StaticSource{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		s.prices[strings.ToUpper(sym)] = p
	}
	return s
}

// Name returns "static".
func (s *StaticSource) Name() string { return "static" }

// Set updates the price of a symbol.
func (s *StaticSource) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[strings.ToUpper(symbol)] = price
	s.mu.Unlock()
}

// Remove makes a symbol unavailable.
func (s *StaticSource) Remove(symbol string) {
	s.mu.Lock()
	delete(s.prices, strings.ToUpper(symbol))
	s.mu.Unlock()
}

// CurrentPrice returns the stored price, if any.
func (s *StaticSource) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok || !p.IsPositive() {
		return decimal.Zero, false, nil
	}
	return p, true, nil
}
