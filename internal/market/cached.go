package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/shopspring/decimal"
)

var _ PriceSource = (*CachedSource)(nil)

// CachedSource wraps a PriceSource and keeps each available price for a fixed
// TTL. Unavailable lookups are not cached.
type CachedSource struct {
	next  PriceSource
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedSource creates a CachedSource in front of next. A non-positive ttl
// defaults to five seconds.
func NewCachedSource(next PriceSource, ttl time.Duration) (*CachedSource, error) {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating price cache: %w", err)
	}
	return &CachedSource{next: next, cache: cache, ttl: ttl}, nil
}

// Name returns the wrapped source's name.
func (s *CachedSource) Name() string { return s.next.Name() }

// CurrentPrice returns a cached price when one is fresh, otherwise it asks the
// wrapped source and caches an available result.
func (s *CachedSource) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if v, found := s.cache.Get(key); found {
		return v.(decimal.Decimal), true, nil
	}

	price, ok, err := s.next.CurrentPrice(ctx, key)
	if err != nil || !ok {
		return price, ok, err
	}
	s.cache.SetWithTTL(key, price, 1, s.ttl)
	s.cache.Wait()
	return price, true, nil
}

// Close releases the cache's background goroutines.
func (s *CachedSource) Close() { s.cache.Close() }
