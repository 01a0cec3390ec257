// Package market provides current-price lookups for symbols and market-open
// checks. Engine code depends only on the PriceSource and Clock interfaces.
package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource returns the latest observed price of a symbol. ok is false when
// no price is available; callers treat a non-nil error the same way.
type PriceSource interface {
	// Name returns the source identifier (e.g. "alpaca", "static").
	Name() string

	// CurrentPrice returns the most recent price for symbol.
	CurrentPrice(ctx context.Context, symbol string) (price decimal.Decimal, ok bool, err error)
}

// Clock reports whether the market is currently open for regular trading
// and when the next session starts.
type Clock interface {
	IsOpen(ctx context.Context) (bool, error)
	NextOpen(ctx context.Context) (time.Time, error)
}
