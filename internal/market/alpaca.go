package market

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"papertrade/internal/util"
)

// Compile-time interface checks.
var (
	_ PriceSource = (*AlpacaSource)(nil)
	_ Clock       = (*AlpacaClock)(nil)
	_ Clock       = CalendarClock{}
)

// latestTradeFunc is the subset of the market-data client used for lookups.
type latestTradeFunc func(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)

// AlpacaSource looks up the latest trade price through the Alpaca market-data
// API, throttled by a token-bucket limiter.
type AlpacaSource struct {
	latestTrade latestTradeFunc
	feed        marketdata.Feed
	limiter     *util.RateLimiter
	log         *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource. dataURL and feed may be empty to
// use the client defaults. perMinute caps API calls per minute.
func NewAlpacaSource(apiKey, apiSecret, dataURL, feed string, perMinute int) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	client := marketdata.NewClient(opts)

	if perMinute <= 0 {
		perMinute = 200
	}
	return &AlpacaSource{
		latestTrade: client.GetLatestTrade,
		feed:        marketdata.Feed(feed),
		limiter:     util.NewRateLimiter(perMinute),
		log:         slog.Default().With("source", "alpaca"),
	}
}

// Name returns "alpaca".
func (s *AlpacaSource) Name() string { return "alpaca" }

// CurrentPrice returns the price of the symbol's latest trade. A missing or
// non-positive trade is reported as unavailable.
func (s *AlpacaSource) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return decimal.Zero, false, err
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	trade, err := s.latestTrade(symbol, marketdata.GetLatestTradeRequest{Feed: s.feed})
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("latest trade for %s: %w", symbol, err)
	}
	if trade == nil || trade.Price <= 0 {
		s.log.Debug("no latest trade", "symbol", symbol)
		return decimal.Zero, false, nil
	}
	return decimal.NewFromFloat(trade.Price), true, nil
}

// AlpacaClock asks the Alpaca trading API whether the market is open.
type AlpacaClock struct {
	getClock func() (*alpaca.Clock, error)
}

// NewAlpacaClock creates an AlpacaClock for the given trading API endpoint.
func NewAlpacaClock(apiKey, apiSecret, baseURL string) *AlpacaClock {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return &AlpacaClock{getClock: client.GetClock}
}

// IsOpen reports the clock's is_open flag.
func (c *AlpacaClock) IsOpen(_ context.Context) (bool, error) {
	clock, err := c.getClock()
	if err != nil {
		return false, fmt.Errorf("GetClock: %w", err)
	}
	return clock.IsOpen, nil
}

// NextOpen reports the clock's next_open timestamp.
func (c *AlpacaClock) NextOpen(_ context.Context) (time.Time, error) {
	clock, err := c.getClock()
	if err != nil {
		return time.Time{}, fmt.Errorf("GetClock: %w", err)
	}
	return clock.NextOpen, nil
}

// CalendarClock adapts a local TradingCalendar to the Clock interface.
type CalendarClock struct {
	Calendar *util.TradingCalendar
	Now      func() time.Time
}

// IsOpen reports whether the calendar considers the market open now.
func (c CalendarClock) IsOpen(_ context.Context) (bool, error) {
	return c.Calendar.IsMarketOpen(c.now()), nil
}

// NextOpen returns the next regular session open at or after now.
func (c CalendarClock) NextOpen(_ context.Context) (time.Time, error) {
	return c.Calendar.NextOpen(c.now()), nil
}

func (c CalendarClock) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
