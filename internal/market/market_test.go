package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"papertrade/internal/util"
)

type countingSource struct {
	calls int
	price decimal.Decimal
	ok    bool
	err   error
}

func (c *countingSource) Name() string { return "counting" }

func (c *countingSource) CurrentPrice(_ context.Context, _ string) (decimal.Decimal, bool, error) {
	c.calls++
	return c.price, c.ok, c.err
}

func TestStaticSource(t *testing.T) {
	s := NewStaticSource(map[string]decimal.Decimal{"aapl": decimal.NewFromInt(150)})
	ctx := context.Background()

	p, ok, err := s.CurrentPrice(ctx, " AAPL ")
	if err != nil || !ok || !p.Equal(decimal.NewFromInt(150)) {
		t.Errorf("CurrentPrice(AAPL) = %s, %v, %v; want 150, true, nil", p, ok, err)
	}

	s.Set("MSFT", decimal.NewFromInt(300))
	if _, ok, _ := s.CurrentPrice(ctx, "msft"); !ok {
		t.Error("price set with Set is unavailable")
	}

	s.Remove("AAPL")
	if _, ok, _ := s.CurrentPrice(ctx, "AAPL"); ok {
		t.Error("removed symbol still has a price")
	}
	s.Set("ZERO", decimal.Zero)
	if _, ok, _ := s.CurrentPrice(ctx, "ZERO"); ok {
		t.Error("zero price reported as available")
	}
}

func TestCachedSourceCachesAvailablePrices(t *testing.T) {
	next := &countingSource{price: decimal.NewFromInt(42), ok: true}
	c, err := NewCachedSource(next, time.Minute)
	if err != nil {
		t.Fatalf("NewCachedSource: %v", err)
	}
	defer c.Close()

	for i := 0; i < 3; i++ {
		p, ok, err := c.CurrentPrice(context.Background(), "aapl")
		if err != nil || !ok || !p.Equal(decimal.NewFromInt(42)) {
			t.Fatalf("CurrentPrice = %s, %v, %v; want 42, true, nil", p, ok, err)
		}
	}
	// ristretto may drop an admission; at most one call per miss.
	if next.calls == 3 {
		t.Errorf("wrapped source called %d times, want cached hits", next.calls)
	}
	if c.Name() != "counting" {
		t.Errorf("Name() = %q, want counting", c.Name())
	}
}

func TestCachedSourceSkipsUnavailable(t *testing.T) {
	next := &countingSource{err: errors.New("down")}
	c, err := NewCachedSource(next, time.Minute)
	if err != nil {
		t.Fatalf("NewCachedSource: %v", err)
	}
	defer c.Close()

	for i := 0; i < 2; i++ {
		if _, ok, err := c.CurrentPrice(context.Background(), "AAPL"); ok || err == nil {
			t.Fatalf("CurrentPrice = ok %v err %v, want unavailable with error", ok, err)
		}
	}
	if next.calls != 2 {
		t.Errorf("wrapped source called %d times, want 2", next.calls)
	}
}

func TestAlpacaSourceCurrentPrice(t *testing.T) {
	var gotSymbol string
	s := &AlpacaSource{
		latestTrade: func(symbol string, _ marketdata.GetLatestTradeRequest) (*marketdata.Trade, error) {
			gotSymbol = symbol
			if symbol == "NONE" {
				return nil, nil
			}
			return &marketdata.Trade{Price: 187.25}, nil
		},
		limiter: util.NewRateLimiter(0),
		log:     testLogger(),
	}

	p, ok, err := s.CurrentPrice(context.Background(), "aapl")
	if err != nil || !ok {
		t.Fatalf("CurrentPrice = ok %v err %v, want available", ok, err)
	}
	if gotSymbol != "AAPL" {
		t.Errorf("requested symbol %q, want AAPL", gotSymbol)
	}
	if !p.Equal(decimal.RequireFromString("187.25")) {
		t.Errorf("price = %s, want 187.25", p)
	}

	if _, ok, err := s.CurrentPrice(context.Background(), "NONE"); ok || err != nil {
		t.Errorf("missing trade = ok %v err %v, want unavailable without error", ok, err)
	}
}

func TestCalendarClock(t *testing.T) {
	cal := util.NewTradingCalendar()
	et, _ := time.LoadLocation("America/New_York")
	if et == nil {
		t.Skip("tzdata unavailable")
	}
	c := CalendarClock{Calendar: cal, Now: func() time.Time {
		return time.Date(2024, 6, 4, 11, 0, 0, 0, et)
	}}
	open, err := c.IsOpen(context.Background())
	if err != nil || !open {
		t.Errorf("IsOpen on a Tuesday morning = %v, %v; want true, nil", open, err)
	}
	next, err := c.NextOpen(context.Background())
	if want := time.Date(2024, 6, 5, 9, 30, 0, 0, et); err != nil || !next.Equal(want) {
		t.Errorf("NextOpen = %v, %v; want %v", next, err, want)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAlpacaClock(t *testing.T) {
	next := time.Date(2024, 6, 5, 13, 30, 0, 0, time.UTC)
	c := &AlpacaClock{getClock: func() (*alpaca.Clock, error) {
		return &alpaca.Clock{IsOpen: false, NextOpen: next}, nil
	}}
	ctx := context.Background()
	if open, err := c.IsOpen(ctx); err != nil || open {
		t.Errorf("IsOpen = %v, %v; want false, nil", open, err)
	}
	if got, err := c.NextOpen(ctx); err != nil || !got.Equal(next) {
		t.Errorf("NextOpen = %v, %v; want %v", got, err, next)
	}

	failing := &AlpacaClock{getClock: func() (*alpaca.Clock, error) { return nil, errors.New("503") }}
	if _, err := failing.NextOpen(ctx); err == nil {
		t.Error("NextOpen with a failing API returned no error")
	}
}
