package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/market"
)

// panicSource panics for one symbol and defers to a static table otherwise.
type panicSource struct {
	*market.StaticSource
	symbol string
}

func (p *panicSource) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	if symbol == p.symbol {
		panic("price feed exploded")
	}
	return p.StaticSource.CurrentPrice(ctx, symbol)
}

type fixedClock bool

func (c fixedClock) IsOpen(context.Context) (bool, error) { return bool(c), nil }

func (c fixedClock) NextOpen(context.Context) (time.Time, error) { return testNow.Add(time.Hour), nil }

func TestProcessPendingContinuesPastFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.openAccount(t, "user-1")

	// Conditional orders do not look up a price at creation.
	boom := env.mustCreate(t, OrderRequest{AccountID: a.ID, Symbol: "BOOM", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeLimit, Quantity: d("1"), LimitPrice: nd("10")})
	good := env.mustCreate(t, OrderRequest{AccountID: a.ID, Symbol: "X", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeLimit, Quantity: d("2"), LimitPrice: nd("50")})
	env.prices.Set("X", d("49"))

	env.engine.prices = &panicSource{StaticSource: env.prices, symbol: "BOOM"}
	s := NewScheduler(env.engine, env.store, SchedulerConfig{}, nil)

	pending, filled, failed := s.ProcessPending(ctx)
	if pending != 2 || filled != 1 || failed != 1 {
		t.Errorf("ProcessPending = %d pending %d filled %d failed, want 2/1/1", pending, filled, failed)
	}

	if o, _ := env.engine.GetOrder(ctx, good.ID); o.Status != domain.OrderStatusFilled {
		t.Errorf("good order status = %s, want FILLED", o.Status)
	}
	if o, _ := env.engine.GetOrder(ctx, boom.ID); o.Status != domain.OrderStatusPending {
		t.Errorf("failing order status = %s, want PENDING", o.Status)
	}
}

func TestRunOnceMarketClosedSkipsSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.openAccount(t, "user-1")
	env.prices.Set("X", d("100"))
	env.mustCreate(t, OrderRequest{AccountID: a.ID, Symbol: "X", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeMarket, Quantity: d("1")})
	o := env.mustCreate(t, OrderRequest{AccountID: a.ID, Symbol: "X", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeLimit, Quantity: d("1"), LimitPrice: nd("95")})
	env.prices.Set("X", d("90"))

	s := NewScheduler(env.engine, env.store, SchedulerConfig{Clock: fixedClock(false)}, nil)
	res := s.RunOnce(ctx)
	if res.Pending != 0 || res.Accounts != 1 {
		t.Errorf("closed pass = %+v, want no sweep and one account refreshed", res)
	}
	if got, _ := env.engine.GetOrder(ctx, o.ID); got.Status != domain.OrderStatusPending {
		t.Errorf("status = %s, want PENDING while market closed", got.Status)
	}
	// Balance refresh still re-marks: 99900 cash + 1*90.
	if bal := env.account(t, a.ID).CurrentBalance; !bal.Equal(d("99990")) {
		t.Errorf("balance = %s, want 99990", bal)
	}

	s.cfg.Clock = fixedClock(true)
	res = s.RunOnce(ctx)
	if res.Filled != 1 {
		t.Errorf("open pass filled %d orders, want 1", res.Filled)
	}
	env.checkConservation(t, a.ID)
}

func TestRunOnceSkipsOverlap(t *testing.T) {
	env := newTestEnv(t)
	s := NewScheduler(env.engine, env.store, SchedulerConfig{}, nil)
	s.running.Store(true)
	if res := s.RunOnce(context.Background()); !res.Skipped {
		t.Errorf("RunOnce during a pass = %+v, want skipped", res)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.openAccount(t, "user-1")
	env.prices.Set("X", d("100"))
	o := env.mustCreate(t, OrderRequest{AccountID: a.ID, Symbol: "X", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeLimit, Quantity: d("1"), LimitPrice: nd("99")})

	s := NewScheduler(env.engine, env.store, SchedulerConfig{Interval: 10 * time.Millisecond}, nil)
	s.Start(ctx)
	s.Start(ctx) // no-op
	if !s.Running() {
		t.Fatal("scheduler not running after Start")
	}

	env.prices.Set("X", d("98"))
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := env.engine.GetOrder(ctx, o.ID)
		if err != nil {
			t.Fatalf("GetOrder: %v", err)
		}
		if got.Status == domain.OrderStatusFilled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("order still %s after 5s of scheduling", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()
	s.Stop() // idempotent
	if s.Running() {
		t.Error("scheduler running after Stop")
	}
	if interval := NewScheduler(env.engine, env.store, SchedulerConfig{}, nil).cfg.Interval; interval != DefaultSchedulerInterval {
		t.Errorf("default interval = %v, want %v", interval, DefaultSchedulerInterval)
	}
}
