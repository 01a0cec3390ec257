package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/market"
	"papertrade/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

var testNow = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

type testEnv struct {
	engine *Engine
	store  *store.SQLiteStore
	prices *market.StaticSource
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "paper.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	prices := market.NewStaticSource(nil)
	opts = append([]Option{WithClock(func() time.Time { return testNow }), WithLogger(discardLogger())}, opts...)
	return &testEnv{engine: New(s, prices, opts...), store: s, prices: prices}
}

func (env *testEnv) openAccount(t *testing.T, user string) *domain.Account {
	t.Helper()
	a, err := env.engine.GetOrCreateAccount(context.Background(), user, decimal.NullDecimal{})
	if err != nil {
		t.Fatalf("GetOrCreateAccount(%s): %v", user, err)
	}
	return a
}

func (env *testEnv) mustCreate(t *testing.T, req OrderRequest) *domain.Order {
	t.Helper()
	o, err := env.engine.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrder(%+v): %v", req, err)
	}
	return o
}

func (env *testEnv) account(t *testing.T, id string) *domain.Account {
	t.Helper()
	a, err := env.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount(%s): %v", id, err)
	}
	return a
}

func (env *testEnv) position(t *testing.T, accountID, symbol string) *domain.Position {
	t.Helper()
	p, err := env.store.GetPosition(context.Background(), accountID, symbol)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("GetPosition(%s): %v", symbol, err)
	}
	return p
}

// checkConservation verifies
// current_balance = available_cash + sum(qty*current_price) + sum(realized_pnl).
func (env *testEnv) checkConservation(t *testing.T, accountID string) {
	t.Helper()
	a := env.account(t, accountID)
	positions, err := env.store.ListPositions(context.Background(), accountID)
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	want := a.AvailableCash
	for _, p := range positions {
		want = want.Add(p.Quantity.Mul(p.CurrentPrice)).Add(p.RealizedPnL)
	}
	if !a.CurrentBalance.Equal(want) {
		t.Errorf("current_balance = %s, want %s", a.CurrentBalance, want)
	}
}
