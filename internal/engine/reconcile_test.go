package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/store"
)

func TestApplyDelta(t *testing.T) {
	tests := []struct {
		name         string
		qty, avg     string
		delta, fill  string
		wantQty      string
		wantAvg      string
		wantRealized string
	}{
		{"add long", "10", "100", "10", "110", "20", "105", "0"},
		{"add short", "-4", "50", "-6", "40", "-10", "44", "0"},
		{"reduce long", "10", "100", "-5", "110", "5", "100", "50"},
		{"reduce long at loss", "10", "100", "-4", "90", "6", "100", "-40"},
		{"cover short", "-10", "50", "4", "40", "-6", "50", "40"},
		{"flip long to short", "10", "100", "-15", "90", "-5", "90", "-100"},
		{"flip short to long", "-10", "50", "12", "55", "2", "55", "-50"},
		{"close exactly", "3", "20", "-3", "25", "0", "20", "15"},
		{"repeating average", "1", "1", "2", "2", "3", "1.6666666667", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &domain.Position{Quantity: d(tt.qty), AvgEntryPrice: d(tt.avg), RealizedPnL: decimal.Zero}
			applyDelta(p, d(tt.delta), d(tt.fill))
			if !p.Quantity.Equal(d(tt.wantQty)) {
				t.Errorf("quantity = %s, want %s", p.Quantity, tt.wantQty)
			}
			if !p.AvgEntryPrice.Equal(d(tt.wantAvg)) {
				t.Errorf("avg entry = %s, want %s", p.AvgEntryPrice, tt.wantAvg)
			}
			if !p.RealizedPnL.Equal(d(tt.wantRealized)) {
				t.Errorf("realized = %s, want %s", p.RealizedPnL, tt.wantRealized)
			}
		})
	}
}

func TestUnrealizedPnL(t *testing.T) {
	long := &domain.Position{Quantity: d("5"), AvgEntryPrice: d("100"), CurrentPrice: d("110")}
	if got := unrealizedPnL(long); !got.Equal(d("50")) {
		t.Errorf("long unrealized = %s, want 50", got)
	}
	short := &domain.Position{Quantity: d("-5"), AvgEntryPrice: d("100"), CurrentPrice: d("110")}
	if got := unrealizedPnL(short); !got.Equal(d("-50")) {
		t.Errorf("short unrealized = %s, want -50", got)
	}
}

// A flip through zero goes through the same transaction path as any fill.
func TestApplyFillFlipConservesBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.openAccount(t, "user-1")

	fill := func(side domain.OrderSide, qty, price string) {
		t.Helper()
		o := &domain.Order{AccountID: a.ID, Symbol: "X", Side: side, Quantity: d(qty)}
		marks := map[string]decimal.Decimal{"X": d(price)}
		err := env.store.WithTx(ctx, func(tx store.Tx) error {
			return ApplyFill(ctx, tx, o, d(price), marks, testNow)
		})
		if err != nil {
			t.Fatalf("ApplyFill(%s %s @ %s): %v", side, qty, price, err)
		}
		env.checkConservation(t, a.ID)
	}

	fill(domain.OrderSideBuy, "10", "100")
	fill(domain.OrderSideSell, "15", "90")

	pos := env.position(t, a.ID, "X")
	if pos == nil || !pos.Quantity.Equal(d("-5")) || !pos.AvgEntryPrice.Equal(d("90")) {
		t.Fatalf("position after flip = %+v, want -5 @ 90", pos)
	}
	if !pos.RealizedPnL.Equal(d("-100")) {
		t.Errorf("realized = %s, want -100", pos.RealizedPnL)
	}
	// 100000 - 1000 + 1350
	if cash := env.account(t, a.ID).AvailableCash; !cash.Equal(d("100350")) {
		t.Errorf("cash = %s, want 100350", cash)
	}

	fill(domain.OrderSideBuy, "5", "80")
	if p := env.position(t, a.ID, "X"); p != nil {
		t.Errorf("covered short still stored: %+v", p)
	}
}
