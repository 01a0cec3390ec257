package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/store"
)

// ApplyFill folds a filled order into the account's position and cash and
// then recomputes the account balance. It must run inside the transaction
// that marked the order FILLED. marks holds prices fetched before the
// transaction opened, keyed by symbol.
func ApplyFill(ctx context.Context, tx store.Tx, order *domain.Order, fill decimal.Decimal, marks map[string]decimal.Decimal, now time.Time) error {
	delta := order.SignedQuantity()

	pos, err := tx.GetPosition(ctx, order.AccountID, order.Symbol)
	switch {
	case store.IsNotFound(err):
		pos = &domain.Position{
			AccountID:     order.AccountID,
			Symbol:        order.Symbol,
			Quantity:      delta,
			AvgEntryPrice: fill,
			CurrentPrice:  fill,
			RealizedPnL:   decimal.Zero,
			UnrealizedPnL: decimal.Zero,
			CreatedAt:     now,
		}
	case err != nil:
		return fmt.Errorf("loading position %s: %w", order.Symbol, err)
	default:
		applyDelta(pos, delta, fill)
	}
	pos.UpdatedAt = now

	if pos.IsFlat() {
		if err := tx.DeletePosition(ctx, order.AccountID, order.Symbol); err != nil && !store.IsNotFound(err) {
			return fmt.Errorf("closing position %s: %w", order.Symbol, err)
		}
	} else if err := tx.SavePosition(ctx, pos); err != nil {
		return fmt.Errorf("saving position %s: %w", order.Symbol, err)
	}

	account, err := tx.GetAccount(ctx, order.AccountID)
	if err != nil {
		return fmt.Errorf("loading account %s: %w", order.AccountID, err)
	}
	notional := order.Quantity.Mul(fill)
	if order.Side == domain.OrderSideBuy {
		account.AvailableCash = account.AvailableCash.Sub(notional)
	} else {
		account.AvailableCash = account.AvailableCash.Add(notional)
	}

	return RecomputeBalance(ctx, tx, account, marks, now)
}

// applyDelta moves an existing position by a signed quantity filled at fill.
// Adds on the same side re-average the entry price; opposite-side fills
// realize P&L on the closed amount, and a flip opens the remainder at fill.
func applyDelta(pos *domain.Position, delta, fill decimal.Decimal) {
	old := pos.Quantity
	next := old.Add(delta)

	if old.IsZero() {
		pos.Quantity = delta
		pos.AvgEntryPrice = fill
		return
	}

	if old.Sign() == delta.Sign() {
		cost := old.Mul(pos.AvgEntryPrice).Add(delta.Mul(fill))
		pos.AvgEntryPrice = cost.DivRound(next, domain.AvgPricePlaces)
		pos.Quantity = next
		return
	}

	closed := decimal.Min(delta.Abs(), old.Abs())
	var realized decimal.Decimal
	if old.IsPositive() {
		realized = fill.Sub(pos.AvgEntryPrice).Mul(closed)
	} else {
		realized = pos.AvgEntryPrice.Sub(fill).Mul(closed)
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)

	if !next.IsZero() && next.Sign() != old.Sign() {
		pos.AvgEntryPrice = fill
	}
	pos.Quantity = next
}

// unrealizedPnL is the mark-to-market gain of a position at its current price.
func unrealizedPnL(pos *domain.Position) decimal.Decimal {
	if pos.Quantity.IsNegative() {
		return pos.AvgEntryPrice.Sub(pos.CurrentPrice).Mul(pos.Quantity.Abs())
	}
	return pos.CurrentPrice.Sub(pos.AvgEntryPrice).Mul(pos.Quantity)
}

// RecomputeBalance re-marks the account's positions and sets
//
//	current_balance = available_cash + sum(qty * current_price) + sum(realized_pnl)
//
// Positions without an entry in marks keep their stored price. The account is
// persisted with its cash as given.
func RecomputeBalance(ctx context.Context, tx store.Tx, account *domain.Account, marks map[string]decimal.Decimal, now time.Time) error {
	positions, err := tx.ListPositions(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("listing positions for %s: %w", account.ID, err)
	}

	balance := account.AvailableCash
	for i := range positions {
		p := &positions[i]
		if m, ok := marks[p.Symbol]; ok && m.IsPositive() {
			p.CurrentPrice = m
		}
		p.UnrealizedPnL = unrealizedPnL(p)
		p.UpdatedAt = now
		if err := tx.SavePosition(ctx, p); err != nil {
			return fmt.Errorf("marking position %s: %w", p.Symbol, err)
		}
		balance = balance.Add(p.MarketValue()).Add(p.RealizedPnL)
	}

	account.CurrentBalance = balance
	account.UpdatedAt = now
	if err := tx.UpdateAccountBalances(ctx, account); err != nil {
		return fmt.Errorf("updating balance for %s: %w", account.ID, err)
	}
	return nil
}
