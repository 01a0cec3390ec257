package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// RiskManager enforces the pre-trade rules applied when an order is created.
// Checks run against a snapshot and reserve nothing.
type RiskManager struct {
	// maxPositionPct caps a single order's notional as a fraction of the
	// account balance (e.g. 0.25). Zero disables the cap.
	maxPositionPct decimal.Decimal
}

// NewRiskManager creates a RiskManager. maxPositionPct <= 0 disables the
// per-order notional cap.
func NewRiskManager(maxPositionPct float64) *RiskManager {
	rm := &RiskManager{}
	if maxPositionPct > 0 {
		rm.maxPositionPct = decimal.NewFromFloat(maxPositionPct)
	}
	return rm
}

// Normalize trims and upper-cases the symbol and validates the order shape.
func (rm *RiskManager) Normalize(req *OrderRequest) error {
	req.Symbol = normalizeSymbol(req.Symbol)
	req.Side = domain.OrderSide(strings.ToUpper(string(req.Side)))
	req.Type = domain.OrderType(strings.ToUpper(string(req.Type)))

	switch {
	case req.AccountID == "":
		return fmt.Errorf("%w: account id is required", domain.ErrValidation)
	case req.Symbol == "":
		return fmt.Errorf("%w: symbol is required", domain.ErrValidation)
	case !req.Side.Valid():
		return fmt.Errorf("%w: unknown side %q", domain.ErrValidation, req.Side)
	case !req.Type.Valid():
		return fmt.Errorf("%w: unknown order type %q", domain.ErrValidation, req.Type)
	case !req.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	case !req.Quantity.Equal(req.Quantity.Truncate(domain.QuantityPlaces)):
		return fmt.Errorf("%w: quantity has more than %d decimal places", domain.ErrValidation, domain.QuantityPlaces)
	}

	if req.Type.NeedsLimitPrice() {
		if !req.LimitPrice.Valid || !req.LimitPrice.Decimal.IsPositive() {
			return fmt.Errorf("%w: %s order requires a positive limit price", domain.ErrValidation, req.Type)
		}
	} else {
		req.LimitPrice = decimal.NullDecimal{}
	}
	if req.Type.NeedsStopPrice() {
		if !req.StopPrice.Valid || !req.StopPrice.Decimal.IsPositive() {
			return fmt.Errorf("%w: %s order requires a positive stop price", domain.ErrValidation, req.Type)
		}
	} else {
		req.StopPrice = decimal.NullDecimal{}
	}
	return nil
}

// CheckOrder applies the funds and holdings rules. pos is nil when the
// account holds no position in the symbol; ref is the BUY reference price.
func (rm *RiskManager) CheckOrder(order *domain.Order, account *domain.Account, pos *domain.Position, ref decimal.Decimal) error {
	if order.Side == domain.OrderSideBuy {
		cost := order.Quantity.Mul(ref)
		if cost.GreaterThan(account.AvailableCash) {
			return fmt.Errorf("%w: cost %s exceeds available cash %s",
				domain.ErrInsufficientFunds, cost, account.AvailableCash)
		}
		if !rm.maxPositionPct.IsZero() {
			limit := account.CurrentBalance.Mul(rm.maxPositionPct)
			if cost.GreaterThan(limit) {
				return fmt.Errorf("%w: notional %s exceeds %s%% of balance",
					domain.ErrValidation, cost, rm.maxPositionPct.Shift(2))
			}
		}
		return nil
	}

	held := decimal.Zero
	if pos != nil {
		held = pos.Quantity
	}
	if pos == nil || held.LessThan(order.Quantity) {
		return fmt.Errorf("%w: holding %s %s, selling %s",
			domain.ErrInsufficientPosition, held, order.Symbol, order.Quantity)
	}
	return nil
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
