package engine

import (
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// ResolveFill decides whether order fills at the observed market price and,
// if so, at what price. Every fill is for the full order quantity.
//
//	MARKET      any price                     -> current
//	LIMIT       BUY current <= limit          -> limit
//	            SELL current >= limit         -> limit
//	STOP        BUY current >= stop           -> current
//	            SELL current <= stop          -> current
//	STOP_LIMIT  BUY stop <= current <= limit  -> limit
//	            SELL limit <= current <= stop -> limit
func ResolveFill(order *domain.Order, current decimal.Decimal) (decimal.Decimal, bool) {
	limit := order.LimitPrice.Decimal
	stop := order.StopPrice.Decimal
	buy := order.Side == domain.OrderSideBuy

	switch order.Type {
	case domain.OrderTypeMarket:
		return current, true

	case domain.OrderTypeLimit:
		if !order.LimitPrice.Valid {
			return decimal.Zero, false
		}
		if buy && current.LessThanOrEqual(limit) || !buy && current.GreaterThanOrEqual(limit) {
			return limit, true
		}

	case domain.OrderTypeStop:
		if !order.StopPrice.Valid {
			return decimal.Zero, false
		}
		if buy && current.GreaterThanOrEqual(stop) || !buy && current.LessThanOrEqual(stop) {
			return current, true
		}

	case domain.OrderTypeStopLimit:
		if !order.LimitPrice.Valid || !order.StopPrice.Valid {
			return decimal.Zero, false
		}
		if buy && stop.LessThanOrEqual(current) && current.LessThanOrEqual(limit) ||
			!buy && limit.LessThanOrEqual(current) && current.LessThanOrEqual(stop) {
			return limit, true
		}
	}
	return decimal.Zero, false
}

// referencePrice is the per-unit price used for the pre-trade cash check of
// a BUY: the market price for MARKET orders, the limit for limit-bounded
// orders, and the stop for STOP orders.
func referencePrice(order *domain.Order, market decimal.Decimal) decimal.Decimal {
	switch order.Type {
	case domain.OrderTypeLimit, domain.OrderTypeStopLimit:
		return order.LimitPrice.Decimal
	case domain.OrderTypeStop:
		return order.StopPrice.Decimal
	default:
		return market
	}
}
