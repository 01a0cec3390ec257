// Package domain defines the core types shared across the paper-trading
// system: accounts, orders, trades, positions and the events emitted when
// they change.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order or trade.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType determines how an order's fill price is resolved.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// NeedsLimitPrice reports whether orders of this type require a limit price.
func (t OrderType) NeedsLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// NeedsStopPrice reports whether orders of this type require a stop price.
func (t OrderType) NeedsStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusFilled, OrderStatusPartiallyFilled,
		OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Open reports whether an order in this status may still be executed or
// cancelled.
func (s OrderStatus) Open() bool {
	return s == OrderStatusPending || s == OrderStatusPartiallyFilled
}

// Terminal reports whether no further transition is permitted.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OpenStatuses lists the statuses the execution sweep picks up.
var OpenStatuses = []OrderStatus{OrderStatusPending, OrderStatusPartiallyFilled}

// ---------------------------------------------------------------------------
// Precision
// ---------------------------------------------------------------------------

const (
	// QuantityPlaces is the maximum number of decimal places accepted on an
	// order quantity.
	QuantityPlaces = 6

	// AvgPricePlaces is the rounding applied when an average entry price is
	// recomputed from a division.
	AvgPricePlaces = 10
)

// FlatEpsilon is the absolute position size below which a position is
// considered closed and deleted.
var FlatEpsilon = decimal.New(1, -QuantityPlaces)

// DefaultInitialCapital is used when an account is opened without an
// explicit amount.
var DefaultInitialCapital = decimal.NewFromInt(100000)

// MinInitialCapital is the smallest starting balance an account may have.
var MinInitialCapital = decimal.NewFromInt(1000)

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// Account is a simulated trading account owned by a user.
type Account struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	AvailableCash  decimal.Decimal `json:"available_cash"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TotalPnL is the balance gained or lost since the account was opened.
func (a *Account) TotalPnL() decimal.Decimal {
	return a.CurrentBalance.Sub(a.InitialCapital)
}

// TotalReturnPct is TotalPnL as a percentage of the initial capital.
func (a *Account) TotalReturnPct() decimal.Decimal {
	if a.InitialCapital.IsZero() {
		return decimal.Zero
	}
	return a.TotalPnL().Div(a.InitialCapital).Mul(decimal.NewFromInt(100)).Round(4)
}

// Order is a request to buy or sell a quantity of a symbol.
type Order struct {
	ID               string              `json:"id"`
	AccountID        string              `json:"account_id"`
	StrategyRef      string              `json:"strategy_ref,omitempty"`
	Symbol           string              `json:"symbol"`
	Side             OrderSide           `json:"side"`
	Type             OrderType           `json:"type"`
	Quantity         decimal.Decimal     `json:"quantity"`
	LimitPrice       decimal.NullDecimal `json:"limit_price"`
	StopPrice        decimal.NullDecimal `json:"stop_price"`
	Status           OrderStatus         `json:"status"`
	FilledQuantity   decimal.Decimal     `json:"filled_quantity"`
	AverageFillPrice decimal.NullDecimal `json:"average_fill_price"`
	RejectReason     string              `json:"reject_reason,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	FilledAt         *time.Time          `json:"filled_at,omitempty"`
}

// SignedQuantity returns +Quantity for buys and -Quantity for sells.
func (o *Order) SignedQuantity() decimal.Decimal {
	if o.Side == OrderSideSell {
		return o.Quantity.Neg()
	}
	return o.Quantity
}

// Trade is the immutable record of a single fill.
type Trade struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	AccountID   string          `json:"account_id"`
	StrategyRef string          `json:"strategy_ref,omitempty"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Notional is quantity times price.
func (t *Trade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Position is the net holding of one symbol in one account. Quantity is
// signed: positive is long, negative is short.
type Position struct {
	AccountID     string          `json:"account_id"`
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarketValue is the signed value of the position at its current price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// IsFlat reports whether the position size is below FlatEpsilon.
func (p *Position) IsFlat() bool {
	return p.Quantity.Abs().LessThan(FlatEpsilon)
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventType distinguishes the order events published to subscribers.
type EventType string

const (
	EventOrderFilled    EventType = "order.filled"
	EventOrderCancelled EventType = "order.cancelled"
	EventOrderRejected  EventType = "order.rejected"
)

// OrderEvent is emitted after an order transition has been committed.
type OrderEvent struct {
	Type      EventType `json:"type"`
	AccountID string    `json:"account_id"`
	Order     Order     `json:"order"`
	Trade     *Trade    `json:"trade,omitempty"`
	At        time.Time `json:"at"`
}
