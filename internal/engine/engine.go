// Package engine runs the paper-trading order lifecycle: order creation with
// pre-trade checks, fill-price resolution, atomic position and cash
// reconciliation, and the background sweep that advances pending orders.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/events"
	"papertrade/internal/market"
	"papertrade/internal/metrics"
	"papertrade/internal/store"
)

const (
	// RecentOrdersLimit and RecentTradesLimit size the portfolio view.
	RecentOrdersLimit = 50
	RecentTradesLimit = 100

	maxOrdersLimit = 100
	maxTradesLimit = 500
)

// OrderRequest carries the caller-supplied fields of a new order.
type OrderRequest struct {
	AccountID   string              `json:"account_id"`
	Symbol      string              `json:"symbol"`
	Side        domain.OrderSide    `json:"side"`
	Type        domain.OrderType    `json:"type"`
	Quantity    decimal.Decimal     `json:"quantity"`
	LimitPrice  decimal.NullDecimal `json:"limit_price"`
	StopPrice   decimal.NullDecimal `json:"stop_price"`
	StrategyRef string              `json:"strategy_ref,omitempty"`
}

// AccountSummary is an account together with its derived return figures.
type AccountSummary struct {
	domain.Account
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	TotalReturnPct decimal.Decimal `json:"total_return_pct"`
}

func summarize(a *domain.Account) AccountSummary {
	return AccountSummary{Account: *a, TotalPnL: a.TotalPnL(), TotalReturnPct: a.TotalReturnPct()}
}

// PositionView is a position with its market value.
type PositionView struct {
	domain.Position
	MarketValue decimal.Decimal `json:"market_value"`
}

// Portfolio is the read model returned by GetPortfolio.
type Portfolio struct {
	Account      AccountSummary `json:"account"`
	Positions    []PositionView `json:"positions"`
	RecentOrders []domain.Order `json:"recent_orders"`
	RecentTrades []domain.Trade `json:"recent_trades"`
}

// Engine executes paper orders against a price source and keeps accounts,
// orders, trades and positions consistent in the store.
type Engine struct {
	store    store.Store
	prices   market.PriceSource
	risk     *RiskManager
	notifier events.Notifier
	metrics  *metrics.Metrics
	locks    *keyedMutex
	now      func() time.Time
	newID    func() string
	log      *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithNotifier sets the subscriber informed of committed transitions.
func WithNotifier(n events.Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithRiskManager replaces the default pre-trade rules.
func WithRiskManager(rm *RiskManager) Option { return func(e *Engine) { e.risk = rm } }

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// New creates an Engine over the given store and price source.
func New(s store.Store, prices market.PriceSource, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		prices:   prices,
		risk:     NewRiskManager(0),
		notifier: events.Discard,
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "engine")
	return e
}

// ---------------------------------------------------------------------------
// Prices
// ---------------------------------------------------------------------------

// price returns a usable price for symbol. Source errors count as
// unavailability.
func (e *Engine) price(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	p, ok, err := e.prices.CurrentPrice(ctx, symbol)
	if err != nil {
		e.log.Warn("price lookup failed", "symbol", symbol, "error", err)
		ok = false
	}
	if !ok || !p.IsPositive() {
		e.metrics.PriceMiss(e.prices.Name())
		return decimal.Zero, false
	}
	return p, true
}

// marksFor fetches fresh prices for the given positions. Symbols without a
// price are left out so their stored price is kept.
func (e *Engine) marksFor(ctx context.Context, positions []domain.Position) map[string]decimal.Decimal {
	marks := make(map[string]decimal.Decimal, len(positions)+1)
	for _, p := range positions {
		if _, done := marks[p.Symbol]; done {
			continue
		}
		if price, ok := e.price(ctx, p.Symbol); ok {
			marks[p.Symbol] = price
		}
	}
	return marks
}

func (e *Engine) notify(ctx context.Context, evt *domain.OrderEvent) {
	if evt == nil {
		return
	}
	if err := e.notifier.Notify(ctx, *evt); err != nil {
		e.log.Warn("notifying subscribers", "type", evt.Type, "order", evt.Order.ID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// GetOrCreateAccount returns the user's active account, opening one with
// initialCapital (default 100000) when none exists.
func (e *Engine) GetOrCreateAccount(ctx context.Context, userID string, initialCapital decimal.NullDecimal) (*domain.Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	capital := domain.DefaultInitialCapital
	if initialCapital.Valid {
		capital = initialCapital.Decimal
	}
	if capital.LessThan(domain.MinInitialCapital) {
		return nil, fmt.Errorf("%w: initial capital must be at least %s", domain.ErrValidation, domain.MinInitialCapital)
	}

	unlock := e.locks.lock("user:" + userID)
	defer unlock()

	existing, err := e.store.GetActiveAccountByUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	now := e.now()
	a := &domain.Account{
		ID:             e.newID(),
		UserID:         userID,
		InitialCapital: capital,
		CurrentBalance: capital,
		AvailableCash:  capital,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	e.log.Info("account opened", "account", a.ID, "user", userID, "capital", capital)
	return a, nil
}

// GetAccount returns an account with its return figures.
func (e *Engine) GetAccount(ctx context.Context, accountID string) (*AccountSummary, error) {
	a, err := e.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s := summarize(a)
	return &s, nil
}

// account loads an active account, mapping a miss to ErrAccountNotFound.
func (e *Engine) account(ctx context.Context, accountID string) (*domain.Account, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, err
	}
	if !a.Active {
		return nil, fmt.Errorf("%w: %s is inactive", domain.ErrAccountNotFound, accountID)
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// CreateOrder validates req, runs the pre-trade checks and persists the order
// as PENDING. MARKET orders are executed before returning, so the result
// reflects their post-execution state.
func (e *Engine) CreateOrder(ctx context.Context, req OrderRequest) (*domain.Order, error) {
	if err := e.risk.Normalize(&req); err != nil {
		return nil, err
	}
	account, err := e.account(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	order := &domain.Order{
		ID:             e.newID(),
		AccountID:      account.ID,
		StrategyRef:    req.StrategyRef,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		LimitPrice:     req.LimitPrice,
		StopPrice:      req.StopPrice,
		Status:         domain.OrderStatusPending,
		FilledQuantity: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var current decimal.Decimal
	if order.Type == domain.OrderTypeMarket {
		var ok bool
		if current, ok = e.price(ctx, order.Symbol); !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, order.Symbol)
		}
	}

	pos, err := e.store.GetPosition(ctx, account.ID, order.Symbol)
	if store.IsNotFound(err) {
		pos = nil
	} else if err != nil {
		return nil, err
	}
	if err := e.risk.CheckOrder(order, account, pos, referencePrice(order, current)); err != nil {
		return nil, err
	}

	if err := e.store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}
	e.metrics.OrderCreated(string(order.Type), string(order.Side))
	e.log.Info("order created", "order", order.ID, "account", order.AccountID,
		"symbol", order.Symbol, "side", order.Side, "type", order.Type, "qty", order.Quantity)

	if order.Type != domain.OrderTypeMarket {
		return order, nil
	}
	if _, err := e.ExecuteOrder(ctx, order.ID); err != nil {
		return nil, err
	}
	return e.store.GetOrder(ctx, order.ID)
}

// GetOrder returns an order by id.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return o, err
}

// ExecuteOrder attempts to fill an open order at the current market price.
// It returns (nil, nil) when the order is missing, no longer open, has no
// price, or its trigger condition is not met. A fill is all-or-nothing and
// is applied atomically with the order transition.
func (e *Engine) ExecuteOrder(ctx context.Context, orderID string) (*domain.Trade, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !order.Status.Open() {
		return nil, nil
	}

	current, ok := e.price(ctx, order.Symbol)
	if !ok {
		e.log.Debug("no price, order stays pending", "order", order.ID, "symbol", order.Symbol)
		return nil, nil
	}
	fill, ok := ResolveFill(order, current)
	if !ok {
		return nil, nil
	}

	positions, err := e.store.ListPositions(ctx, order.AccountID)
	if err != nil {
		return nil, err
	}
	marks := e.marksFor(ctx, positions)
	marks[order.Symbol] = current

	var (
		trade *domain.Trade
		evt   *domain.OrderEvent
	)
	apply := func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.Open() {
			return nil
		}
		if n, err := tx.CountTradesForOrder(ctx, o.ID); err != nil {
			return err
		} else if n > 0 {
			return fmt.Errorf("open order already has %d trade(s)", n)
		}
		account, err := tx.GetAccount(ctx, o.AccountID)
		if err != nil {
			return err
		}

		now := e.now()
		if o.Side == domain.OrderSideBuy {
			if cost := o.Quantity.Mul(fill); cost.GreaterThan(account.AvailableCash) {
				o.Status = domain.OrderStatusRejected
				o.RejectReason = fmt.Sprintf("insufficient funds at fill: cost %s exceeds available cash %s",
					cost, account.AvailableCash)
				o.UpdatedAt = now
				if err := tx.UpdateOrder(ctx, o); err != nil {
					return err
				}
				evt = &domain.OrderEvent{Type: domain.EventOrderRejected, AccountID: o.AccountID, Order: *o, At: now}
				return nil
			}
		}

		o.Status = domain.OrderStatusFilled
		o.FilledQuantity = o.Quantity
		o.AverageFillPrice = decimal.NewNullDecimal(fill)
		o.FilledAt = &now
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		t := &domain.Trade{
			ID:          e.newID(),
			OrderID:     o.ID,
			AccountID:   o.AccountID,
			StrategyRef: o.StrategyRef,
			Symbol:      o.Symbol,
			Side:        o.Side,
			Quantity:    o.Quantity,
			Price:       fill,
			ExecutedAt:  now,
		}
		if err := tx.SaveTrade(ctx, t); err != nil {
			return err
		}
		if err := ApplyFill(ctx, tx, o, fill, marks, now); err != nil {
			return err
		}
		trade = t
		evt = &domain.OrderEvent{Type: domain.EventOrderFilled, AccountID: o.AccountID, Order: *o, Trade: t, At: now}
		return nil
	}
	// Subscribers are notified after the account lock is released.
	err = e.locks.with(order.AccountID, func() error { return e.store.WithTx(ctx, apply) })
	if err != nil {
		return nil, fmt.Errorf("executing order %s: %w", orderID, err)
	}

	switch {
	case trade != nil:
		notional, _ := trade.Notional().Float64()
		e.metrics.Fill(notional)
		e.log.Info("order filled", "order", trade.OrderID, "account", trade.AccountID,
			"symbol", trade.Symbol, "side", trade.Side, "qty", trade.Quantity, "price", trade.Price)
	case evt != nil:
		e.metrics.OrderTransition(string(domain.OrderStatusRejected))
		e.log.Warn("order rejected", "order", evt.Order.ID, "reason", evt.Order.RejectReason)
	}
	e.notify(ctx, evt)
	return trade, nil
}

// CancelOrder moves an open order to CANCELLED. It reports false when the
// order is already terminal.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	order, err := e.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}

	var evt *domain.OrderEvent
	cancel := func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.Open() {
			return nil
		}
		now := e.now()
		o.Status = domain.OrderStatusCancelled
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		evt = &domain.OrderEvent{Type: domain.EventOrderCancelled, AccountID: o.AccountID, Order: *o, At: now}
		return nil
	}
	err = e.locks.with(order.AccountID, func() error { return e.store.WithTx(ctx, cancel) })
	if err != nil {
		return false, fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	if evt == nil {
		return false, nil
	}

	e.metrics.OrderTransition(string(domain.OrderStatusCancelled))
	e.log.Info("order cancelled", "order", orderID, "account", order.AccountID)
	e.notify(ctx, evt)
	return true, nil
}

// ListOrders returns an account's orders, newest first. An empty status
// lists every order; limit is clamped to [1, 100] with 50 as default.
func (e *Engine) ListOrders(ctx context.Context, accountID string, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	if _, err := e.account(ctx, accountID); err != nil {
		return nil, err
	}
	return e.store.ListOrders(ctx, accountID, status, clamp(limit, RecentOrdersLimit, maxOrdersLimit))
}

// ListTrades returns an account's trades, newest first, optionally for one
// symbol. limit is clamped to [1, 500] with 100 as default.
func (e *Engine) ListTrades(ctx context.Context, accountID, symbol string, limit int) ([]domain.Trade, error) {
	if _, err := e.account(ctx, accountID); err != nil {
		return nil, err
	}
	return e.store.ListTrades(ctx, accountID, normalizeSymbol(symbol), clamp(limit, RecentTradesLimit, maxTradesLimit))
}

// ExportTrades writes every trade of the account to w as a Parquet file.
func (e *Engine) ExportTrades(ctx context.Context, accountID string, w io.Writer) error {
	if _, err := e.account(ctx, accountID); err != nil {
		return err
	}
	trades, err := e.store.ListTrades(ctx, accountID, "", 0)
	if err != nil {
		return err
	}
	return store.EncodeTrades(w, trades)
}

func clamp(limit, def, hi int) int {
	switch {
	case limit <= 0:
		return def
	case limit > hi:
		return hi
	}
	return limit
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// RefreshAccount re-marks the account's positions at fresh prices and
// recomputes its balance in one transaction.
func (e *Engine) RefreshAccount(ctx context.Context, accountID string) error {
	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return err
	}
	marks := e.marksFor(ctx, positions)

	unlock := e.locks.lock(accountID)
	defer unlock()

	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		return RecomputeBalance(ctx, tx, a, marks, e.now())
	})
	if err != nil {
		return fmt.Errorf("refreshing account %s: %w", accountID, err)
	}
	return nil
}

// GetPortfolio recomputes the account balance and returns the account
// summary, open positions, and the most recent orders and trades.
func (e *Engine) GetPortfolio(ctx context.Context, accountID string) (*Portfolio, error) {
	if _, err := e.account(ctx, accountID); err != nil {
		return nil, err
	}
	if err := e.RefreshAccount(ctx, accountID); err != nil {
		return nil, err
	}

	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	orders, err := e.store.ListOrders(ctx, accountID, "", RecentOrdersLimit)
	if err != nil {
		return nil, err
	}
	trades, err := e.store.ListTrades(ctx, accountID, "", RecentTradesLimit)
	if err != nil {
		return nil, err
	}

	p := &Portfolio{
		Account:      summarize(a),
		Positions:    make([]PositionView, 0, len(positions)),
		RecentOrders: orders,
		RecentTrades: trades,
	}
	for _, pos := range positions {
		p.Positions = append(p.Positions, PositionView{Position: pos, MarketValue: pos.MarketValue()})
	}
	if p.RecentOrders == nil {
		p.RecentOrders = []domain.Order{}
	}
	if p.RecentTrades == nil {
		p.RecentTrades = []domain.Trade{}
	}
	return p, nil
}
