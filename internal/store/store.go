// Package store defines storage interfaces for persisting and retrieving
// paper-trading records: accounts, orders, trades and positions.
package store

import (
	"context"
	"errors"

	"papertrade/internal/domain"
)

// ErrNotFound is returned by single-record lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// AccountStore persists and retrieves accounts.
type AccountStore interface {
	// CreateAccount inserts a new account.
	CreateAccount(ctx context.Context, a *domain.Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	// GetActiveAccountByUser returns the user's active account.
	GetActiveAccountByUser(ctx context.Context, userID string) (*domain.Account, error)

	// ListActiveAccounts returns every active account.
	ListActiveAccounts(ctx context.Context) ([]domain.Account, error)

	// UpdateAccountBalances persists cash and balance for an account.
	UpdateAccountBalances(ctx context.Context, a *domain.Account) error
}

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// SaveOrder inserts a new order into storage.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrdersByStatus returns all orders, across accounts, in any of the
	// given statuses, oldest first.
	ListOrdersByStatus(ctx context.Context, statuses ...domain.OrderStatus) ([]domain.Order, error)

	// ListOrders returns an account's orders, newest first. An empty status
	// matches every status.
	ListOrders(ctx context.Context, accountID string, status domain.OrderStatus, limit int) ([]domain.Order, error)

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
}

// TradeStore persists and retrieves fills.
type TradeStore interface {
	// SaveTrade inserts a new trade.
	SaveTrade(ctx context.Context, trade *domain.Trade) error

	// ListTrades returns an account's trades, newest first. An empty symbol
	// matches every symbol.
	ListTrades(ctx context.Context, accountID, symbol string, limit int) ([]domain.Trade, error)

	// CountTradesForOrder returns the number of trades recorded for an order.
	CountTradesForOrder(ctx context.Context, orderID string) (int, error)
}

// PositionStore persists and retrieves position records.
type PositionStore interface {
	// SavePosition inserts or updates the position for (account, symbol).
	SavePosition(ctx context.Context, pos *domain.Position) error

	// GetPosition retrieves the position for a symbol in an account.
	GetPosition(ctx context.Context, accountID, symbol string) (*domain.Position, error)

	// ListPositions returns all open positions of an account.
	ListPositions(ctx context.Context, accountID string) ([]domain.Position, error)

	// DeletePosition removes the position for a symbol in an account.
	DeletePosition(ctx context.Context, accountID, symbol string) error
}

// Tx groups every record store. It is satisfied both by the store itself
// and by the handle passed to WithTx.
type Tx interface {
	AccountStore
	OrderStore
	TradeStore
	PositionStore
}

// Store is a Tx that can also run a function as one atomic unit.
type Store interface {
	Tx

	// WithTx runs fn inside a single write transaction. fn must only use the
	// Tx it is given. The transaction commits when fn returns nil and rolls
	// back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
