package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"papertrade/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ Store = (*SQLiteStore)(nil)
var _ Tx = (*queries)(nil)

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Tx over either the database or an open transaction.
type queries struct {
	db dbtx
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	queries
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	initial_capital TEXT NOT NULL,
	current_balance TEXT NOT NULL,
	available_cash  TEXT NOT NULL,
	active          INTEGER NOT NULL DEFAULT 1,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id, active);

CREATE TABLE IF NOT EXISTS orders (
	id                 TEXT PRIMARY KEY,
	account_id         TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	strategy_ref       TEXT NOT NULL DEFAULT '',
	symbol             TEXT NOT NULL,
	side               TEXT NOT NULL,
	type               TEXT NOT NULL,
	quantity           TEXT NOT NULL,
	limit_price        TEXT,
	stop_price         TEXT,
	status             TEXT NOT NULL,
	filled_quantity    TEXT NOT NULL,
	average_fill_price TEXT,
	reject_reason      TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL,
	filled_at          INTEGER
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id, created_at);

CREATE TABLE IF NOT EXISTS trades (
	id           TEXT PRIMARY KEY,
	order_id     TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	strategy_ref TEXT NOT NULL DEFAULT '',
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL,
	quantity     TEXT NOT NULL,
	price        TEXT NOT NULL,
	executed_at  INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);
CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, executed_at);

CREATE TABLE IF NOT EXISTS positions (
	account_id      TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	symbol          TEXT NOT NULL,
	quantity        TEXT NOT NULL,
	avg_entry_price TEXT NOT NULL,
	current_price   TEXT NOT NULL,
	realized_pnl    TEXT NOT NULL,
	unrealized_pnl  TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	PRIMARY KEY (account_id, symbol)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore. Write transactions take the
// database lock up front so concurrent read-modify-write cycles serialize.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{queries: queries{db: db}, db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside one write transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&queries{db: tx}); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, fmt.Errorf("rolling back: %w", rerr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Encoding helpers
// ---------------------------------------------------------------------------

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// ---------------------------------------------------------------------------
// AccountStore implementation
// ---------------------------------------------------------------------------

const accountColumns = `id, user_id, initial_capital, current_balance, available_cash, active, created_at, updated_at`

func scanAccount(row scanner) (*domain.Account, error) {
	var a domain.Account
	var created, updated int64
	if err := row.Scan(&a.ID, &a.UserID, &a.InitialCapital, &a.CurrentBalance,
		&a.AvailableCash, &a.Active, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return &a, nil
}

// CreateAccount inserts a new account.
func (q *queries) CreateAccount(ctx context.Context, a *domain.Account) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.InitialCapital, a.CurrentBalance, a.AvailableCash,
		a.Active, toMillis(a.CreatedAt), toMillis(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (q *queries) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return a, nil
}

// GetActiveAccountByUser returns the oldest active account of a user.
func (q *queries) GetActiveAccountByUser(ctx context.Context, userID string) (*domain.Account, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? AND active = 1
		 ORDER BY created_at, rowid LIMIT 1`, userID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("getting account for user %s: %w", userID, err)
	}
	return a, nil
}

// ListActiveAccounts returns every active account.
func (q *queries) ListActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE active = 1 ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAccountBalances persists cash and balance for an account.
func (q *queries) UpdateAccountBalances(ctx context.Context, a *domain.Account) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET current_balance = ?, available_cash = ?, updated_at = ? WHERE id = ?`,
		a.CurrentBalance, a.AvailableCash, toMillis(a.UpdatedAt), a.ID)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", a.ID, err)
	}
	return expectOne(res, "account", a.ID)
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const orderColumns = `id, account_id, strategy_ref, symbol, side, type, quantity, limit_price,
	stop_price, status, filled_quantity, average_fill_price, reject_reason, created_at,
	updated_at, filled_at`

func scanOrder(row scanner) (*domain.Order, error) {
	var o domain.Order
	var created, updated int64
	var filled sql.NullInt64
	if err := row.Scan(&o.ID, &o.AccountID, &o.StrategyRef, &o.Symbol, &o.Side, &o.Type,
		&o.Quantity, &o.LimitPrice, &o.StopPrice, &o.Status, &o.FilledQuantity,
		&o.AverageFillPrice, &o.RejectReason, &created, &updated, &filled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.CreatedAt = fromMillis(created)
	o.UpdatedAt = fromMillis(updated)
	if filled.Valid {
		t := fromMillis(filled.Int64)
		o.FilledAt = &t
	}
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// SaveOrder inserts a new order into the database.
func (q *queries) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AccountID, o.StrategyRef, o.Symbol, o.Side, o.Type, o.Quantity,
		o.LimitPrice, o.StopPrice, o.Status, o.FilledQuantity, o.AverageFillPrice,
		o.RejectReason, toMillis(o.CreatedAt), toMillis(o.UpdatedAt), nullMillis(o.FilledAt))
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder retrieves a single order by its ID.
func (q *queries) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("getting order %s: %w", id, err)
	}
	return o, nil
}

// ListOrdersByStatus returns all orders in any of the given statuses,
// oldest first.
func (q *queries) ListOrdersByStatus(ctx context.Context, statuses ...domain.OrderStatus) ([]domain.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status IN (`+placeholders+`)
		 ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders by status: %w", err)
	}
	return collectOrders(rows)
}

// ListOrders returns an account's orders, newest first.
func (q *queries) ListOrders(ctx context.Context, accountID string, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE account_id = ? AND (? = '' OR status = ?)
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		accountID, status, status, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("listing orders for %s: %w", accountID, err)
	}
	return collectOrders(rows)
}

// UpdateOrder persists the mutable fields of an existing order.
func (q *queries) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, filled_quantity = ?, average_fill_price = ?,
		 reject_reason = ?, updated_at = ?, filled_at = ? WHERE id = ?`,
		o.Status, o.FilledQuantity, o.AverageFillPrice, o.RejectReason,
		toMillis(o.UpdatedAt), nullMillis(o.FilledAt), o.ID)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, err)
	}
	return expectOne(res, "order", o.ID)
}

// ---------------------------------------------------------------------------
// TradeStore implementation
// ---------------------------------------------------------------------------

const tradeColumns = `id, order_id, account_id, strategy_ref, symbol, side, quantity, price, executed_at`

// SaveTrade inserts a new trade.
func (q *queries) SaveTrade(ctx context.Context, t *domain.Trade) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO trades (`+tradeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrderID, t.AccountID, t.StrategyRef, t.Symbol, t.Side, t.Quantity,
		t.Price, toMillis(t.ExecutedAt))
	if err != nil {
		return fmt.Errorf("inserting trade for order %s: %w", t.OrderID, err)
	}
	return nil
}

// ListTrades returns an account's trades, newest first.
func (q *queries) ListTrades(ctx context.Context, accountID, symbol string, limit int) ([]domain.Trade, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE account_id = ? AND (? = '' OR symbol = ?)
		 ORDER BY executed_at DESC, rowid DESC LIMIT ?`,
		accountID, symbol, symbol, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("listing trades for %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var executed int64
		if err := rows.Scan(&t.ID, &t.OrderID, &t.AccountID, &t.StrategyRef, &t.Symbol,
			&t.Side, &t.Quantity, &t.Price, &executed); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.ExecutedAt = fromMillis(executed)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTradesForOrder returns the number of trades recorded for an order.
func (q *queries) CountTradesForOrder(ctx context.Context, orderID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE order_id = ?`, orderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting trades for order %s: %w", orderID, err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

const positionColumns = `account_id, symbol, quantity, avg_entry_price, current_price,
	realized_pnl, unrealized_pnl, created_at, updated_at`

func scanPosition(row scanner) (*domain.Position, error) {
	var p domain.Position
	var created, updated int64
	if err := row.Scan(&p.AccountID, &p.Symbol, &p.Quantity, &p.AvgEntryPrice,
		&p.CurrentPrice, &p.RealizedPnL, &p.UnrealizedPnL, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

// SavePosition inserts or updates the position for (account, symbol).
func (q *queries) SavePosition(ctx context.Context, p *domain.Position) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO positions (`+positionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (account_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_entry_price = excluded.avg_entry_price,
			current_price = excluded.current_price,
			realized_pnl = excluded.realized_pnl,
			unrealized_pnl = excluded.unrealized_pnl,
			updated_at = excluded.updated_at`,
		p.AccountID, p.Symbol, p.Quantity, p.AvgEntryPrice, p.CurrentPrice,
		p.RealizedPnL, p.UnrealizedPnL, toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving position %s/%s: %w", p.AccountID, p.Symbol, err)
	}
	return nil
}

// GetPosition retrieves the position for a symbol in an account.
func (q *queries) GetPosition(ctx context.Context, accountID, symbol string) (*domain.Position, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = ? AND symbol = ?`,
		accountID, symbol)
	p, err := scanPosition(row)
	if err != nil {
		return nil, fmt.Errorf("getting position %s/%s: %w", accountID, symbol, err)
	}
	return p, nil
}

// ListPositions returns all open positions of an account ordered by symbol.
func (q *queries) ListPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE account_id = ? ORDER BY symbol`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing positions for %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DeletePosition removes the position for a symbol in an account.
func (q *queries) DeletePosition(ctx context.Context, accountID, symbol string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM positions WHERE account_id = ? AND symbol = ?`, accountID, symbol)
	if err != nil {
		return fmt.Errorf("deleting position %s/%s: %w", accountID, symbol, err)
	}
	return nil
}
