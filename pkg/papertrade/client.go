// Package papertrade is a Go client for the papertrade-server HTTP API.
package papertrade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account is an account summary as returned by the server.
type Account struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	AvailableCash  decimal.Decimal `json:"available_cash"`
	Active         bool            `json:"active"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	TotalReturnPct decimal.Decimal `json:"total_return_pct"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// OrderRequest describes an order to submit.
type OrderRequest struct {
	Symbol      string              `json:"symbol"`
	Side        string              `json:"side"`
	Type        string              `json:"type"`
	Quantity    decimal.Decimal     `json:"quantity"`
	LimitPrice  decimal.NullDecimal `json:"limit_price"`
	StopPrice   decimal.NullDecimal `json:"stop_price"`
	StrategyRef string              `json:"strategy_ref,omitempty"`
}

// Order is an order as stored by the server.
type Order struct {
	ID               string              `json:"id"`
	AccountID        string              `json:"account_id"`
	StrategyRef      string              `json:"strategy_ref,omitempty"`
	Symbol           string              `json:"symbol"`
	Side             string              `json:"side"`
	Type             string              `json:"type"`
	Quantity         decimal.Decimal     `json:"quantity"`
	LimitPrice       decimal.NullDecimal `json:"limit_price"`
	StopPrice        decimal.NullDecimal `json:"stop_price"`
	Status           string              `json:"status"`
	FilledQuantity   decimal.Decimal     `json:"filled_quantity"`
	AverageFillPrice decimal.NullDecimal `json:"average_fill_price"`
	RejectReason     string              `json:"reject_reason,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	FilledAt         *time.Time          `json:"filled_at,omitempty"`
}

// Trade is a single fill.
type Trade struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	AccountID   string          `json:"account_id"`
	StrategyRef string          `json:"strategy_ref,omitempty"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Position is an open holding with its market value.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	MarketValue   decimal.Decimal `json:"market_value"`
}

// Portfolio is an account with its positions and recent activity.
type Portfolio struct {
	Account      Account    `json:"account"`
	Positions    []Position `json:"positions"`
	RecentOrders []Order    `json:"recent_orders"`
	RecentTrades []Trade    `json:"recent_trades"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("papertrade: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to a papertrade-server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// OpenAccount returns the active account for userID, creating it with
// initialCapital (server default when invalid) if needed.
func (c *Client) OpenAccount(ctx context.Context, userID string, initialCapital decimal.NullDecimal) (*Account, error) {
	body := struct {
		UserID         string              `json:"user_id"`
		InitialCapital decimal.NullDecimal `json:"initial_capital"`
	}{userID, initialCapital}
	var a Account
	if err := c.do(ctx, http.MethodPost, "/api/v1/accounts", nil, body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount retrieves an account summary.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var a Account
	if err := c.do(ctx, http.MethodGet, accountPath(accountID), nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetPortfolio retrieves an account with positions and recent activity.
func (c *Client) GetPortfolio(ctx context.Context, accountID string) (*Portfolio, error) {
	var p Portfolio
	if err := c.do(ctx, http.MethodGet, accountPath(accountID)+"/portfolio", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SubmitOrder creates an order. MARKET orders come back already executed.
func (c *Client) SubmitOrder(ctx context.Context, accountID string, req OrderRequest) (*Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodPost, accountPath(accountID)+"/orders", nil, req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrder retrieves one order.
func (c *Client) GetOrder(ctx context.Context, accountID, orderID string) (*Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodGet, accountPath(accountID)+"/orders/"+url.PathEscape(orderID), nil, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CancelOrder cancels an open order. It returns false with the current order
// when the order was no longer cancellable.
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID string) (bool, *Order, error) {
	var res struct {
		Cancelled bool   `json:"cancelled"`
		Order     *Order `json:"order"`
	}
	err := c.do(ctx, http.MethodDelete, accountPath(accountID)+"/orders/"+url.PathEscape(orderID), nil, nil, &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return false, res.Order, nil
	}
	if err != nil {
		return false, nil, err
	}
	return res.Cancelled, res.Order, nil
}

// ListOrders lists orders newest first. status and limit are optional.
func (c *Client) ListOrders(ctx context.Context, accountID, status string, limit int) ([]Order, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var res struct {
		Orders []Order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, accountPath(accountID)+"/orders", q, nil, &res); err != nil {
		return nil, err
	}
	return res.Orders, nil
}

// ListTrades lists trades newest first. symbol and limit are optional.
func (c *Client) ListTrades(ctx context.Context, accountID, symbol string, limit int) ([]Trade, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var res struct {
		Trades []Trade `json:"trades"`
	}
	if err := c.do(ctx, http.MethodGet, accountPath(accountID)+"/trades", q, nil, &res); err != nil {
		return nil, err
	}
	return res.Trades, nil
}

// ExportTrades streams the account's trade history as a Parquet file to w.
func (c *Client) ExportTrades(ctx context.Context, accountID string, w io.Writer) error {
	resp, err := c.send(ctx, http.MethodGet, accountPath(accountID)+"/trades/export", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return newAPIError(resp.StatusCode, data)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading export: %w", err)
	}
	return nil
}

func accountPath(id string) string { return "/api/v1/accounts/" + url.PathEscape(id) }

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	resp, err := c.send(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		// A refused cancel still carries the order.
		if resp.StatusCode == http.StatusConflict && out != nil {
			_ = json.Unmarshal(data, out)
		}
		return newAPIError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func newAPIError(status int, data []byte) *APIError {
	e := &APIError{StatusCode: status}
	if json.Unmarshal(data, e) != nil || e.Message == "" {
		e.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
		e.Message = strings.TrimSpace(string(data))
	}
	return e
}

func (c *Client) send(ctx context.Context, method, path string, q url.Values, body any) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
