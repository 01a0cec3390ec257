package papertrade

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/")
}

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestOpenAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/accounts" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if body["user_id"] != "alice" {
			t.Errorf("user_id = %v, want alice", body["user_id"])
		}
		io.WriteString(w, `{"id":"acc-1","user_id":"alice","available_cash":"5000","initial_capital":"5000"}`)
	})

	a, err := c.OpenAccount(context.Background(), "alice", decimal.NewNullDecimal(decimal.NewFromInt(5000)))
	if err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if a.ID != "acc-1" || !a.AvailableCash.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("got %+v", a)
	}
}

func TestSubmitOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/acc-1/orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if !req.LimitPrice.Valid || !req.LimitPrice.Decimal.Equal(decimal.NewFromInt(95)) {
			t.Errorf("limit_price = %+v, want 95", req.LimitPrice)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"o-1","symbol":"AAPL","status":"PENDING","quantity":"10"}`)
	})

	o, err := c.SubmitOrder(context.Background(), "acc-1", OrderRequest{
		Symbol:     "AAPL",
		Side:       "BUY",
		Type:       "LIMIT",
		Quantity:   decimal.NewFromInt(10),
		LimitPrice: decimal.NewNullDecimal(decimal.NewFromInt(95)),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if o.ID != "o-1" || o.Status != "PENDING" {
		t.Errorf("got %+v", o)
	}
}

func TestAPIErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"code":"not_found","message":"account not found: nope"}`)
	})

	_, err := c.GetAccount(context.Background(), "nope")
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
	if got := err.Error(); got != "papertrade: 404 not_found: account not found: nope" {
		t.Errorf("Error() = %q", got)
	}
}

func TestCancelOrder(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantCancelled bool
		wantStatus    string
	}{
		{"cancelled", http.StatusOK, `{"cancelled":true,"order":{"id":"o-1","status":"CANCELLED"}}`, true, "CANCELLED"},
		{"already filled", http.StatusConflict, `{"cancelled":false,"order":{"id":"o-1","status":"FILLED"}}`, false, "FILLED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("method = %s, want DELETE", r.Method)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			cancelled, o, err := c.CancelOrder(context.Background(), "acc-1", "o-1")
			if err != nil {
				t.Fatalf("CancelOrder: %v", err)
			}
			if cancelled != tt.wantCancelled {
				t.Errorf("cancelled = %v, want %v", cancelled, tt.wantCancelled)
			}
			if o == nil || o.Status != tt.wantStatus {
				t.Errorf("order = %+v, want status %s", o, tt.wantStatus)
			}
		})
	}
}

func TestListQueryParameters(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		switch r.URL.Path {
		case "/api/v1/accounts/acc-1/orders":
			io.WriteString(w, `{"orders":[{"id":"o-1"},{"id":"o-2"}]}`)
		case "/api/v1/accounts/acc-1/trades":
			io.WriteString(w, `{"trades":[{"id":"t-1","price":"101.5"}]}`)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	orders, err := c.ListOrders(ctx, "acc-1", "PENDING", 10)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("got %d orders, want 2", len(orders))
	}
	if gotQuery != "limit=10&status=PENDING" {
		t.Errorf("query = %q", gotQuery)
	}

	trades, err := c.ListTrades(ctx, "acc-1", "", 0)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if gotQuery != "" {
		t.Errorf("query = %q, want empty", gotQuery)
	}
	if len(trades) != 1 || !trades[0].Price.Equal(decimal.RequireFromString("101.5")) {
		t.Errorf("trades = %+v", trades)
	}
}

func TestExportTrades(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apache.parquet")
		io.WriteString(w, "PAR1...PAR1")
	})
	var buf bytes.Buffer
	if err := c.ExportTrades(context.Background(), "acc-1", &buf); err != nil {
		t.Fatalf("ExportTrades: %v", err)
	}
	if buf.String() != "PAR1...PAR1" {
		t.Errorf("body = %q", buf.String())
	}
}
