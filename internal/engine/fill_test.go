package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

func TestResolveFill(t *testing.T) {
	none := decimal.NullDecimal{}
	tests := []struct {
		name      string
		side      domain.OrderSide
		typ       domain.OrderType
		limit     decimal.NullDecimal
		stop      decimal.NullDecimal
		current   string
		wantOK    bool
		wantPrice string
	}{
		{"market buy", domain.OrderSideBuy, domain.OrderTypeMarket, none, none, "101.5", true, "101.5"},
		{"market sell", domain.OrderSideSell, domain.OrderTypeMarket, none, none, "99", true, "99"},

		{"limit buy below", domain.OrderSideBuy, domain.OrderTypeLimit, nd("95"), none, "94", true, "95"},
		{"limit buy at", domain.OrderSideBuy, domain.OrderTypeLimit, nd("95"), none, "95", true, "95"},
		{"limit buy above", domain.OrderSideBuy, domain.OrderTypeLimit, nd("95"), none, "100", false, ""},
		{"limit sell above", domain.OrderSideSell, domain.OrderTypeLimit, nd("95"), none, "96", true, "95"},
		{"limit sell below", domain.OrderSideSell, domain.OrderTypeLimit, nd("95"), none, "94.99", false, ""},

		{"stop buy triggered", domain.OrderSideBuy, domain.OrderTypeStop, none, nd("105"), "107", true, "107"},
		{"stop buy at", domain.OrderSideBuy, domain.OrderTypeStop, none, nd("105"), "105", true, "105"},
		{"stop buy waiting", domain.OrderSideBuy, domain.OrderTypeStop, none, nd("105"), "104", false, ""},
		{"stop sell triggered", domain.OrderSideSell, domain.OrderTypeStop, none, nd("90"), "88", true, "88"},
		{"stop sell waiting", domain.OrderSideSell, domain.OrderTypeStop, none, nd("90"), "91", false, ""},

		{"stop limit buy in band", domain.OrderSideBuy, domain.OrderTypeStopLimit, nd("110"), nd("105"), "107", true, "110"},
		{"stop limit buy under stop", domain.OrderSideBuy, domain.OrderTypeStopLimit, nd("110"), nd("105"), "104", false, ""},
		{"stop limit buy over limit", domain.OrderSideBuy, domain.OrderTypeStopLimit, nd("110"), nd("105"), "111", false, ""},
		{"stop limit sell in band", domain.OrderSideSell, domain.OrderTypeStopLimit, nd("85"), nd("90"), "87", true, "85"},
		{"stop limit sell above stop", domain.OrderSideSell, domain.OrderTypeStopLimit, nd("85"), nd("90"), "91", false, ""},
		{"stop limit sell under limit", domain.OrderSideSell, domain.OrderTypeStopLimit, nd("85"), nd("90"), "84", false, ""},

		{"limit missing price", domain.OrderSideBuy, domain.OrderTypeLimit, none, none, "1", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &domain.Order{Side: tt.side, Type: tt.typ, LimitPrice: tt.limit, StopPrice: tt.stop}
			price, ok := ResolveFill(o, d(tt.current))
			if ok != tt.wantOK {
				t.Fatalf("ResolveFill ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !price.Equal(d(tt.wantPrice)) {
				t.Errorf("ResolveFill price = %s, want %s", price, tt.wantPrice)
			}
		})
	}
}

func TestReferencePrice(t *testing.T) {
	market := d("100")
	tests := []struct {
		typ  domain.OrderType
		want string
	}{
		{domain.OrderTypeMarket, "100"},
		{domain.OrderTypeLimit, "95"},
		{domain.OrderTypeStopLimit, "95"},
		{domain.OrderTypeStop, "105"},
	}
	for _, tt := range tests {
		o := &domain.Order{Type: tt.typ, LimitPrice: nd("95"), StopPrice: nd("105")}
		if got := referencePrice(o, market); !got.Equal(d(tt.want)) {
			t.Errorf("referencePrice(%s) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}
