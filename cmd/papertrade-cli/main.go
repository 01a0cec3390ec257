package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/pkg/papertrade"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: papertrade-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version                       Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  account   -user U [-capital N] Open or fetch the account for a user\n")
	fmt.Fprintf(os.Stderr, "  portfolio -account A           Show balances, positions and recent activity\n")
	fmt.Fprintf(os.Stderr, "  order     -account A ...       Submit an order\n")
	fmt.Fprintf(os.Stderr, "  cancel    -account A -order O  Cancel an open order\n")
	fmt.Fprintf(os.Stderr, "  orders    -account A           List orders\n")
	fmt.Fprintf(os.Stderr, "  trades    -account A           List trades\n")
	fmt.Fprintf(os.Stderr, "  export    -account A -o FILE   Download trade history as Parquet\n")
	fmt.Fprintf(os.Stderr, "\nThe server address is taken from -server or PAPERTRADE_URL.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("papertrade-cli %s\n", version)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var err error
	switch cmd {
	case "account":
		err = runAccount(ctx, args)
	case "portfolio":
		err = runPortfolio(ctx, args)
	case "order":
		err = runOrder(ctx, args)
	case "cancel":
		err = runCancel(ctx, args)
	case "orders":
		err = runOrders(ctx, args)
	case "trades":
		err = runTrades(ctx, args)
	case "export":
		err = runExport(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set carrying the shared -server flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	def := os.Getenv("PAPERTRADE_URL")
	if def == "" {
		def = "http://localhost:8080"
	}
	server := fs.String("server", def, "papertrade-server base URL")
	return fs, server
}

func requireFlag(name, v string) error {
	if v == "" {
		return fmt.Errorf("-%s is required", name)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parsing %q: %w", s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func runAccount(ctx context.Context, args []string) error {
	fs, server := newFlagSet("account")
	user := fs.String("user", "", "user id")
	capital := fs.String("capital", "", "initial capital for a new account")
	fs.Parse(args)
	if err := requireFlag("user", *user); err != nil {
		return err
	}
	initial, err := optionalDecimal(*capital)
	if err != nil {
		return err
	}
	a, err := papertrade.NewClient(*server).OpenAccount(ctx, *user, initial)
	if err != nil {
		return err
	}
	return printJSON(a)
}

func runPortfolio(ctx context.Context, args []string) error {
	fs, server := newFlagSet("portfolio")
	account := fs.String("account", "", "account id")
	fs.Parse(args)
	if err := requireFlag("account", *account); err != nil {
		return err
	}
	p, err := papertrade.NewClient(*server).GetPortfolio(ctx, *account)
	if err != nil {
		return err
	}

	a := p.Account
	fmt.Printf("Account %s (%s)\n", a.ID, a.UserID)
	fmt.Printf("  balance %s  cash %s  pnl %s (%s%%)\n\n",
		a.CurrentBalance.StringFixed(2), a.AvailableCash.StringFixed(2),
		a.TotalPnL.StringFixed(2), a.TotalReturnPct.StringFixed(2))

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tQTY\tAVG\tPRICE\tVALUE\tUNREALIZED\tREALIZED")
	for _, pos := range p.Positions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", pos.Symbol, pos.Quantity,
			pos.AvgEntryPrice.StringFixed(4), pos.CurrentPrice.StringFixed(2),
			pos.MarketValue.StringFixed(2), pos.UnrealizedPnL.StringFixed(2), pos.RealizedPnL.StringFixed(2))
	}
	return tw.Flush()
}

func runOrder(ctx context.Context, args []string) error {
	fs, server := newFlagSet("order")
	account := fs.String("account", "", "account id")
	symbol := fs.String("symbol", "", "ticker symbol")
	side := fs.String("side", "BUY", "BUY or SELL")
	typ := fs.String("type", "MARKET", "MARKET, LIMIT, STOP or STOP_LIMIT")
	qty := fs.String("qty", "", "quantity")
	limit := fs.String("limit", "", "limit price")
	stop := fs.String("stop", "", "stop price")
	strategy := fs.String("strategy", "", "strategy reference")
	fs.Parse(args)
	for name, v := range map[string]string{"account": *account, "symbol": *symbol, "qty": *qty} {
		if err := requireFlag(name, v); err != nil {
			return err
		}
	}

	quantity, err := decimal.NewFromString(*qty)
	if err != nil {
		return fmt.Errorf("parsing -qty: %w", err)
	}
	limitPrice, err := optionalDecimal(*limit)
	if err != nil {
		return err
	}
	stopPrice, err := optionalDecimal(*stop)
	if err != nil {
		return err
	}

	o, err := papertrade.NewClient(*server).SubmitOrder(ctx, *account, papertrade.OrderRequest{
		Symbol:      *symbol,
		Side:        *side,
		Type:        *typ,
		Quantity:    quantity,
		LimitPrice:  limitPrice,
		StopPrice:   stopPrice,
		StrategyRef: *strategy,
	})
	if err != nil {
		return err
	}
	return printJSON(o)
}

func runCancel(ctx context.Context, args []string) error {
	fs, server := newFlagSet("cancel")
	account := fs.String("account", "", "account id")
	orderID := fs.String("order", "", "order id")
	fs.Parse(args)
	if err := requireFlag("account", *account); err != nil {
		return err
	}
	if err := requireFlag("order", *orderID); err != nil {
		return err
	}
	cancelled, o, err := papertrade.NewClient(*server).CancelOrder(ctx, *account, *orderID)
	if err != nil {
		return err
	}
	if !cancelled {
		status := "unknown"
		if o != nil {
			status = o.Status
		}
		return fmt.Errorf("order %s not cancelled (status %s)", *orderID, status)
	}
	fmt.Printf("order %s cancelled\n", *orderID)
	return nil
}

func runOrders(ctx context.Context, args []string) error {
	fs, server := newFlagSet("orders")
	account := fs.String("account", "", "account id")
	status := fs.String("status", "", "filter by status")
	limit := fs.Int("limit", 0, "maximum rows")
	fs.Parse(args)
	if err := requireFlag("account", *account); err != nil {
		return err
	}
	orders, err := papertrade.NewClient(*server).ListOrders(ctx, *account, *status, *limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSYMBOL\tSIDE\tTYPE\tQTY\tSTATUS\tFILL")
	for _, o := range orders {
		fill := "-"
		if o.AverageFillPrice.Valid {
			fill = o.AverageFillPrice.Decimal.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", o.ID, o.CreatedAt.Format(time.DateTime),
			o.Symbol, o.Side, o.Type, o.Quantity, o.Status, fill)
	}
	return tw.Flush()
}

func runTrades(ctx context.Context, args []string) error {
	fs, server := newFlagSet("trades")
	account := fs.String("account", "", "account id")
	symbol := fs.String("symbol", "", "filter by symbol")
	limit := fs.Int("limit", 0, "maximum rows")
	fs.Parse(args)
	if err := requireFlag("account", *account); err != nil {
		return err
	}
	trades, err := papertrade.NewClient(*server).ListTrades(ctx, *account, *symbol, *limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTED\tSYMBOL\tSIDE\tQTY\tPRICE\tORDER")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ExecutedAt.Format(time.DateTime),
			t.Symbol, t.Side, t.Quantity, t.Price, t.OrderID)
	}
	return tw.Flush()
}

func runExport(ctx context.Context, args []string) error {
	fs, server := newFlagSet("export")
	account := fs.String("account", "", "account id")
	out := fs.String("o", "", "output file")
	fs.Parse(args)
	if err := requireFlag("account", *account); err != nil {
		return err
	}
	if err := requireFlag("o", *out); err != nil {
		return err
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := papertrade.NewClient(*server).ExportTrades(ctx, *account, f); err != nil {
		f.Close()
		os.Remove(*out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *out)
	return nil
}
