package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"papertrade/internal/domain"
)

// ParquetJournal keeps a per-account, per-day copy of every fill in Parquet
// files on disk and encodes trade exports.
type ParquetJournal struct {
	DataDir string

	mu sync.Mutex
}

// NewParquetJournal creates a new ParquetJournal rooted at the given data
// directory.
func NewParquetJournal(dataDir string) *ParquetJournal {
	return &ParquetJournal{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// JournalRecord is the Parquet schema for a fill. Decimal values are kept as
// their exact string form.
type JournalRecord struct {
	ID          string `parquet:"id"`
	OrderID     string `parquet:"order_id"`
	AccountID   string `parquet:"account_id"`
	StrategyRef string `parquet:"strategy_ref"`
	Symbol      string `parquet:"symbol"`
	Side        string `parquet:"side"`
	Quantity    string `parquet:"quantity"`
	Price       string `parquet:"price"`
	ExecutedAt  int64  `parquet:"executed_at,timestamp(millisecond)"` // Unix ms
}

func toRecord(t domain.Trade) JournalRecord {
	return JournalRecord{
		ID:          t.ID,
		OrderID:     t.OrderID,
		AccountID:   t.AccountID,
		StrategyRef: t.StrategyRef,
		Symbol:      t.Symbol,
		Side:        string(t.Side),
		Quantity:    t.Quantity.String(),
		Price:       t.Price.String(),
		ExecutedAt:  t.ExecutedAt.UnixMilli(),
	}
}

// ---------------------------------------------------------------------------
// Journal
// ---------------------------------------------------------------------------

// Notify appends the trade of a fill event to the journal. Other events are
// ignored.
func (j *ParquetJournal) Notify(ctx context.Context, evt domain.OrderEvent) error {
	if evt.Type != domain.EventOrderFilled || evt.Trade == nil {
		return nil
	}
	return j.WriteTrades(ctx, []domain.Trade{*evt.Trade})
}

// WriteTrades merges trades into the journal files, grouped by account and
// execution date. Each group lives at:
//
//	<DataDir>/journal/<ACCOUNT>/<YYYY-MM-DD>.parquet
func (j *ParquetJournal) WriteTrades(_ context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	type key struct {
		account string
		date    string
	}
	groups := make(map[key][]JournalRecord)
	for _, t := range trades {
		k := key{account: t.AccountID, date: t.ExecutedAt.UTC().Format("2006-01-02")}
		groups[k] = append(groups[k], toRecord(t))
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for k, records := range groups {
		day, _ := time.Parse("2006-01-02", k.date)
		path := j.journalPath(k.account, day)

		existing, err := readParquetFile[JournalRecord](path)
		if err != nil {
			return fmt.Errorf("reading journal for %s/%s: %w", k.account, k.date, err)
		}
		merged := mergeJournalRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing journal for %s/%s: %w", k.account, k.date, err)
		}
	}
	return nil
}

// EncodeTrades writes trades as a single Parquet file to w.
func EncodeTrades(w io.Writer, trades []domain.Trade) error {
	records := make([]JournalRecord, len(trades))
	for i, t := range trades {
		records[i] = toRecord(t)
	}
	if err := parquet.Write(w, records); err != nil {
		return fmt.Errorf("encoding trades: %w", err)
	}
	return nil
}

// journalPath returns the filesystem path of one day's journal.
func (j *ParquetJournal) journalPath(accountID string, t time.Time) string {
	return filepath.Join(j.DataDir, "journal", accountID, t.Format("2006-01-02")+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

// readParquetFile returns the rows of path, or nil if the file does not exist.
func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeJournalRecords deduplicates records by trade ID, preferring incoming
// records. Results are sorted by execution time.
func mergeJournalRecords(existing, incoming []JournalRecord) []JournalRecord {
	seen := make(map[string]JournalRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}

	merged := make([]JournalRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].ExecutedAt == merged[j].ExecutedAt {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].ExecutedAt < merged[j].ExecutedAt
	})
	return merged
}
