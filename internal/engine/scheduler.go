package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"papertrade/internal/domain"
	"papertrade/internal/market"
	"papertrade/internal/metrics"
	"papertrade/internal/store"
)

// DefaultSchedulerInterval is the pass interval used when none is configured.
const DefaultSchedulerInterval = time.Minute

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Interval time.Duration

	// Clock, when set, gates the pending sweep: orders are only executed
	// while it reports the market open. Balance refresh always runs.
	Clock market.Clock
}

// PassResult summarises one scheduler pass.
type PassResult struct {
	Pending  int
	Filled   int
	Failed   int
	Accounts int
	Skipped  bool
}

// Scheduler periodically executes open orders and refreshes account
// balances. Passes run on their own goroutine and never overlap.
type Scheduler struct {
	engine  *Engine
	store   store.Store
	cfg     SchedulerConfig
	metrics *metrics.Metrics
	log     *slog.Logger

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a Scheduler driving e over s.
func NewScheduler(e *Engine, s store.Store, cfg SchedulerConfig, m *metrics.Metrics) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerInterval
	}
	return &Scheduler{
		engine:  e,
		store:   s,
		cfg:     cfg,
		metrics: m,
		log:     e.log.With("component", "scheduler"),
	}
}

// Start launches the pass loop. The first pass runs immediately. Start is a
// no-op if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Info("scheduler started", "interval", s.cfg.Interval)
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass: the pending sweep followed by the balance
// refresh. It returns immediately with Skipped set if another pass is still
// running.
func (s *Scheduler) RunOnce(ctx context.Context) PassResult {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous pass still running, skipping")
		return PassResult{Skipped: true}
	}
	defer s.running.Store(false)

	started := time.Now()
	var res PassResult

	if s.marketOpen(ctx) {
		res.Pending, res.Filled, res.Failed = s.ProcessPending(ctx)
	}
	res.Accounts, _ = s.RefreshBalances(ctx)

	s.metrics.Pass(started, res.Pending, res.Accounts, res.Failed)
	s.log.Debug("pass complete", "pending", res.Pending, "filled", res.Filled,
		"failed", res.Failed, "accounts", res.Accounts, "elapsed", time.Since(started))
	return res
}

func (s *Scheduler) marketOpen(ctx context.Context) bool {
	if s.cfg.Clock == nil {
		return true
	}
	open, err := s.cfg.Clock.IsOpen(ctx)
	if err != nil {
		s.log.Warn("market clock unavailable, sweeping anyway", "error", err)
		return true
	}
	if !open {
		next, err := s.cfg.Clock.NextOpen(ctx)
		if err != nil {
			s.log.Debug("market closed, pending sweep skipped", "error", err)
		} else {
			s.log.Debug("market closed, pending sweep skipped", "next_open", next)
		}
	}
	return open
}

// ProcessPending attempts every open order once, oldest first. A failing or
// panicking order is logged and counted; the sweep continues.
func (s *Scheduler) ProcessPending(ctx context.Context) (pending, filled, failed int) {
	orders, err := s.store.ListOrdersByStatus(ctx, domain.OpenStatuses...)
	if err != nil {
		s.log.Error("listing open orders", "error", err)
		return 0, 0, 1
	}

	for i := range orders {
		if ctx.Err() != nil {
			break
		}
		trade, err := s.executeSafely(ctx, orders[i].ID)
		switch {
		case err != nil:
			failed++
			s.log.Error("executing order", "order", orders[i].ID, "account", orders[i].AccountID, "error", err)
		case trade != nil:
			filled++
		}
	}
	return len(orders), filled, failed
}

func (s *Scheduler) executeSafely(ctx context.Context, orderID string) (trade *domain.Trade, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic executing order %s: %v", orderID, r)
		}
	}()
	return s.engine.ExecuteOrder(ctx, orderID)
}

// RefreshBalances re-marks every active account. It returns the number of
// accounts seen and the number that failed.
func (s *Scheduler) RefreshBalances(ctx context.Context) (accounts, failed int) {
	list, err := s.store.ListActiveAccounts(ctx)
	if err != nil {
		s.log.Error("listing accounts", "error", err)
		return 0, 1
	}
	for _, a := range list {
		if ctx.Err() != nil {
			break
		}
		if err := s.refreshSafely(ctx, a.ID); err != nil {
			failed++
			s.log.Error("refreshing balance", "account", a.ID, "error", err)
		}
	}
	return len(list), failed
}

func (s *Scheduler) refreshSafely(ctx context.Context, accountID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic refreshing account %s: %v", accountID, r)
		}
	}()
	return s.engine.RefreshAccount(ctx, accountID)
}
