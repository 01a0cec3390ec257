package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"papertrade/internal/api"
	"papertrade/internal/config"
	"papertrade/internal/engine"
	"papertrade/internal/events"
	"papertrade/internal/market"
	"papertrade/internal/metrics"
	"papertrade/internal/store"
	"papertrade/internal/util"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer st.Close()

	prices, err := newPriceSource(cfg)
	if err != nil {
		return err
	}
	defer prices.Close()

	m := metrics.New()
	hub := api.NewHub(logger)

	notifiers := events.Multi{hub, store.NewParquetJournal(cfg.Storage.DataDir)}
	if cfg.Kafka.Enabled() {
		if err := events.EnsureTopic(ctx, cfg.Kafka.Brokers[0], cfg.Kafka.Topic, 1); err != nil {
			logger.Warn("ensuring kafka topic", "topic", cfg.Kafka.Topic, "error", err)
		}
		pub := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer pub.Close()
		notifiers = append(notifiers, pub)
		logger.Info("publishing order events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	eng := engine.New(st, prices,
		engine.WithNotifier(events.Logging(notifiers, logger)),
		engine.WithRiskManager(engine.NewRiskManager(cfg.Engine.MaxPositionPct)),
		engine.WithMetrics(m),
		engine.WithLogger(logger),
	)

	schedCfg := engine.SchedulerConfig{Interval: cfg.Engine.Scheduler.Interval}
	if cfg.Engine.Scheduler.MarketHoursOnly {
		schedCfg.Clock = newClock(cfg)
	}
	sched := engine.NewScheduler(eng, st, schedCfg, m)
	srv := api.NewServer(cfg.Server, eng, hub, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Start(gctx)
		srv.SetServing(true)
		<-gctx.Done()
		srv.SetServing(false)
		sched.Stop()
		return nil
	})
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	logger.Info("papertrade server started",
		"market_source", cfg.Market.Source,
		"scheduler_interval", cfg.Engine.Scheduler.Interval,
		"market_hours_only", cfg.Engine.Scheduler.MarketHoursOnly)
	err = g.Wait()
	logger.Info("papertrade server stopped")
	return err
}

func newPriceSource(cfg *config.Config) (*market.CachedSource, error) {
	var src market.PriceSource
	switch cfg.Market.Source {
	case "static":
		prices, err := cfg.Market.Prices()
		if err != nil {
			return nil, err
		}
		src = market.NewStaticSource(prices)
	default:
		src = market.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
			cfg.Alpaca.DataURL, cfg.Alpaca.Feed, cfg.Market.RateLimitPerMin)
	}
	return market.NewCachedSource(src, cfg.Market.CacheTTL)
}

func newClock(cfg *config.Config) market.Clock {
	if cfg.Market.Source == "alpaca" {
		return market.NewAlpacaClock(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	}
	return market.CalendarClock{Calendar: util.NewTradingCalendar(), Now: time.Now}
}
