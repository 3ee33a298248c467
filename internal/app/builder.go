package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tally/internal/account"
	"tally/internal/bridge"
	"tally/internal/bus"
	"tally/internal/config"
	"tally/internal/diag"
	"tally/internal/instrument"
	"tally/internal/journal"
	"tally/internal/logger"
	"tally/internal/position"
	"tally/internal/source"
	srcbinance "tally/internal/source/binance"
	"tally/internal/store"
	"tally/internal/store/sqlite"
	livehttp "tally/internal/transport/http/live"
	"tally/internal/wire"
)

type AppBuilder struct {
	cfg *config.Config

	storeFn    func(config.StoreConfig) (store.Store, error)
	journalFn  func(config.StoreConfig) (*journal.EventJournal, error)
	sourcesFn  func(*config.Config) ([]source.Source, error)
	liveHTTPFn func(config.AppConfig, *livehttp.Router) (*livehttp.Server, error)

	storeOverride store.Store
}

type AppBuilderOption func(*AppBuilder)

// WithStore 注入外部 store（测试用）。
func WithStore(s store.Store) AppBuilderOption {
	return func(b *AppBuilder) { b.storeOverride = s }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storeFn:    buildStore,
		journalFn:  buildJournal,
		sourcesFn:  buildSources,
		liveHTTPFn: buildLiveHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	metrics := diag.NewMetrics()

	db := b.storeOverride
	if db == nil {
		var err error
		db, err = b.storeFn(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
	}

	jnl, err := b.journalFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init journal: %w", err)
	}

	var registry *instrument.Registry
	if path := strings.TrimSpace(cfg.Instruments.Path); path != "" {
		registry, err = instrument.NewRegistry(path)
		if err != nil {
			return nil, fmt.Errorf("init instrument registry: %w", err)
		}
		logger.Infof("✓ 合约表已加载：%s", path)
	} else {
		logger.Warnf("未配置合约表，所有合约按每点 1 USD 换算")
	}

	pointValue := func(string) float64 { return 1 }
	if registry != nil {
		pointValue = registry.PointValue
	}

	rule := account.Rule{SimPrefixes: cfg.Accounts.SimPrefixes, SimIDs: cfg.Accounts.SimIDs}
	ledger := account.NewLedger(rule, metrics)
	tracker := position.NewTracker(pointValue, metrics)
	queue := bus.NewQueue(cfg.Queue.TickCapacity, metrics)
	normalizer := wire.NewNormalizer(metrics)

	engine := bridge.NewEngine(bridge.Options{
		Normalizer:       normalizer,
		Queue:            queue,
		Ledger:           ledger,
		Tracker:          tracker,
		Store:            db,
		Journal:          jnl,
		Metrics:          metrics,
		SnapshotDebounce: time.Duration(cfg.Snapshot.DebounceMs) * time.Millisecond,
		SimBaselineUSD:   cfg.Accounts.SimBaselineUSD,
		WindowSize:       0,
	})

	sources, err := b.sourcesFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("init sources: %w", err)
	}
	for _, src := range sources {
		logger.Infof("✓ 通道已注册：%s", src.Name())
	}

	var capture *source.CaptureWriter
	if path := strings.TrimSpace(cfg.Feed.CapturePath); path != "" {
		capture, err = source.NewCaptureWriter(path)
		if err != nil {
			return nil, fmt.Errorf("init capture writer: %w", err)
		}
		logger.Infof("✓ 抓包已开启：%s", path)
	}

	router := livehttp.NewRouter(engine, db.Trades(), jnl, metrics, registry)
	liveHTTP, err := b.liveHTTPFn(cfg.App, router)
	if err != nil {
		return nil, fmt.Errorf("init live http: %w", err)
	}

	return &App{
		cfg:      cfg,
		engine:   engine,
		queue:    queue,
		db:       db,
		journal:  jnl,
		sources:  sources,
		capture:  capture,
		liveHTTP: liveHTTP,
	}, nil
}

func buildStore(cfg config.StoreConfig) (store.Store, error) {
	return sqlite.NewSqliteStore(cfg.DBPath)
}

func buildJournal(cfg config.StoreConfig) (*journal.EventJournal, error) {
	if strings.TrimSpace(cfg.JournalPath) == "" {
		return nil, nil
	}
	return journal.NewEventJournal(cfg.JournalPath)
}

// buildSources assembles the feed adapters. Replay replaces the live
// websocket when configured; the binance auxiliary channel stacks on
// top of either.
func buildSources(cfg *config.Config) ([]source.Source, error) {
	var out []source.Source
	if cfg.Feed.Enabled {
		if strings.TrimSpace(cfg.Feed.ReplayPath) != "" {
			replay, err := source.NewReplaySource(cfg.Feed.ReplayPath)
			if err != nil {
				return nil, err
			}
			out = append(out, replay)
		} else {
			ws, err := source.NewWSSource(cfg.Feed)
			if err != nil {
				return nil, err
			}
			out = append(out, ws)
		}
	}
	if cfg.Binance.Enabled {
		bn, err := srcbinance.New(cfg.Binance)
		if err != nil {
			return nil, err
		}
		out = append(out, bn)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no feed source enabled")
	}
	return out, nil
}

func buildLiveHTTPServer(cfg config.AppConfig, router *livehttp.Router) (*livehttp.Server, error) {
	return livehttp.NewServer(cfg.HTTPAddr, router)
}
