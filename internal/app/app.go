package app

import (
	"context"
	"fmt"

	"tally/internal/bridge"
	"tally/internal/bus"
	"tally/internal/config"
	"tally/internal/journal"
	"tally/internal/logger"
	"tally/internal/source"
	"tally/internal/store"
	livehttp "tally/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→恢复状态→启动通道与服务。
type App struct {
	cfg      *config.Config
	engine   *bridge.Engine
	queue    *bus.Queue
	db       store.Store
	journal  *journal.EventJournal
	sources  []source.Source
	capture  *source.CaptureWriter
	liveHTTP *livehttp.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 恢复持久化状态后启动全部通道，阻塞到 ctx 取消。
// 关停顺序是固定的：先停片源，再排空队列并落最终快照，最后关库。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if err := a.engine.Recover(ctx); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)

	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(gctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}

	emit := source.Emit(a.engine.Ingest)
	if a.capture != nil {
		emit = a.capture.Tap(emit)
	}
	for _, src := range a.sources {
		src := src
		group.Go(func() error {
			if err := src.Run(gctx, emit); err != nil {
				return fmt.Errorf("source %s error: %w", src.Name(), err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return a.engine.Run(gctx)
	})

	err := group.Wait()

	shCtx := context.Background()
	a.engine.Shutdown(shCtx)
	a.close()
	return err
}

func (a *App) close() {
	if a.capture != nil {
		if err := a.capture.Close(); err != nil {
			logger.Warnf("capture close failed: %v", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("journal close failed: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warnf("store close failed: %v", err)
		}
	}
}

// Engine exposes the bridge engine (for testing/replay harnesses).
func (a *App) Engine() *bridge.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}
