// Package binance 提供可选的标记价格辅助通道，基于 go-binance SDK。
// 它只产出 tick frames，用于在主通道行情稀疏时保持 MAE/MFE 与滚动
// 指标窗口的更新。
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tally/internal/config"
	"tally/internal/logger"
	"tally/internal/source"
	"tally/internal/wire"

	"github.com/adshao/go-binance/v2/futures"
)

const reconnectDelay = 5 * time.Second

type Source struct {
	symbols []string
}

func New(cfg config.BinanceFeedConfig) (*Source, error) {
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("binance feed requires at least one symbol")
	}
	if cfg.UseTest {
		futures.UseTestnet = true
	}
	return &Source{symbols: symbols}, nil
}

func (s *Source) Name() string { return "feed-binance" }

func (s *Source) Run(ctx context.Context, emit source.Emit) error {
	for {
		if err := s.serve(ctx, emit); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warnf("[%s] stream failed: %v, reconnecting in %s", s.Name(), err, reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Source) serve(ctx context.Context, emit source.Emit) error {
	handler := func(evt *futures.WsMarkPriceEvent) {
		if evt == nil {
			return
		}
		price, err := strconv.ParseFloat(evt.MarkPrice, 64)
		if err != nil || price <= 0 {
			return
		}
		payload, err := json.Marshal(map[string]interface{}{
			"symbol": evt.Symbol,
			"price":  price,
		})
		if err != nil {
			return
		}
		emit(wire.RawMessage{
			Code:    wire.CodeMarketTick,
			Payload: payload,
			Recv:    time.Now(),
		})
	}
	errCh := make(chan error, 1)
	errHandler := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	doneC, stopC, err := futures.WsCombinedMarkPriceServe(s.symbols, handler, errHandler)
	if err != nil {
		return err
	}
	logger.Infof("[%s] mark price stream up for %d symbols", s.Name(), len(s.symbols))

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return nil
	case err := <-errCh:
		close(stopC)
		<-doneC
		return err
	case <-doneC:
		return fmt.Errorf("stream closed by server")
	}
}
