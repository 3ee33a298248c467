package market

import talib "github.com/markcheno/go-talib"

const (
	emaFastPeriod = 9
	emaSlowPeriod = 21
	rsiPeriod     = 14
	volPeriod     = 14
)

// Window 维护单个合约的滚动价格序列，供入场时采样参考指标。
type Window struct {
	prices []float64
	max    int
}

func NewWindow(max int) *Window {
	if max <= 0 {
		max = 64
	}
	return &Window{max: max}
}

func (w *Window) Push(price float64) {
	if price <= 0 {
		return
	}
	w.prices = append(w.prices, price)
	if len(w.prices) > w.max {
		w.prices = w.prices[len(w.prices)-w.max:]
	}
}

func (w *Window) Len() int {
	return len(w.prices)
}

// EntryContext 是开仓瞬间采样的参考指标快照。这些是结构性字段：
// 随仓位一起持久化，崩溃恢复后原样还原，不随行情重算。
type EntryContext struct {
	EMAFast    float64 `json:"ema_fast,omitempty"`
	EMASlow    float64 `json:"ema_slow,omitempty"`
	RSI        float64 `json:"rsi,omitempty"`
	Volatility float64 `json:"volatility,omitempty"`
	Ready      bool    `json:"ready,omitempty"`
}

// Context samples the reference indicators from the current window.
// With too few observations it returns a zero context with Ready=false
// rather than misleading half-warmed values.
func (w *Window) Context() EntryContext {
	if w == nil || len(w.prices) <= emaSlowPeriod {
		return EntryContext{}
	}
	ema9 := talib.Ema(w.prices, emaFastPeriod)
	ema21 := talib.Ema(w.prices, emaSlowPeriod)
	rsi := talib.Rsi(w.prices, rsiPeriod)
	vol := talib.StdDev(w.prices, volPeriod, 1.0)
	last := len(w.prices) - 1
	return EntryContext{
		EMAFast:    ema9[last],
		EMASlow:    ema21[last],
		RSI:        rsi[last],
		Volatility: vol[last],
		Ready:      true,
	}
}
