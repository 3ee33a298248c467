package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextNotReadyUntilWarm(t *testing.T) {
	w := NewWindow(64)
	for i := 0; i < emaSlowPeriod; i++ {
		w.Push(100 + float64(i))
	}
	assert.False(t, w.Context().Ready)

	w.Push(121)
	ctx := w.Context()
	assert.True(t, ctx.Ready)
	assert.Greater(t, ctx.EMAFast, 0.0)
	assert.Greater(t, ctx.EMASlow, 0.0)
	assert.Greater(t, ctx.RSI, 0.0)
}

func TestWindowBoundedAndIgnoresBadPrices(t *testing.T) {
	w := NewWindow(3)
	w.Push(0)
	w.Push(-5)
	for _, p := range []float64{1, 2, 3, 4} {
		w.Push(p)
	}
	assert.Equal(t, 3, w.Len())
}
