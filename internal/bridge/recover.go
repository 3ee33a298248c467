package bridge

import (
	"context"
	"time"

	"tally/internal/account"
	"tally/internal/journal"
	"tally/internal/logger"
	"tally/internal/position"
	"tally/internal/store/model"
)

// Recover rebuilds in-memory state from the database before the feeds
// start. It never aborts startup: a snapshot that fails validation
// falls back to the newest still-open trade row, and only when that is
// missing too does the key start flat with a degraded-recovery mark.
// A successful trade-history fallback is journaled but not counted as
// degraded; the structural essentials all came back.
//
// Live-derived fields are never restored; they refill from the first
// post-recovery observations.
func (e *Engine) Recover(ctx context.Context) error {
	snaps, err := e.store.Positions().List(ctx)
	if err != nil {
		e.metrics.IncDegradedRecovery()
		logger.Errorf("snapshot listing failed, starting with empty state: %v", err)
		e.recordRecovery(ctx, "", "", "snapshot listing failed: "+err.Error())
		e.refreshView(true)
		return nil
	}

	restored := 0
	degraded := 0
	for _, snap := range snaps {
		st, decErr := model.DecodeSnapshotState(snap.StateJSON)
		if decErr == nil && usableSnapshot(st) {
			pos := st.Restore(snap.Account, snap.Symbol)
			e.tracker.Restore(pos)
			e.seedAccount(snap.Account)
			e.tradeRefs[position.Key{Account: snap.Account, Symbol: snap.Symbol}] = e.lookupOpenTradeRef(ctx, snap.Account, snap.Symbol)
			restored++
			continue
		}

		if decErr != nil {
			logger.Warnf("snapshot for %s/%s invalid: %v", snap.Account, snap.Symbol, decErr)
		} else {
			logger.Warnf("snapshot for %s/%s missing core fields", snap.Account, snap.Symbol)
		}
		if e.recoverFromTradeHistory(ctx, snap.Account, snap.Symbol) {
			restored++
			e.recordRecovery(ctx, snap.Account, snap.Symbol, "snapshot unusable, restored from trade history")
			continue
		}
		degraded++
		e.metrics.IncDegradedRecovery()
		e.recordRecovery(ctx, snap.Account, snap.Symbol, "snapshot unusable and no open trade row, key starts flat")
	}

	e.refreshView(true)
	logger.Infof("recovery complete: %d positions restored, %d degraded", restored, degraded)
	return nil
}

// usableSnapshot requires the fields without which a position makes no
// sense. Everything else may be absent and restores partially.
func usableSnapshot(st model.SnapshotState) bool {
	if st.Side == nil || (*st.Side != string(position.SideLong) && *st.Side != string(position.SideShort)) {
		return false
	}
	if st.EntryPrice == nil || *st.EntryPrice <= 0 {
		return false
	}
	if st.Quantity == nil || *st.Quantity <= 0 {
		return false
	}
	return true
}

// recoverFromTradeHistory reconstructs a minimal open position from the
// newest still-open trade row. Extremes restart at the entry price, so
// MAE/MFE may understate the pre-crash excursion; that is the accepted
// cost of the degraded path.
func (e *Engine) recoverFromTradeHistory(ctx context.Context, accountID, symbol string) bool {
	trade, err := e.store.Trades().LatestOpen(ctx, accountID, symbol)
	if err != nil {
		logger.Errorf("trade-history lookup for %s/%s failed: %v", accountID, symbol, err)
		return false
	}
	if trade == nil {
		return false
	}
	openedAt := time.UnixMilli(trade.OpenedAtUnix)
	pos := &position.Open{
		Account:    accountID,
		Symbol:     symbol,
		Side:       position.Side(trade.Side),
		EntryPrice: trade.EntryPrice,
		Quantity:   trade.Quantity,
		EnteredAt:  openedAt,
		UpdatedAt:  openedAt,
		TradeMin:   trade.EntryPrice,
		TradeMax:   trade.EntryPrice,
	}
	e.tracker.Restore(pos)
	e.seedAccount(accountID)
	e.tradeRefs[position.Key{Account: accountID, Symbol: symbol}] = trade.TradeID
	logger.Infof("position %s/%s reconstructed from trade history (%s)", accountID, symbol, trade.TradeID)
	return true
}

// seedAccount registers the account with the ledger so the mode is
// fixed before the first live event, and baselines SIM funds.
func (e *Engine) seedAccount(accountID string) {
	if e.ledger.ModeOf(accountID) != account.ModeSim {
		return
	}
	if ch, ok := e.ledger.SetBaseline(accountID, e.simBaseline, time.Now()); ok {
		e.emitBalanceChange(ch)
	}
}

func (e *Engine) lookupOpenTradeRef(ctx context.Context, accountID, symbol string) string {
	trade, err := e.store.Trades().LatestOpen(ctx, accountID, symbol)
	if err != nil || trade == nil {
		return ""
	}
	return trade.TradeID
}

func (e *Engine) recordRecovery(ctx context.Context, accountID, symbol, detail string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(ctx, journal.CategoryRecovery, accountID, symbol, map[string]string{"detail": detail}); err != nil {
		logger.Warnf("recovery journal write failed: %v", err)
	}
}
