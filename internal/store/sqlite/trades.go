package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tally/internal/store"
	"tally/internal/store/model"

	"gorm.io/gorm"
)

type tradeRepo struct {
	db *gorm.DB
}

func NewTradeRepo(db *gorm.DB) store.TradeRepository {
	return &tradeRepo{db: db}
}

func (r *tradeRepo) Insert(ctx context.Context, trade *model.TradeModel) error {
	if trade == nil {
		return fmt.Errorf("trade cannot be nil")
	}
	if trade.TradeID == "" {
		return fmt.Errorf("trade id cannot be empty")
	}
	return r.db.WithContext(ctx).Create(trade).Error
}

func (r *tradeRepo) Finalize(ctx context.Context, trade *model.TradeModel) error {
	if trade == nil {
		return fmt.Errorf("trade cannot be nil")
	}
	if trade.ExitPrice == nil || trade.RealizedPnL == nil {
		return fmt.Errorf("finalize requires exit price and realized pnl")
	}
	res := r.db.WithContext(ctx).Model(&model.TradeModel{}).
		Where("trade_id = ? AND status = ?", trade.TradeID, model.TradeStatusOpen).
		Updates(map[string]interface{}{
			"exit_price":   trade.ExitPrice,
			"realized_pnl": trade.RealizedPnL,
			"mae":          trade.MAE,
			"mfe":          trade.MFE,
			"status":       model.TradeStatusClosed,
			"closed_at":    trade.ClosedAtUnix,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("trade %s not open", trade.TradeID)
	}
	return nil
}

func (r *tradeRepo) LatestOpen(ctx context.Context, account, symbol string) (*model.TradeModel, error) {
	var trade model.TradeModel
	err := r.db.WithContext(ctx).
		Where("account = ? AND symbol = ? AND status = ?", account, symbol, model.TradeStatusOpen).
		Order("opened_at DESC").
		First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

func (r *tradeRepo) ListClosed(ctx context.Context, account string, from, to time.Time, limit int) ([]model.TradeModel, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).
		Where("status = ?", model.TradeStatusClosed).
		Order("closed_at DESC").
		Limit(limit)
	if account != "" {
		q = q.Where("account = ?", account)
	}
	if !from.IsZero() {
		q = q.Where("closed_at >= ?", from.UnixMilli())
	}
	if !to.IsZero() {
		q = q.Where("closed_at <= ?", to.UnixMilli())
	}
	var trades []model.TradeModel
	if err := q.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}
