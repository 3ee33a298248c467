package sqlite

import (
	"context"
	"fmt"
	"time"

	"tally/internal/store"
	"tally/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type positionRepo struct {
	db *gorm.DB
}

func NewPositionRepo(db *gorm.DB) store.PositionRepository {
	return &positionRepo{db: db}
}

func (r *positionRepo) Save(ctx context.Context, snap *model.PositionSnapshotModel) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if snap.UpdatedAtUnix == 0 {
		snap.UpdatedAtUnix = time.Now().UnixMilli()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"schema_version", "state_json", "updated_at",
		}),
	}).Create(snap).Error
}

func (r *positionRepo) Delete(ctx context.Context, account, symbol string) error {
	return r.db.WithContext(ctx).
		Where("account = ? AND symbol = ?", account, symbol).
		Delete(&model.PositionSnapshotModel{}).Error
}

func (r *positionRepo) List(ctx context.Context) ([]model.PositionSnapshotModel, error) {
	var snaps []model.PositionSnapshotModel
	err := r.db.WithContext(ctx).
		Order("account ASC, symbol ASC").
		Find(&snaps).Error
	if err != nil {
		return nil, err
	}
	return snaps, nil
}
