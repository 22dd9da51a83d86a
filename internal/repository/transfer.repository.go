package repository

import (
	"context"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/pkg/pg"
)

type TransferRepository struct {
	*pg.DB
}

func NewTransferRepository(db *pg.DB) *TransferRepository {
	return &TransferRepository{
		db,
	}
}

func (r *TransferRepository) Create(ctx context.Context, t *model.TransferRecord) (*model.TransferRecord, error) {
	entity := toTransferEntity(t)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransferModel(entity), nil
}

// Delete removes a transfer record. Only the token-expiry path uses
// this: the attempt never meaningfully reached the carrier, so keeping
// the record would double-count the retry.
func (r *TransferRepository) Delete(ctx context.Context, id int64) error {
	return r.Write(ctx).WithContext(ctx).
		Delete(&TransferEntity{}, id).Error
}

func (r *TransferRepository) List(ctx context.Context, f model.TransferFilter) ([]*model.TransferRecord, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&TransferEntity{})

	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*TransferEntity
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toTransferModels(entities), total, nil
}
