package repository

import (
	"context"
	"errors"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/pkg/pg"
	"gorm.io/gorm"
)

var ErrParcelNotFound = errors.New("credit parcel not found")

type CreditRepository struct {
	*pg.DB
}

func NewCreditRepository(db *pg.DB) *CreditRepository {
	return &CreditRepository{
		db,
	}
}

func (r *CreditRepository) CreateParcel(ctx context.Context, p *model.CreditParcel) (*model.CreditParcel, error) {
	entity := toParcelEntity(p)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toParcelModel(entity), nil
}

// SaveParcel persists updated balance/status fields of an existing parcel.
func (r *CreditRepository) SaveParcel(ctx context.Context, p *model.CreditParcel) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&CreditParcelEntity{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"remaining": p.Remaining,
			"used":      p.Used,
			"status":    string(p.Status),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrParcelNotFound
	}
	return nil
}

// ActiveBalance sums the remaining balance of active parcels in the
// given denomination.
func (r *CreditRepository) ActiveBalance(ctx context.Context, userID int64, denom model.Denomination) (float64, error) {
	var total *float64
	err := r.Read(ctx).WithContext(ctx).
		Model(&CreditParcelEntity{}).
		Select("SUM(remaining)").
		Where("user_id = ? AND status = ? AND denomination = ?", userID, string(model.ParcelActive), string(denom)).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// ActiveParcelsOldestFirst returns drainable parcels in FIFO order.
func (r *CreditRepository) ActiveParcelsOldestFirst(ctx context.Context, userID int64, denom model.Denomination) ([]*model.CreditParcel, error) {
	var entities []*CreditParcelEntity
	err := r.Write(ctx).WithContext(ctx).
		Where("user_id = ? AND status = ? AND denomination = ? AND remaining > 0", userID, string(model.ParcelActive), string(denom)).
		Order("created_at ASC, id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toParcelModels(entities), nil
}

// OldestDepleted returns the oldest depleted parcel, or ErrParcelNotFound.
func (r *CreditRepository) OldestDepleted(ctx context.Context, userID int64, denom model.Denomination) (*model.CreditParcel, error) {
	return r.oldestByStatus(ctx, userID, denom, model.ParcelDepleted)
}

// OldestActive returns the oldest active parcel, or ErrParcelNotFound.
func (r *CreditRepository) OldestActive(ctx context.Context, userID int64, denom model.Denomination) (*model.CreditParcel, error) {
	return r.oldestByStatus(ctx, userID, denom, model.ParcelActive)
}

func (r *CreditRepository) oldestByStatus(ctx context.Context, userID int64, denom model.Denomination, status model.ParcelStatus) (*model.CreditParcel, error) {
	var entity CreditParcelEntity
	err := r.Write(ctx).WithContext(ctx).
		Where("user_id = ? AND status = ? AND denomination = ?", userID, string(status), string(denom)).
		Order("created_at ASC, id ASC").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParcelNotFound
		}
		return nil, err
	}
	return toParcelModel(&entity), nil
}

// HasActiveDenomination reports whether the user holds any active parcel
// in the given denomination. Used to enforce one denomination per user.
func (r *CreditRepository) HasActiveDenomination(ctx context.Context, userID int64, denom model.Denomination) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&CreditParcelEntity{}).
		Where("user_id = ? AND status = ? AND denomination = ?", userID, string(model.ParcelActive), string(denom)).
		Count(&count).Error
	return count > 0, err
}

func (r *CreditRepository) ListParcels(ctx context.Context, userID int64) ([]*model.CreditParcel, error) {
	var entities []*CreditParcelEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toParcelModels(entities), nil
}

func (r *CreditRepository) CreateEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	entity := toLedgerEntryEntity(entry)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toLedgerEntryModel(entity), nil
}

func (r *CreditRepository) ListEntries(ctx context.Context, f model.LedgerFilter) ([]*model.LedgerEntry, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&LedgerEntryEntity{})

	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Type != nil {
		q = q.Where("type = ?", string(*f.Type))
	}
	if f.Denomination != nil {
		q = q.Where("denomination = ?", string(*f.Denomination))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*LedgerEntryEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toLedgerEntryModels(entities), total, nil
}
