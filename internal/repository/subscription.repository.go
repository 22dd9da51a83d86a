package repository

import (
	"context"
	"errors"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrInsufficientPool is returned when a pool debit would overdraw it.
	ErrInsufficientPool = errors.New("insufficient subscription balance")
)

type SubscriptionRepository struct {
	*pg.DB
}

func NewSubscriptionRepository(db *pg.DB) *SubscriptionRepository {
	return &SubscriptionRepository{
		db,
	}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *model.SubscriptionPool) (*model.SubscriptionPool, error) {
	entity := toSubscriptionEntity(sub)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toSubscriptionModel(entity), nil
}

// Get returns the pool, auto-transitioning it to expired when read past
// its expiry date.
func (r *SubscriptionRepository) Get(ctx context.Context, id int64) (*model.SubscriptionPool, error) {
	var entity SubscriptionEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}

	if entity.Status == string(model.SubscriptionActive) && entity.ExpiresAt.Before(time.Now()) {
		if err := r.Write(ctx).WithContext(ctx).
			Model(&SubscriptionEntity{}).
			Where("id = ?", entity.ID).
			Update("status", string(model.SubscriptionExpired)).Error; err != nil {
			return nil, err
		}
		entity.Status = string(model.SubscriptionExpired)
	}

	return toSubscriptionModel(&entity), nil
}

func (r *SubscriptionRepository) GetActiveByUser(ctx context.Context, userID int64) (*model.SubscriptionPool, error) {
	var entity SubscriptionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(model.SubscriptionActive)).
		Order("created_at DESC").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return r.Get(ctx, entity.ID)
}

// Debit moves amount from remaining to used in one guarded statement,
// preserving remaining + used == total. Fails with ErrInsufficientPool
// when the guard loses.
func (r *SubscriptionRepository) Debit(ctx context.Context, id int64, amountGB float64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&SubscriptionEntity{}).
		Where("id = ? AND status = ? AND remaining_gb >= ?", id, string(model.SubscriptionActive), amountGB).
		Updates(map[string]interface{}{
			"remaining_gb": gorm.Expr("remaining_gb - ?", amountGB),
			"used_gb":      gorm.Expr("used_gb + ?", amountGB),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Distinguish a missing pool from an overdraw.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrInsufficientPool
	}
	return nil
}

// SyncBalance overwrites the pool counters with the carrier's
// authoritative figures (best-effort reconciliation).
func (r *SubscriptionRepository) SyncBalance(ctx context.Context, id int64, totalGB, remainingGB, usedGB float64) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&SubscriptionEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_gb":     totalGB,
			"remaining_gb": remainingGB,
			"used_gb":      usedGB,
		}).Error
}
