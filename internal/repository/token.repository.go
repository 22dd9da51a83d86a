package repository

import (
	"context"
	"errors"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/pkg/pg"
	"gorm.io/gorm"
)

var ErrTokenNotFound = errors.New("carrier token not found")

type TokenRepository struct {
	*pg.DB
}

func NewTokenRepository(db *pg.DB) *TokenRepository {
	return &TokenRepository{
		db,
	}
}

// Activate deactivates every active token and inserts the new one as the
// single active credential, atomically with respect to Active lookups.
func (r *TokenRepository) Activate(ctx context.Context, token *model.CarrierToken) (*model.CarrierToken, error) {
	entity := toTokenEntity(token)
	entity.Active = true

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.Write(ctx).WithContext(ctx).
			Model(&CarrierTokenEntity{}).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return err
		}
		return r.Write(ctx).WithContext(ctx).Create(entity).Error
	})
	if err != nil {
		return nil, err
	}

	return toTokenModel(entity), nil
}

// Active returns the newest active, unexpired token.
func (r *TokenRepository) Active(ctx context.Context) (*model.CarrierToken, error) {
	var entity CarrierTokenEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("active = ? AND expires_at > ?", true, time.Now()).
		Order("created_at DESC").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return toTokenModel(&entity), nil
}

// Newest returns the most recent token regardless of state. Used as the
// degraded fallback when no active token exists.
func (r *TokenRepository) Newest(ctx context.Context) (*model.CarrierToken, error) {
	var entity CarrierTokenEntity
	err := r.Read(ctx).WithContext(ctx).
		Order("created_at DESC").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return toTokenModel(&entity), nil
}

// NewestActive returns the most recent active token even if expired;
// the status endpoint distinguishes expired from missing.
func (r *TokenRepository) NewestActive(ctx context.Context) (*model.CarrierToken, error) {
	var entity CarrierTokenEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("active = ?", true).
		Order("created_at DESC").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return toTokenModel(&entity), nil
}

// DeactivateAll turns off every active token, recording why.
func (r *TokenRepository) DeactivateAll(ctx context.Context, reason string) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&CarrierTokenEntity{}).
		Where("active = ?", true).
		Updates(map[string]interface{}{
			"active":     false,
			"last_error": reason,
		}).Error
}

// MarkOTPRequested flags active tokens as waiting for an OTP exchange.
func (r *TokenRepository) MarkOTPRequested(ctx context.Context) error {
	now := time.Now()
	return r.Write(ctx).WithContext(ctx).
		Model(&CarrierTokenEntity{}).
		Where("active = ?", true).
		Updates(map[string]interface{}{
			"waiting_for_otp":  true,
			"last_otp_sent_at": now,
		}).Error
}

// SetLastError records a login failure on the active token rows.
func (r *TokenRepository) SetLastError(ctx context.Context, msg string) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&CarrierTokenEntity{}).
		Where("active = ?", true).
		Updates(map[string]interface{}{
			"last_error":      msg,
			"waiting_for_otp": false,
		}).Error
}

// History returns the most recent token rows, newest first. Callers
// must not expose the raw token strings.
func (r *TokenRepository) History(ctx context.Context, limit int) ([]*model.CarrierToken, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var entities []*CarrierTokenEntity
	err := r.Read(ctx).WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toTokenModels(entities), nil
}
