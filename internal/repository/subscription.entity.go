package repository

import (
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
)

type SubscriptionEntity struct {
	ID          int64     `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	UserID      int64     `db:"user_id"      gorm:"column:user_id;not null;index"`
	PackageName string    `db:"package_name" gorm:"column:package_name"`
	TotalGB     float64   `db:"total_gb"     gorm:"column:total_gb;not null"`
	RemainingGB float64   `db:"remaining_gb" gorm:"column:remaining_gb;not null"`
	UsedGB      float64   `db:"used_gb"      gorm:"column:used_gb;not null;default:0"`
	Status      string    `db:"status"       gorm:"column:status;not null;default:active;index"`
	ExpiresAt   time.Time `db:"expires_at"   gorm:"column:expires_at"`
	CreatedAt   time.Time `db:"created_at"   gorm:"column:created_at;autoCreateTime"`
}

func (SubscriptionEntity) TableName() string { return "subscriptions" }

func toSubscriptionEntity(m *model.SubscriptionPool) *SubscriptionEntity {
	if m == nil {
		return nil
	}
	return &SubscriptionEntity{
		ID:          m.ID,
		UserID:      m.UserID,
		PackageName: m.PackageName,
		TotalGB:     m.TotalGB,
		RemainingGB: m.RemainingGB,
		UsedGB:      m.UsedGB,
		Status:      string(m.Status),
		ExpiresAt:   m.ExpiresAt,
		CreatedAt:   m.CreatedAt,
	}
}

func toSubscriptionModel(e *SubscriptionEntity) *model.SubscriptionPool {
	if e == nil {
		return nil
	}
	return &model.SubscriptionPool{
		ID:          e.ID,
		UserID:      e.UserID,
		PackageName: e.PackageName,
		TotalGB:     e.TotalGB,
		RemainingGB: e.RemainingGB,
		UsedGB:      e.UsedGB,
		Status:      model.SubscriptionStatus(e.Status),
		ExpiresAt:   e.ExpiresAt,
		CreatedAt:   e.CreatedAt,
	}
}
