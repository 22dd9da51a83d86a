package model

import "time"

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// SubscriptionPool is the bulk carrier allowance shared by
// subscription-funded jobs. Invariant: RemainingGB + UsedGB == TotalGB.
type SubscriptionPool struct {
	ID          int64              `json:"id"`
	UserID      int64              `json:"user_id"`
	PackageName string             `json:"package_name"`
	TotalGB     float64            `json:"total_gb"`
	RemainingGB float64            `json:"remaining_gb"`
	UsedGB      float64            `json:"used_gb"`
	Status      SubscriptionStatus `json:"status"`
	ExpiresAt   time.Time          `json:"expires_at"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Expired reports whether the pool is past its expiry date.
func (s *SubscriptionPool) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}
