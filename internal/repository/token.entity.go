package repository

import (
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
)

type CarrierTokenEntity struct {
	ID            int64      `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	Token         string     `db:"token"            gorm:"column:token;not null"`
	Source        string     `db:"source"           gorm:"column:source;not null;default:otp_login"`
	Active        bool       `db:"active"           gorm:"column:active;not null;default:false;index"`
	ExpiresAt     time.Time  `db:"expires_at"       gorm:"column:expires_at"`
	WaitingForOTP bool       `db:"waiting_for_otp"  gorm:"column:waiting_for_otp;default:false"`
	LastOTPSentAt *time.Time `db:"last_otp_sent_at" gorm:"column:last_otp_sent_at"`
	LastError     string     `db:"last_error"       gorm:"column:last_error"`
	RefreshedBy   int64      `db:"refreshed_by"     gorm:"column:refreshed_by"`
	CreatedAt     time.Time  `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
}

func (CarrierTokenEntity) TableName() string { return "carrier_tokens" }

func toTokenEntity(m *model.CarrierToken) *CarrierTokenEntity {
	if m == nil {
		return nil
	}
	return &CarrierTokenEntity{
		ID:            m.ID,
		Token:         m.Token,
		Source:        string(m.Source),
		Active:        m.Active,
		ExpiresAt:     m.ExpiresAt,
		WaitingForOTP: m.WaitingForOTP,
		LastOTPSentAt: m.LastOTPSentAt,
		LastError:     m.LastError,
		RefreshedBy:   m.RefreshedBy,
		CreatedAt:     m.CreatedAt,
	}
}

func toTokenModel(e *CarrierTokenEntity) *model.CarrierToken {
	if e == nil {
		return nil
	}
	return &model.CarrierToken{
		ID:            e.ID,
		Token:         e.Token,
		Source:        model.TokenSource(e.Source),
		Active:        e.Active,
		ExpiresAt:     e.ExpiresAt,
		WaitingForOTP: e.WaitingForOTP,
		LastOTPSentAt: e.LastOTPSentAt,
		LastError:     e.LastError,
		RefreshedBy:   e.RefreshedBy,
		CreatedAt:     e.CreatedAt,
	}
}

func toTokenModels(entities []*CarrierTokenEntity) []*model.CarrierToken {
	if entities == nil {
		return nil
	}
	models := make([]*model.CarrierToken, len(entities))
	for i, e := range entities {
		models[i] = toTokenModel(e)
	}
	return models
}
