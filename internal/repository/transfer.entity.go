package repository

import (
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
)

type TransferEntity struct {
	ID               int64     `db:"id"                 gorm:"primaryKey;autoIncrement;column:id"`
	UserID           int64     `db:"user_id"            gorm:"column:user_id;not null;index"`
	SubscriptionID   *int64    `db:"subscription_id"    gorm:"column:subscription_id;index"`
	BeneficiaryName  string    `db:"beneficiary_name"   gorm:"column:beneficiary_name"`
	BeneficiaryPhone string    `db:"beneficiary_phone"  gorm:"column:beneficiary_phone;not null"`
	AmountGB         float64   `db:"amount_gb"          gorm:"column:amount_gb;not null"`
	TransactionID    string    `db:"transaction_id"     gorm:"column:transaction_id;not null;index"`
	Status           string    `db:"status"             gorm:"column:status;not null"`
	Source           string    `db:"source"             gorm:"column:source;not null;default:subscription"`
	CarrierResponse  string    `db:"carrier_response"   gorm:"column:carrier_response"`
	ErrorMessage     string    `db:"error_message"      gorm:"column:error_message"`
	RequiresNewToken bool      `db:"requires_new_token" gorm:"column:requires_new_token;default:false"`
	CreatedAt        time.Time `db:"created_at"         gorm:"column:created_at;autoCreateTime"`
}

func (TransferEntity) TableName() string { return "transfers" }

func toTransferEntity(m *model.TransferRecord) *TransferEntity {
	if m == nil {
		return nil
	}
	return &TransferEntity{
		ID:               m.ID,
		UserID:           m.UserID,
		SubscriptionID:   m.SubscriptionID,
		BeneficiaryName:  m.BeneficiaryName,
		BeneficiaryPhone: m.BeneficiaryPhone,
		AmountGB:         m.AmountGB,
		TransactionID:    m.TransactionID,
		Status:           string(m.Status),
		Source:           string(m.Source),
		CarrierResponse:  m.CarrierResponse,
		ErrorMessage:     m.ErrorMessage,
		RequiresNewToken: m.RequiresNewToken,
		CreatedAt:        m.CreatedAt,
	}
}

func toTransferModel(e *TransferEntity) *model.TransferRecord {
	if e == nil {
		return nil
	}
	return &model.TransferRecord{
		ID:               e.ID,
		UserID:           e.UserID,
		SubscriptionID:   e.SubscriptionID,
		BeneficiaryName:  e.BeneficiaryName,
		BeneficiaryPhone: e.BeneficiaryPhone,
		AmountGB:         e.AmountGB,
		TransactionID:    e.TransactionID,
		Status:           model.TransferStatus(e.Status),
		Source:           model.FundingSource(e.Source),
		CarrierResponse:  e.CarrierResponse,
		ErrorMessage:     e.ErrorMessage,
		RequiresNewToken: e.RequiresNewToken,
		CreatedAt:        e.CreatedAt,
	}
}

func toTransferModels(entities []*TransferEntity) []*model.TransferRecord {
	if entities == nil {
		return nil
	}
	models := make([]*model.TransferRecord, len(entities))
	for i, e := range entities {
		models[i] = toTransferModel(e)
	}
	return models
}
