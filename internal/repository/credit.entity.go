package repository

import (
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
)

type CreditParcelEntity struct {
	ID           int64     `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	UserID       int64     `db:"user_id"      gorm:"column:user_id;not null;index"`
	Denomination string    `db:"denomination" gorm:"column:denomination;not null;default:gb"`
	Amount       float64   `db:"amount"       gorm:"column:amount;not null"`
	Remaining    float64   `db:"remaining"    gorm:"column:remaining;not null"`
	Used         float64   `db:"used"         gorm:"column:used;not null;default:0"`
	Status       string    `db:"status"       gorm:"column:status;not null;default:active;index"`
	GrantedBy    int64     `db:"granted_by"   gorm:"column:granted_by"`
	Note         string    `db:"note"         gorm:"column:note"`
	CreatedAt    time.Time `db:"created_at"   gorm:"column:created_at;autoCreateTime"`
}

func (CreditParcelEntity) TableName() string { return "credit_parcels" }

type LedgerEntryEntity struct {
	ID            int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	UserID        int64     `db:"user_id"         gorm:"column:user_id;not null;index"`
	Type          string    `db:"type"            gorm:"column:type;not null"`
	Denomination  string    `db:"denomination"    gorm:"column:denomination;not null;default:gb"`
	Amount        float64   `db:"amount"          gorm:"column:amount;not null"`
	BalanceBefore float64   `db:"balance_before"  gorm:"column:balance_before;not null"`
	BalanceAfter  float64   `db:"balance_after"   gorm:"column:balance_after;not null"`
	PerformedBy   int64     `db:"performed_by"    gorm:"column:performed_by"`
	Note          string    `db:"note"            gorm:"column:note"`
	DataRequestID *int64    `db:"data_request_id" gorm:"column:data_request_id;index"`
	ParcelID      *int64    `db:"parcel_id"       gorm:"column:parcel_id;index"`
	CreatedAt     time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEntryEntity) TableName() string { return "ledger_entries" }

func toParcelEntity(m *model.CreditParcel) *CreditParcelEntity {
	if m == nil {
		return nil
	}
	return &CreditParcelEntity{
		ID:           m.ID,
		UserID:       m.UserID,
		Denomination: string(m.Denomination),
		Amount:       m.Amount,
		Remaining:    m.Remaining,
		Used:         m.Used,
		Status:       string(m.Status),
		GrantedBy:    m.GrantedBy,
		Note:         m.Note,
		CreatedAt:    m.CreatedAt,
	}
}

func toParcelModel(e *CreditParcelEntity) *model.CreditParcel {
	if e == nil {
		return nil
	}
	return &model.CreditParcel{
		ID:           e.ID,
		UserID:       e.UserID,
		Denomination: model.Denomination(e.Denomination),
		Amount:       e.Amount,
		Remaining:    e.Remaining,
		Used:         e.Used,
		Status:       model.ParcelStatus(e.Status),
		GrantedBy:    e.GrantedBy,
		Note:         e.Note,
		CreatedAt:    e.CreatedAt,
	}
}

func toParcelModels(entities []*CreditParcelEntity) []*model.CreditParcel {
	if entities == nil {
		return nil
	}
	models := make([]*model.CreditParcel, len(entities))
	for i, e := range entities {
		models[i] = toParcelModel(e)
	}
	return models
}

func toLedgerEntryEntity(m *model.LedgerEntry) *LedgerEntryEntity {
	if m == nil {
		return nil
	}
	return &LedgerEntryEntity{
		ID:            m.ID,
		UserID:        m.UserID,
		Type:          string(m.Type),
		Denomination:  string(m.Denomination),
		Amount:        m.Amount,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		PerformedBy:   m.PerformedBy,
		Note:          m.Note,
		DataRequestID: m.DataRequestID,
		ParcelID:      m.ParcelID,
		CreatedAt:     m.CreatedAt,
	}
}

func toLedgerEntryModel(e *LedgerEntryEntity) *model.LedgerEntry {
	if e == nil {
		return nil
	}
	return &model.LedgerEntry{
		ID:            e.ID,
		UserID:        e.UserID,
		Type:          model.EntryType(e.Type),
		Denomination:  model.Denomination(e.Denomination),
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		PerformedBy:   e.PerformedBy,
		Note:          e.Note,
		DataRequestID: e.DataRequestID,
		ParcelID:      e.ParcelID,
		CreatedAt:     e.CreatedAt,
	}
}

func toLedgerEntryModels(entities []*LedgerEntryEntity) []*model.LedgerEntry {
	if entities == nil {
		return nil
	}
	models := make([]*model.LedgerEntry, len(entities))
	for i, e := range entities {
		models[i] = toLedgerEntryModel(e)
	}
	return models
}
