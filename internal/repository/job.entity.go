package repository

import (
	"encoding/json"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
)

type JobEntity struct {
	ID               int64      `db:"id"                gorm:"primaryKey;autoIncrement;column:id"`
	UserID           int64      `db:"user_id"           gorm:"column:user_id;not null;index"`
	SubscriptionID   *int64     `db:"subscription_id"   gorm:"column:subscription_id;index"`
	DataRequestID    *int64     `db:"data_request_id"   gorm:"column:data_request_id;index"`
	BeneficiaryName  string     `db:"beneficiary_name"  gorm:"column:beneficiary_name"`
	BeneficiaryPhone string     `db:"beneficiary_phone" gorm:"column:beneficiary_phone;not null"`
	AmountGB         float64    `db:"amount_gb"         gorm:"column:amount_gb;not null"`
	Source           string     `db:"source"            gorm:"column:source;not null;default:subscription"`
	RefundGHS        float64    `db:"refund_ghs"        gorm:"column:refund_ghs;default:0"`
	Status           string     `db:"status"            gorm:"column:status;not null;default:pending;index"`
	Priority         int        `db:"priority"          gorm:"column:priority;not null;default:0"`
	Attempts         int        `db:"attempts"          gorm:"column:attempts;not null;default:0"`
	MaxAttempts      int        `db:"max_attempts"      gorm:"column:max_attempts;not null;default:2"`
	Error            string     `db:"error"             gorm:"column:error"`
	Result           *string    `db:"result"            gorm:"column:result"`
	TransferID       *int64     `db:"transfer_id"       gorm:"column:transfer_id;index"`
	CreatedAt        time.Time  `db:"created_at"        gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `db:"updated_at"        gorm:"column:updated_at;autoUpdateTime"`
	ProcessedAt      *time.Time `db:"processed_at"      gorm:"column:processed_at"`
}

func (JobEntity) TableName() string { return "jobs" }

func toJobEntity(m *model.Job) *JobEntity {
	if m == nil {
		return nil
	}
	e := &JobEntity{
		ID:               m.ID,
		UserID:           m.UserID,
		SubscriptionID:   m.SubscriptionID,
		DataRequestID:    m.DataRequestID,
		BeneficiaryName:  m.BeneficiaryName,
		BeneficiaryPhone: m.BeneficiaryPhone,
		AmountGB:         m.AmountGB,
		Source:           string(m.Source),
		RefundGHS:        m.RefundGHS,
		Status:           string(m.Status),
		Priority:         m.Priority,
		Attempts:         m.Attempts,
		MaxAttempts:      m.MaxAttempts,
		Error:            m.Error,
		TransferID:       m.TransferID,
		CreatedAt:        m.CreatedAt,
		ProcessedAt:      m.ProcessedAt,
	}
	if m.Result != nil {
		if b, err := json.Marshal(m.Result); err == nil {
			s := string(b)
			e.Result = &s
		}
	}
	return e
}

func toJobModel(e *JobEntity) *model.Job {
	if e == nil {
		return nil
	}
	m := &model.Job{
		ID:               e.ID,
		UserID:           e.UserID,
		SubscriptionID:   e.SubscriptionID,
		DataRequestID:    e.DataRequestID,
		BeneficiaryName:  e.BeneficiaryName,
		BeneficiaryPhone: e.BeneficiaryPhone,
		AmountGB:         e.AmountGB,
		Source:           model.FundingSource(e.Source),
		RefundGHS:        e.RefundGHS,
		Status:           model.JobStatus(e.Status),
		Priority:         e.Priority,
		Attempts:         e.Attempts,
		MaxAttempts:      e.MaxAttempts,
		Error:            e.Error,
		TransferID:       e.TransferID,
		CreatedAt:        e.CreatedAt,
		ProcessedAt:      e.ProcessedAt,
	}
	if e.Result != nil && *e.Result != "" {
		var r model.JobResult
		if err := json.Unmarshal([]byte(*e.Result), &r); err == nil {
			m.Result = &r
		}
	}
	return m
}

func toJobModels(entities []*JobEntity) []*model.Job {
	if entities == nil {
		return nil
	}
	models := make([]*model.Job, len(entities))
	for i, e := range entities {
		models[i] = toJobModel(e)
	}
	return models
}
