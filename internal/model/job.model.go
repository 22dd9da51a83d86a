package model

import (
	"errors"
	"time"
)

// JobStatus is the lifecycle state of a queued transfer job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	// JobStatusPaused is entered only while the carrier token is invalid
	// and is fully reversible back to pending.
	JobStatusPaused JobStatus = "paused"
)

// FundingSource says which balance a job draws from.
type FundingSource string

const (
	FundingSubscription FundingSource = "subscription"
	FundingCredit       FundingSource = "credit"
)

const DefaultMaxAttempts = 2

// JobResult is the outcome payload stored on a terminal job.
type JobResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
	StatusCode    int    `json:"status_code,omitempty"`
}

type Job struct {
	ID               int64         `json:"id"`
	UserID           int64         `json:"user_id"`
	SubscriptionID   *int64        `json:"subscription_id,omitempty"`
	DataRequestID    *int64        `json:"data_request_id,omitempty"`
	BeneficiaryName  string        `json:"beneficiary_name"`
	BeneficiaryPhone string        `json:"beneficiary_phone"`
	AmountGB         float64       `json:"amount_gb"`
	Source           FundingSource `json:"source"`
	// RefundGHS is set on ghs-funded jobs so a terminal failure refunds
	// the currency amount originally debited, not the data amount.
	RefundGHS   float64    `json:"refund_ghs,omitempty"`
	Status      JobStatus  `json:"status"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Error       string     `json:"error,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	TransferID  *int64     `json:"transfer_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// JobCreateRequest is the input for enqueueing one transfer.
type JobCreateRequest struct {
	UserID           int64
	SubscriptionID   *int64
	DataRequestID    *int64
	BeneficiaryName  string
	BeneficiaryPhone string
	AmountGB         float64
	Source           FundingSource
	RefundGHS        float64
	Priority         int
}

func (p JobCreateRequest) Validate() error {
	if p.UserID == 0 {
		return errors.New("user_id is required")
	}
	if p.BeneficiaryPhone == "" {
		return errors.New("beneficiary_phone is required")
	}
	if p.AmountGB <= 0 {
		return errors.New("amount_gb must be greater than 0")
	}
	switch p.Source {
	case FundingSubscription, FundingCredit:
	default:
		return errors.New("source must be subscription or credit")
	}
	if p.Source == FundingSubscription && p.SubscriptionID == nil {
		return errors.New("subscription_id is required for subscription-funded jobs")
	}
	return nil
}

// JobFilter controls List queries.
type JobFilter struct {
	UserID *int64
	Status *JobStatus
	Limit  int // default 20
	Offset int
}

// QueueStatus is the per-user job count breakdown.
type QueueStatus struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Paused     int64 `json:"paused"`
	Total      int64 `json:"total"`
}
