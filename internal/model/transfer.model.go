package model

import "time"

type TransferStatus string

const (
	TransferSuccess TransferStatus = "success"
	TransferFailed  TransferStatus = "failed"
)

// TransferRecord is the immutable record of one attempted carrier call,
// success or not. One record is written per attempt; the only exception
// is the token-expiry path, where the attempt never meaningfully reached
// the carrier and the record is discarded before the job pauses.
type TransferRecord struct {
	ID               int64          `json:"id"`
	UserID           int64          `json:"user_id"`
	SubscriptionID   *int64         `json:"subscription_id,omitempty"`
	BeneficiaryName  string         `json:"beneficiary_name"`
	BeneficiaryPhone string         `json:"beneficiary_phone"`
	AmountGB         float64        `json:"amount_gb"`
	TransactionID    string         `json:"transaction_id"`
	Status           TransferStatus `json:"status"`
	Source           FundingSource  `json:"source"`
	CarrierResponse  string         `json:"carrier_response,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	RequiresNewToken bool           `json:"requires_new_token,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// TransferFilter controls transfer history queries.
type TransferFilter struct {
	UserID *int64
	Status *TransferStatus
	Limit  int
	Offset int
}
