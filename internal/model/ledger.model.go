package model

import "time"

type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
	EntryRefund EntryType = "refund"
)

// LedgerEntry is an immutable audit record of one credit/debit/refund.
// Entries are append-only and never mutated after creation.
type LedgerEntry struct {
	ID            int64        `json:"id"`
	UserID        int64        `json:"user_id"`
	Type          EntryType    `json:"type"`
	Denomination  Denomination `json:"denomination"`
	Amount        float64      `json:"amount"`
	BalanceBefore float64      `json:"balance_before"`
	BalanceAfter  float64      `json:"balance_after"`
	PerformedBy   int64        `json:"performed_by"`
	Note          string       `json:"note,omitempty"`
	DataRequestID *int64       `json:"data_request_id,omitempty"`
	ParcelID      *int64       `json:"parcel_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// LedgerFilter controls entry history queries.
type LedgerFilter struct {
	UserID       *int64
	Type         *EntryType
	Denomination *Denomination
	Limit        int // default 20
	Offset       int
	Desc         bool
}
