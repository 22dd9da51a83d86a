package model

import "time"

// Denomination of a credit parcel. A user holds parcels of exactly one
// denomination at a time, never both.
type Denomination string

const (
	DenomGB  Denomination = "gb"
	DenomGHS Denomination = "ghs"
)

type ParcelStatus string

const (
	ParcelActive   ParcelStatus = "active"
	ParcelDepleted ParcelStatus = "depleted"
	ParcelExpired  ParcelStatus = "expired"
)

// CreditParcel is one unit of a user's prepaid balance, consumed
// oldest-first. The aggregate balance is the sum of active parcels'
// remaining amounts.
type CreditParcel struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"user_id"`
	Denomination Denomination `json:"denomination"`
	Amount       float64      `json:"amount"`
	Remaining    float64      `json:"remaining"`
	Used         float64      `json:"used"`
	Status       ParcelStatus `json:"status"`
	GrantedBy    int64        `json:"granted_by"`
	Note         string       `json:"note,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
