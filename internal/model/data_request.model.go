package model

import "time"

type DataRequestStatus string

const (
	DataRequestPending   DataRequestStatus = "pending"
	DataRequestCompleted DataRequestStatus = "completed"
	DataRequestFailed    DataRequestStatus = "failed"
)

// DataRequest is the higher-level request record a job may be linked to.
// The dashboard owns its lifecycle; the queue only flips it to completed
// or failed when the linked job finishes.
type DataRequest struct {
	ID         int64             `json:"id"`
	UserID     int64             `json:"user_id"`
	Status     DataRequestStatus `json:"status"`
	TransferID *int64            `json:"transfer_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
