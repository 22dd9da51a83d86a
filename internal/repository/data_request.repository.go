package repository

import (
	"context"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/pkg/pg"
)

type DataRequestEntity struct {
	ID         int64     `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	UserID     int64     `db:"user_id"     gorm:"column:user_id;not null;index"`
	Status     string    `db:"status"      gorm:"column:status;not null;default:pending"`
	TransferID *int64    `db:"transfer_id" gorm:"column:transfer_id"`
	CreatedAt  time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (DataRequestEntity) TableName() string { return "data_requests" }

// DataRequestRepository is the queue's narrow view of the dashboard's
// request records: it only flips them to a terminal state.
type DataRequestRepository struct {
	*pg.DB
}

func NewDataRequestRepository(db *pg.DB) *DataRequestRepository {
	return &DataRequestRepository{
		db,
	}
}

func (r *DataRequestRepository) MarkCompleted(ctx context.Context, id int64, transferID int64) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&DataRequestEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      string(model.DataRequestCompleted),
			"transfer_id": transferID,
		}).Error
}

func (r *DataRequestRepository) MarkFailed(ctx context.Context, id int64) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&DataRequestEntity{}).
		Where("id = ?", id).
		Update("status", string(model.DataRequestFailed)).Error
}
