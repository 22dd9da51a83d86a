package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrNoPendingJobs is returned by ClaimNext when the queue is drained.
	ErrNoPendingJobs = errors.New("no pending jobs")
	// ErrJobClaimConflict is returned when another claim won the race.
	ErrJobClaimConflict = errors.New("job already claimed")
	ErrJobNotFound      = errors.New("job not found")
)

type JobRepository struct {
	*pg.DB
}

func NewJobRepository(db *pg.DB) *JobRepository {
	return &JobRepository{
		db,
	}
}

func (r *JobRepository) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	entity := toJobEntity(job)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toJobModel(entity), nil
}

// CreateBatch inserts all jobs in one statement; all start pending.
func (r *JobRepository) CreateBatch(ctx context.Context, jobs []*model.Job) ([]*model.Job, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	entities := make([]*JobEntity, len(jobs))
	for i, j := range jobs {
		entities[i] = toJobEntity(j)
	}

	if err := r.Write(ctx).WithContext(ctx).Create(&entities).Error; err != nil {
		return nil, err
	}

	return toJobModels(entities), nil
}

func (r *JobRepository) Get(ctx context.Context, id int64) (*model.Job, error) {
	var entity JobEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return toJobModel(&entity), nil
}

// ClaimNext atomically flips the oldest highest-priority pending job to
// processing and increments its attempt counter in the same step, so two
// overlapping poll ticks can never claim the same job. Returns
// ErrNoPendingJobs when the queue is empty.
func (r *JobRepository) ClaimNext(ctx context.Context) (*model.Job, error) {
	var claimed *model.Job

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		var entity JobEntity
		err := r.Write(ctx).WithContext(ctx).
			Where("status = ?", string(model.JobStatusPending)).
			Order("priority DESC, created_at ASC, id ASC").
			First(&entity).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoPendingJobs
			}
			return err
		}

		// Guarded update: only wins if the row is still pending.
		result := r.Write(ctx).WithContext(ctx).
			Model(&JobEntity{}).
			Where("id = ? AND status = ?", entity.ID, string(model.JobStatusPending)).
			Updates(map[string]interface{}{
				"status":   string(model.JobStatusProcessing),
				"attempts": gorm.Expr("attempts + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrJobClaimConflict
		}

		entity.Status = string(model.JobStatusProcessing)
		entity.Attempts++
		claimed = toJobModel(&entity)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// MarkCompleted finalizes a successful job with its result payload.
func (r *JobRepository) MarkCompleted(ctx context.Context, id int64, res model.JobResult, transferID int64) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	now := time.Now()

	return r.Write(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       string(model.JobStatusCompleted),
			"result":       string(raw),
			"error":        "",
			"transfer_id":  transferID,
			"processed_at": now,
		}).Error
}

// MarkFailed finalizes a terminally failed job.
func (r *JobRepository) MarkFailed(ctx context.Context, id int64, res model.JobResult, errMsg string, transferID *int64) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	now := time.Now()

	updates := map[string]interface{}{
		"status":       string(model.JobStatusFailed),
		"result":       string(raw),
		"error":        errMsg,
		"processed_at": now,
	}
	if transferID != nil {
		updates["transfer_id"] = *transferID
	}

	return r.Write(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ReturnToPending puts a processing job back for a later retry. The
// attempt already counted during the claim stays counted.
func (r *JobRepository) ReturnToPending(ctx context.Context, id int64, errMsg string) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status": string(model.JobStatusPending),
			"error":  errMsg,
		}).Error
}

// PauseForToken pauses the job that hit an invalid token plus every
// other pending job, in one transaction. The triggering job's attempt
// counter is rolled back: a token failure does not count as an attempt.
// Returns the total number of paused jobs.
func (r *JobRepository) PauseForToken(ctx context.Context, triggerID int64, reason string) (int64, error) {
	var paused int64

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		result := r.Write(ctx).WithContext(ctx).
			Model(&JobEntity{}).
			Where("id = ?", triggerID).
			Updates(map[string]interface{}{
				"status":   string(model.JobStatusPaused),
				"attempts": gorm.Expr("CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END"),
				"error":    reason,
			})
		if result.Error != nil {
			return result.Error
		}
		paused = result.RowsAffected

		result = r.Write(ctx).WithContext(ctx).
			Model(&JobEntity{}).
			Where("status = ?", string(model.JobStatusPending)).
			Updates(map[string]interface{}{
				"status": string(model.JobStatusPaused),
				"error":  reason,
			})
		if result.Error != nil {
			return result.Error
		}
		paused += result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	return paused, nil
}

// ResumePaused moves every paused job back to pending in one batch.
func (r *JobRepository) ResumePaused(ctx context.Context) (int64, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("status = ?", string(model.JobStatusPaused)).
		Updates(map[string]interface{}{
			"status": string(model.JobStatusPending),
			"error":  "",
		})
	return result.RowsAffected, result.Error
}

// RetryFailed requeues all failed jobs for a user with attempts reset.
func (r *JobRepository) RetryFailed(ctx context.Context, userID int64) (int64, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("user_id = ? AND status = ?", userID, string(model.JobStatusFailed)).
		Updates(map[string]interface{}{
			"status":   string(model.JobStatusPending),
			"attempts": 0,
			"error":    "",
		})
	return result.RowsAffected, result.Error
}

// CancelPending force-fails all pending jobs for a user. Nothing was
// debited for a pending job, so no refund is involved.
func (r *JobRepository) CancelPending(ctx context.Context, userID int64) (int64, error) {
	now := time.Now()
	result := r.Write(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("user_id = ? AND status = ?", userID, string(model.JobStatusPending)).
		Updates(map[string]interface{}{
			"status":       string(model.JobStatusFailed),
			"error":        "Cancelled by user",
			"processed_at": now,
		})
	return result.RowsAffected, result.Error
}

// SweepStaleProcessing requeues processing jobs older than the threshold.
// Run once on worker startup so a crash mid-job does not strand the row.
func (r *JobRepository) SweepStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := r.Write(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("status = ? AND updated_at < ?", string(model.JobStatusProcessing), cutoff).
		Updates(map[string]interface{}{
			"status": string(model.JobStatusPending),
			"error":  "requeued after worker restart",
		})
	return result.RowsAffected, result.Error
}

// Cleanup deletes terminal jobs whose processing finished before the
// cutoff.
func (r *JobRepository) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := r.Write(ctx).WithContext(ctx).
		Where("status IN ? AND processed_at < ?",
			[]string{string(model.JobStatusCompleted), string(model.JobStatusFailed)}, cutoff).
		Delete(&JobEntity{})
	return result.RowsAffected, result.Error
}

func (r *JobRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("status = ?", string(model.JobStatusPending)).
		Count(&count).Error
	return count, err
}

func (r *JobRepository) CountPaused(ctx context.Context) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Where("status = ?", string(model.JobStatusPaused)).
		Count(&count).Error
	return count, err
}

// Status returns the per-user count breakdown across all states.
func (r *JobRepository) Status(ctx context.Context, userID int64) (*model.QueueStatus, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := r.Read(ctx).WithContext(ctx).
		Model(&JobEntity{}).
		Select("status, COUNT(*) AS n").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	s := &model.QueueStatus{}
	for _, rw := range rows {
		switch model.JobStatus(rw.Status) {
		case model.JobStatusPending:
			s.Pending = rw.N
		case model.JobStatusProcessing:
			s.Processing = rw.N
		case model.JobStatusCompleted:
			s.Completed = rw.N
		case model.JobStatusFailed:
			s.Failed = rw.N
		case model.JobStatusPaused:
			s.Paused = rw.N
		}
		s.Total += rw.N
	}
	return s, nil
}

func (r *JobRepository) List(ctx context.Context, f model.JobFilter) ([]*model.Job, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&JobEntity{})

	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*JobEntity
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toJobModels(entities), total, nil
}
