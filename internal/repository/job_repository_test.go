package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(userID int64, priority int) *model.Job {
	return &model.Job{
		UserID:           userID,
		BeneficiaryName:  "Ama Mensah",
		BeneficiaryPhone: "0241234567",
		AmountGB:         2,
		Source:           model.FundingCredit,
		Status:           model.JobStatusPending,
		Priority:         priority,
		MaxAttempts:      model.DefaultMaxAttempts,
	}
}

func TestJobRepository_Create(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewJobRepository(db)
	ctx := context.Background()

	t.Run("create job successfully", func(t *testing.T) {
		created, err := repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.Equal(t, model.JobStatusPending, created.Status)
		assert.Equal(t, 0, created.Attempts)
		assert.NotZero(t, created.CreatedAt)
	})

	t.Run("create batch", func(t *testing.T) {
		jobs := []*model.Job{newTestJob(2, 0), newTestJob(2, 0), newTestJob(2, 0)}
		created, err := repo.CreateBatch(ctx, jobs)
		require.NoError(t, err)
		require.Len(t, created, 3)
		for _, j := range created {
			assert.NotZero(t, j.ID)
		}
	})

	t.Run("create empty batch", func(t *testing.T) {
		created, err := repo.CreateBatch(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, created)
	})
}

func TestJobRepository_ClaimNext(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)
		_, err := repo.ClaimNext(ctx)
		assert.ErrorIs(t, err, ErrNoPendingJobs)
	})

	t.Run("claims oldest first", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)

		first, err := repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
		_, err = repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)

		claimed, err := repo.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.ID, claimed.ID)
		assert.Equal(t, model.JobStatusProcessing, claimed.Status)
		assert.Equal(t, 1, claimed.Attempts)
	})

	t.Run("priority beats age", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)

		_, err := repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
		urgent, err := repo.Create(ctx, newTestJob(1, 5))
		require.NoError(t, err)

		claimed, err := repo.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, urgent.ID, claimed.ID)
	})

	t.Run("claimed job is not claimed again", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)

		_, err := repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)

		_, err = repo.ClaimNext(ctx)
		require.NoError(t, err)

		_, err = repo.ClaimNext(ctx)
		assert.ErrorIs(t, err, ErrNoPendingJobs)
	})
}

func TestJobRepository_ClaimNext_Concurrent(t *testing.T) {
	ctx := context.Background()
	tdb := setupTestDB(t)
	repo := NewJobRepository(tdb.DB)

	// ":memory:" gives every pooled connection its own database; pin the
	// pool to one connection so the claimers race on the same rows.
	sqlDB, err := tdb.rawDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	const jobCount = 5
	for i := 0; i < jobCount; i++ {
		_, err := repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)
	}

	const claimers = 8
	claims := make(chan int64, claimers*jobCount)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := repo.ClaimNext(ctx)
				if err != nil {
					if errors.Is(err, ErrJobClaimConflict) {
						continue
					}
					if !errors.Is(err, ErrNoPendingJobs) {
						t.Errorf("claim: %v", err)
					}
					return
				}
				claims <- job.ID
			}
		}()
	}
	wg.Wait()
	close(claims)

	seen := map[int64]int{}
	for id := range claims {
		seen[id]++
	}
	require.Len(t, seen, jobCount)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "job %d claimed %d times", id, n)
	}

	var entities []JobEntity
	require.NoError(t, tdb.rawDB.Where("status = ?", string(model.JobStatusProcessing)).Find(&entities).Error)
	assert.Len(t, entities, jobCount)
	for _, e := range entities {
		assert.Equal(t, 1, e.Attempts)
	}
}

func TestJobRepository_Terminal(t *testing.T) {
	ctx := context.Background()

	t.Run("mark completed stores result", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)

		job, err := repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)

		res := model.JobResult{Success: true, TransactionID: "ERP1234", StatusCode: 200}
		require.NoError(t, repo.MarkCompleted(ctx, job.ID, res, 42))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, "ERP1234", got.Result.TransactionID)
		require.NotNil(t, got.TransferID)
		assert.Equal(t, int64(42), *got.TransferID)
		assert.NotNil(t, got.ProcessedAt)
	})

	t.Run("mark failed stores error", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)

		job, err := repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)

		res := model.JobResult{Success: false, Message: "recipient not eligible", StatusCode: 400}
		require.NoError(t, repo.MarkFailed(ctx, job.ID, res, "recipient not eligible", nil))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Equal(t, "recipient not eligible", got.Error)
		assert.Nil(t, got.TransferID)
	})

	t.Run("return to pending keeps attempts", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)

		job, err := repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)

		claimed, err := repo.ClaimNext(ctx)
		require.NoError(t, err)
		require.Equal(t, job.ID, claimed.ID)

		require.NoError(t, repo.ReturnToPending(ctx, job.ID, "carrier timeout"))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Equal(t, 1, got.Attempts)
		assert.Equal(t, "carrier timeout", got.Error)
	})

	t.Run("get missing job", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)
		_, err := repo.Get(ctx, 9999)
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestJobRepository_PauseResume(t *testing.T) {
	ctx := context.Background()

	t.Run("pause trigger and pending jobs", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)

		trigger, err := repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)
		_, err = repo.Create(ctx, newTestJob(2, 0))
		require.NoError(t, err)
		_, err = repo.Create(ctx, newTestJob(3, 0))
		require.NoError(t, err)

		claimed, err := repo.ClaimNext(ctx)
		require.NoError(t, err)
		require.Equal(t, trigger.ID, claimed.ID)
		require.Equal(t, 1, claimed.Attempts)

		paused, err := repo.PauseForToken(ctx, trigger.ID, "token expired")
		require.NoError(t, err)
		assert.Equal(t, int64(3), paused)

		// The trigger's attempt is rolled back: a dead token is not the
		// job's fault.
		got, err := repo.Get(ctx, trigger.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPaused, got.Status)
		assert.Equal(t, 0, got.Attempts)

		count, err := repo.CountPaused(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("resume moves all paused back", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)

		trigger, err := repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)
		_, err = repo.Create(ctx, newTestJob(1, 0))
		require.NoError(t, err)

		_, err = repo.ClaimNext(ctx)
		require.NoError(t, err)
		_, err = repo.PauseForToken(ctx, trigger.ID, "token expired")
		require.NoError(t, err)

		resumed, err := repo.ResumePaused(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), resumed)

		pending, err := repo.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), pending)
	})

	t.Run("resume with nothing paused", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)
		resumed, err := repo.ResumePaused(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), resumed)
	})
}

func TestJobRepository_RetryAndCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("retry failed resets attempts", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)

		job, err := repo.Create(ctx, newTestJob(7, 0))
		require.NoError(t, err)
		_, err = repo.ClaimNext(ctx)
		require.NoError(t, err)
		require.NoError(t, repo.MarkFailed(ctx, job.ID, model.JobResult{}, "boom", nil))

		n, err := repo.RetryFailed(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Equal(t, 0, got.Attempts)
	})

	t.Run("cancel pending only touches pending", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t).DB)

		done, err := repo.Create(ctx, newTestJob(7, 0))
		require.NoError(t, err)
		_, err = repo.ClaimNext(ctx)
		require.NoError(t, err)
		require.NoError(t, repo.MarkCompleted(ctx, done.ID, model.JobResult{Success: true}, 1))

		waiting, err := repo.Create(ctx, newTestJob(7, 0))
		require.NoError(t, err)

		n, err := repo.CancelPending(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.Get(ctx, waiting.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Equal(t, "Cancelled by user", got.Error)

		got, err = repo.Get(ctx, done.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
	})
}

func TestJobRepository_SweepStaleProcessing(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewJobRepository(db)
	ctx := context.Background()

	job, err := repo.Create(ctx, newTestJob(1, 0))
	require.NoError(t, err)
	_, err = repo.ClaimNext(ctx)
	require.NoError(t, err)

	t.Run("fresh processing job is left alone", func(t *testing.T) {
		n, err := repo.SweepStaleProcessing(ctx, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("stale processing job is requeued", func(t *testing.T) {
		time.Sleep(50 * time.Millisecond)
		n, err := repo.SweepStaleProcessing(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
	})
}

func TestJobRepository_Status(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewJobRepository(db)
	ctx := context.Background()

	userID := int64(42)
	a, err := repo.Create(ctx, newTestJob(userID, 0))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newTestJob(userID, 0))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newTestJob(99, 0))
	require.NoError(t, err)

	_, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.MarkCompleted(ctx, a.ID, model.JobResult{Success: true}, 1))

	status, err := repo.Status(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Pending)
	assert.Equal(t, int64(1), status.Completed)
	assert.Equal(t, int64(2), status.Total)
}

func TestJobRepository_List(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewJobRepository(db)
	ctx := context.Background()

	userID := int64(5)
	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, newTestJob(userID, 0))
		require.NoError(t, err)
	}

	t.Run("filter by user", func(t *testing.T) {
		jobs, total, err := repo.List(ctx, model.JobFilter{UserID: &userID, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		assert.Len(t, jobs, 5)
	})

	t.Run("pagination", func(t *testing.T) {
		jobs, total, err := repo.List(ctx, model.JobFilter{UserID: &userID, Limit: 2, Offset: 4})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		assert.Len(t, jobs, 1)
	})

	t.Run("filter by status", func(t *testing.T) {
		status := model.JobStatusFailed
		jobs, total, err := repo.List(ctx, model.JobFilter{UserID: &userID, Status: &status, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
		assert.Len(t, jobs, 0)
	})
}
