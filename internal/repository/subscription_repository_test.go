package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(userID int64, totalGB float64, expiresAt time.Time) *model.SubscriptionPool {
	return &model.SubscriptionPool{
		UserID:      userID,
		PackageName: "Business 100GB",
		TotalGB:     totalGB,
		RemainingGB: totalGB,
		UsedGB:      0,
		Status:      model.SubscriptionActive,
		ExpiresAt:   expiresAt,
	}
}

func TestSubscriptionRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("get active pool", func(t *testing.T) {
		repo := NewSubscriptionRepository(setupTestDB(t).DB)

		created, err := repo.Create(ctx, newTestPool(1, 100, time.Now().Add(24*time.Hour)))
		require.NoError(t, err)

		got, err := repo.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionActive, got.Status)
		assert.Equal(t, float64(100), got.RemainingGB)
	})

	t.Run("expired pool flips on read", func(t *testing.T) {
		repo := NewSubscriptionRepository(setupTestDB(t).DB)

		created, err := repo.Create(ctx, newTestPool(1, 100, time.Now().Add(-time.Hour)))
		require.NoError(t, err)

		got, err := repo.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SubscriptionExpired, got.Status)
	})

	t.Run("missing pool", func(t *testing.T) {
		repo := NewSubscriptionRepository(setupTestDB(t).DB)
		_, err := repo.Get(ctx, 9999)
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})

	t.Run("get active by user picks newest", func(t *testing.T) {
		repo := NewSubscriptionRepository(setupTestDB(t).DB)

		_, err := repo.Create(ctx, newTestPool(3, 50, time.Now().Add(24*time.Hour)))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
		newer, err := repo.Create(ctx, newTestPool(3, 100, time.Now().Add(24*time.Hour)))
		require.NoError(t, err)

		got, err := repo.GetActiveByUser(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID)
	})
}

func TestSubscriptionRepository_Debit(t *testing.T) {
	ctx := context.Background()

	t.Run("debit preserves the balance identity", func(t *testing.T) {
		repo := NewSubscriptionRepository(setupTestDB(t).DB)

		pool, err := repo.Create(ctx, newTestPool(1, 10, time.Now().Add(24*time.Hour)))
		require.NoError(t, err)

		require.NoError(t, repo.Debit(ctx, pool.ID, 4))

		got, err := repo.Get(ctx, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, float64(6), got.RemainingGB)
		assert.Equal(t, float64(4), got.UsedGB)
		assert.Equal(t, got.TotalGB, got.RemainingGB+got.UsedGB)
	})

	t.Run("overdraw is rejected and balance untouched", func(t *testing.T) {
		repo := NewSubscriptionRepository(setupTestDB(t).DB)

		pool, err := repo.Create(ctx, newTestPool(1, 10, time.Now().Add(24*time.Hour)))
		require.NoError(t, err)
		require.NoError(t, repo.Debit(ctx, pool.ID, 5))

		err = repo.Debit(ctx, pool.ID, 6)
		assert.ErrorIs(t, err, ErrInsufficientPool)

		got, err := repo.Get(ctx, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, float64(5), got.RemainingGB)
	})

	t.Run("debit on expired pool fails", func(t *testing.T) {
		repo := NewSubscriptionRepository(setupTestDB(t).DB)

		pool, err := repo.Create(ctx, newTestPool(1, 10, time.Now().Add(-time.Hour)))
		require.NoError(t, err)

		// Reading first flips it to expired, then the status guard blocks
		// the debit.
		_, err = repo.Get(ctx, pool.ID)
		require.NoError(t, err)

		err = repo.Debit(ctx, pool.ID, 1)
		assert.ErrorIs(t, err, ErrInsufficientPool)
	})

	t.Run("debit on missing pool", func(t *testing.T) {
		repo := NewSubscriptionRepository(setupTestDB(t).DB)
		err := repo.Debit(ctx, 9999, 1)
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})
}

func TestSubscriptionRepository_SyncBalance(t *testing.T) {
	repo := NewSubscriptionRepository(setupTestDB(t).DB)
	ctx := context.Background()

	pool, err := repo.Create(ctx, newTestPool(1, 100, time.Now().Add(24*time.Hour)))
	require.NoError(t, err)

	require.NoError(t, repo.SyncBalance(ctx, pool.ID, 100, 73.5, 26.5))

	got, err := repo.Get(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 73.5, got.RemainingGB)
	assert.Equal(t, 26.5, got.UsedGB)
}
