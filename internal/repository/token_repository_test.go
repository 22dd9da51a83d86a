package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRepository_Activate(t *testing.T) {
	ctx := context.Background()

	t.Run("activating a token deactivates the rest", func(t *testing.T) {
		repo := NewTokenRepository(setupTestDB(t).DB)

		first, err := repo.Activate(ctx, &model.CarrierToken{
			Token:     "tok-1",
			Source:    model.TokenSourceLogin,
			ExpiresAt: time.Now().Add(12 * time.Hour),
		})
		require.NoError(t, err)
		assert.True(t, first.Active)
		time.Sleep(10 * time.Millisecond)

		second, err := repo.Activate(ctx, &model.CarrierToken{
			Token:     "tok-2",
			Source:    model.TokenSourceManual,
			ExpiresAt: time.Now().Add(12 * time.Hour),
		})
		require.NoError(t, err)

		active, err := repo.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)
		assert.Equal(t, "tok-2", active.Token)

		history, err := repo.History(ctx, 10)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.False(t, history[1].Active)
	})
}

func TestTokenRepository_Active(t *testing.T) {
	ctx := context.Background()

	t.Run("no token at all", func(t *testing.T) {
		repo := NewTokenRepository(setupTestDB(t).DB)
		_, err := repo.Active(ctx)
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("expired token is not active", func(t *testing.T) {
		repo := NewTokenRepository(setupTestDB(t).DB)

		_, err := repo.Activate(ctx, &model.CarrierToken{
			Token:     "tok-expired",
			Source:    model.TokenSourceLogin,
			ExpiresAt: time.Now().Add(-time.Hour),
		})
		require.NoError(t, err)

		_, err = repo.Active(ctx)
		assert.ErrorIs(t, err, ErrTokenNotFound)

		// But the status endpoint can still see it.
		got, err := repo.NewestActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok-expired", got.Token)
	})

	t.Run("newest falls back across inactive tokens", func(t *testing.T) {
		repo := NewTokenRepository(setupTestDB(t).DB)

		_, err := repo.Activate(ctx, &model.CarrierToken{
			Token:     "tok-old",
			Source:    model.TokenSourceLogin,
			ExpiresAt: time.Now().Add(12 * time.Hour),
		})
		require.NoError(t, err)
		require.NoError(t, repo.DeactivateAll(ctx, "401 from carrier"))

		got, err := repo.Newest(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok-old", got.Token)
		assert.False(t, got.Active)
		assert.Equal(t, "401 from carrier", got.LastError)
	})
}

func TestTokenRepository_OTPFlags(t *testing.T) {
	repo := NewTokenRepository(setupTestDB(t).DB)
	ctx := context.Background()

	_, err := repo.Activate(ctx, &model.CarrierToken{
		Token:     "tok-1",
		Source:    model.TokenSourceLogin,
		ExpiresAt: time.Now().Add(12 * time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, repo.MarkOTPRequested(ctx))

	got, err := repo.NewestActive(ctx)
	require.NoError(t, err)
	assert.True(t, got.WaitingForOTP)
	assert.NotNil(t, got.LastOTPSentAt)

	require.NoError(t, repo.SetLastError(ctx, "invalid otp"))

	got, err = repo.NewestActive(ctx)
	require.NoError(t, err)
	assert.False(t, got.WaitingForOTP)
	assert.Equal(t, "invalid otp", got.LastError)
}
