package repository

import (
	"context"
	"testing"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransfer(userID int64, status model.TransferStatus) *model.TransferRecord {
	return &model.TransferRecord{
		UserID:           userID,
		BeneficiaryName:  "Kofi Boateng",
		BeneficiaryPhone: "0551234567",
		AmountGB:         1,
		TransactionID:    "ERP000100",
		Status:           status,
		Source:           model.FundingCredit,
	}
}

func TestTransferRepository_CreateAndDelete(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransferRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, newTestTransfer(1, model.TransferFailed))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	require.NoError(t, repo.Delete(ctx, created.ID))

	_, total, err := repo.List(ctx, model.TransferFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestTransferRepository_List(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewTransferRepository(db)
	ctx := context.Background()

	userID := int64(3)
	_, err := repo.Create(ctx, newTestTransfer(userID, model.TransferSuccess))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newTestTransfer(userID, model.TransferFailed))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newTestTransfer(99, model.TransferSuccess))
	require.NoError(t, err)

	t.Run("filter by user", func(t *testing.T) {
		records, total, err := repo.List(ctx, model.TransferFilter{UserID: &userID, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, records, 2)
	})

	t.Run("filter by status", func(t *testing.T) {
		status := model.TransferFailed
		records, total, err := repo.List(ctx, model.TransferFilter{UserID: &userID, Status: &status, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, records, 1)
		assert.Equal(t, model.TransferFailed, records[0].Status)
	})
}
