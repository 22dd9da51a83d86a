package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParcel(userID int64, denom model.Denomination, amount float64) *model.CreditParcel {
	return &model.CreditParcel{
		UserID:       userID,
		Denomination: denom,
		Amount:       amount,
		Remaining:    amount,
		Used:         0,
		Status:       model.ParcelActive,
		GrantedBy:    1,
	}
}

func TestCreditRepository_Parcels(t *testing.T) {
	ctx := context.Background()

	t.Run("active balance sums active parcels only", func(t *testing.T) {
		repo := NewCreditRepository(setupTestDB(t).DB)

		_, err := repo.CreateParcel(ctx, newTestParcel(1, model.DenomGB, 5))
		require.NoError(t, err)
		_, err = repo.CreateParcel(ctx, newTestParcel(1, model.DenomGB, 3))
		require.NoError(t, err)

		drained := newTestParcel(1, model.DenomGB, 2)
		drained.Remaining = 0
		drained.Used = 2
		drained.Status = model.ParcelDepleted
		_, err = repo.CreateParcel(ctx, drained)
		require.NoError(t, err)

		balance, err := repo.ActiveBalance(ctx, 1, model.DenomGB)
		require.NoError(t, err)
		assert.Equal(t, float64(8), balance)
	})

	t.Run("balance with no parcels is zero", func(t *testing.T) {
		repo := NewCreditRepository(setupTestDB(t).DB)
		balance, err := repo.ActiveBalance(ctx, 1, model.DenomGB)
		require.NoError(t, err)
		assert.Equal(t, float64(0), balance)
	})

	t.Run("active parcels come back oldest first", func(t *testing.T) {
		repo := NewCreditRepository(setupTestDB(t).DB)

		oldest, err := repo.CreateParcel(ctx, newTestParcel(1, model.DenomGB, 5))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
		_, err = repo.CreateParcel(ctx, newTestParcel(1, model.DenomGB, 3))
		require.NoError(t, err)

		parcels, err := repo.ActiveParcelsOldestFirst(ctx, 1, model.DenomGB)
		require.NoError(t, err)
		require.Len(t, parcels, 2)
		assert.Equal(t, oldest.ID, parcels[0].ID)
	})

	t.Run("save parcel persists drain", func(t *testing.T) {
		repo := NewCreditRepository(setupTestDB(t).DB)

		p, err := repo.CreateParcel(ctx, newTestParcel(1, model.DenomGB, 5))
		require.NoError(t, err)

		p.Remaining = 0
		p.Used = 5
		p.Status = model.ParcelDepleted
		require.NoError(t, repo.SaveParcel(ctx, p))

		parcels, err := repo.ListParcels(ctx, 1)
		require.NoError(t, err)
		require.Len(t, parcels, 1)
		assert.Equal(t, model.ParcelDepleted, parcels[0].Status)
		assert.Equal(t, float64(5), parcels[0].Used)
	})

	t.Run("save missing parcel", func(t *testing.T) {
		repo := NewCreditRepository(setupTestDB(t).DB)
		err := repo.SaveParcel(ctx, &model.CreditParcel{ID: 9999, Status: model.ParcelActive})
		assert.ErrorIs(t, err, ErrParcelNotFound)
	})
}

func TestCreditRepository_OldestLookups(t *testing.T) {
	ctx := context.Background()

	t.Run("oldest depleted and oldest active", func(t *testing.T) {
		repo := NewCreditRepository(setupTestDB(t).DB)

		dep := newTestParcel(1, model.DenomGB, 2)
		dep.Remaining = 0
		dep.Used = 2
		dep.Status = model.ParcelDepleted
		oldDep, err := repo.CreateParcel(ctx, dep)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)

		oldAct, err := repo.CreateParcel(ctx, newTestParcel(1, model.DenomGB, 5))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
		_, err = repo.CreateParcel(ctx, newTestParcel(1, model.DenomGB, 5))
		require.NoError(t, err)

		got, err := repo.OldestDepleted(ctx, 1, model.DenomGB)
		require.NoError(t, err)
		assert.Equal(t, oldDep.ID, got.ID)

		got, err = repo.OldestActive(ctx, 1, model.DenomGB)
		require.NoError(t, err)
		assert.Equal(t, oldAct.ID, got.ID)
	})

	t.Run("no match", func(t *testing.T) {
		repo := NewCreditRepository(setupTestDB(t).DB)
		_, err := repo.OldestDepleted(ctx, 1, model.DenomGB)
		assert.ErrorIs(t, err, ErrParcelNotFound)
	})
}

func TestCreditRepository_HasActiveDenomination(t *testing.T) {
	repo := NewCreditRepository(setupTestDB(t).DB)
	ctx := context.Background()

	_, err := repo.CreateParcel(ctx, newTestParcel(1, model.DenomGHS, 50))
	require.NoError(t, err)

	has, err := repo.HasActiveDenomination(ctx, 1, model.DenomGHS)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.HasActiveDenomination(ctx, 1, model.DenomGB)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCreditRepository_Entries(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCreditRepository(db)
	ctx := context.Background()

	userID := int64(10)
	for i := 0; i < 3; i++ {
		_, err := repo.CreateEntry(ctx, &model.LedgerEntry{
			UserID:        userID,
			Type:          model.EntryCredit,
			Denomination:  model.DenomGB,
			Amount:        5,
			BalanceBefore: float64(i * 5),
			BalanceAfter:  float64((i + 1) * 5),
			PerformedBy:   1,
		})
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	_, err := repo.CreateEntry(ctx, &model.LedgerEntry{
		UserID:       userID,
		Type:         model.EntryDebit,
		Denomination: model.DenomGB,
		Amount:       2,
		PerformedBy:  userID,
	})
	require.NoError(t, err)

	t.Run("list all for user", func(t *testing.T) {
		entries, total, err := repo.ListEntries(ctx, model.LedgerFilter{UserID: &userID, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		assert.Len(t, entries, 4)
	})

	t.Run("filter by type", func(t *testing.T) {
		typ := model.EntryDebit
		entries, total, err := repo.ListEntries(ctx, model.LedgerFilter{UserID: &userID, Type: &typ, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, entries, 1)
		assert.Equal(t, model.EntryDebit, entries[0].Type)
	})

	t.Run("desc order", func(t *testing.T) {
		entries, _, err := repo.ListEntries(ctx, model.LedgerFilter{UserID: &userID, Limit: 10, Desc: true})
		require.NoError(t, err)
		for i := 0; i < len(entries)-1; i++ {
			assert.True(t, !entries[i].CreatedAt.Before(entries[i+1].CreatedAt))
		}
	})

	t.Run("pagination", func(t *testing.T) {
		entries, total, err := repo.ListEntries(ctx, model.LedgerFilter{UserID: &userID, Limit: 2, Offset: 3})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		assert.Len(t, entries, 1)
	})
}
