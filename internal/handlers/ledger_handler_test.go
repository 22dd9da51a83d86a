package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/oseilabs/bundle-gateway/internal/carrier"
	"github.com/oseilabs/bundle-gateway/internal/ledger"
	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) Grant(ctx context.Context, req ledger.GrantRequest) (*model.CreditParcel, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditParcel), args.Error(1)
}

func (m *MockLedgerService) Balance(ctx context.Context, userID int64, denom model.Denomination) (float64, error) {
	args := m.Called(ctx, userID, denom)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockLedgerService) ActiveDenomination(ctx context.Context, userID int64) (model.Denomination, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.Denomination), args.Error(1)
}

func (m *MockLedgerService) Parcels(ctx context.Context, userID int64) ([]*model.CreditParcel, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CreditParcel), args.Error(1)
}

func (m *MockLedgerService) History(ctx context.Context, f model.LedgerFilter) ([]*model.LedgerEntry, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.LedgerEntry), args.Get(1).(int64), args.Error(2)
}

func (m *MockLedgerService) PoolForUser(ctx context.Context, userID int64) (*model.SubscriptionPool, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SubscriptionPool), args.Error(1)
}

func (m *MockLedgerService) ResyncPool(ctx context.Context, subscriptionID int64, totalGB, remainingGB, usedGB float64) error {
	args := m.Called(ctx, subscriptionID, totalGB, remainingGB, usedGB)
	return args.Error(0)
}

type MockCarrierBalance struct {
	mock.Mock
}

func (m *MockCarrierBalance) FetchLiveBalance(ctx context.Context) carrier.LiveBalance {
	args := m.Called(ctx)
	return args.Get(0).(carrier.LiveBalance)
}

func TestLedgerHandler_Balance(t *testing.T) {
	t.Run("auto-detects denomination", func(t *testing.T) {
		svc := new(MockLedgerService)
		handler := NewLedgerHandler(svc, new(MockCarrierBalance))

		svc.On("ActiveDenomination", mock.Anything, int64(1)).Return(model.DenomGHS, nil)
		svc.On("Balance", mock.Anything, int64(1), model.DenomGHS).Return(380.0, nil)

		ctx := setupTestContext("GET", "/ledger/balance?user_id=1", nil)
		handler.Balance(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response struct {
			Balance      float64 `json:"balance"`
			Denomination string  `json:"denomination"`
		}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, 380.0, response.Balance)
		assert.Equal(t, "ghs", response.Denomination)
	})

	t.Run("no credit at all", func(t *testing.T) {
		svc := new(MockLedgerService)
		handler := NewLedgerHandler(svc, new(MockCarrierBalance))

		svc.On("ActiveDenomination", mock.Anything, int64(2)).Return(model.Denomination(""), nil)

		ctx := setupTestContext("GET", "/ledger/balance?user_id=2", nil)
		handler.Balance(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "Balance", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestLedgerHandler_Grant(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := new(MockLedgerService)
		handler := NewLedgerHandler(svc, new(MockCarrierBalance))

		svc.On("Grant", mock.Anything, mock.MatchedBy(func(r ledger.GrantRequest) bool {
			return r.UserID == 1 && r.Denomination == model.DenomGB && r.Amount == 10
		})).Return(&model.CreditParcel{ID: 5, Remaining: 10}, nil)

		ctx := setupTestContext("POST", "/ledger/grant", []byte(`{"user_id":1,"denomination":"gb","amount":10,"granted_by":9}`))
		handler.Grant(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("denomination conflict maps to 409", func(t *testing.T) {
		svc := new(MockLedgerService)
		handler := NewLedgerHandler(svc, new(MockCarrierBalance))

		svc.On("Grant", mock.Anything, mock.Anything).Return(nil, ledger.ErrDenominationConflict)

		ctx := setupTestContext("POST", "/ledger/grant", []byte(`{"user_id":1,"denomination":"ghs","amount":10}`))
		handler.Grant(ctx)

		assert.Equal(t, 409, ctx.Response.StatusCode())
	})
}

func TestLedgerHandler_Pool(t *testing.T) {
	svc := new(MockLedgerService)
	handler := NewLedgerHandler(svc, new(MockCarrierBalance))

	svc.On("PoolForUser", mock.Anything, int64(3)).Return(nil, ledger.ErrSubscriptionNotFound)

	ctx := setupTestContext("GET", "/ledger/pool?user_id=3", nil)
	handler.Pool(ctx)

	assert.Equal(t, 404, ctx.Response.StatusCode())
}

func TestLedgerHandler_LivePool(t *testing.T) {
	t.Run("resyncs from carrier", func(t *testing.T) {
		svc := new(MockLedgerService)
		cb := new(MockCarrierBalance)
		handler := NewLedgerHandler(svc, cb)

		svc.On("PoolForUser", mock.Anything, int64(1)).
			Return(&model.SubscriptionPool{ID: 7, UserID: 1, Status: model.SubscriptionActive}, nil)
		cb.On("FetchLiveBalance", mock.Anything).Return(carrier.LiveBalance{
			Success:     true,
			TotalDataGB: 111,
			BalanceGB:   98.5,
			UsedDataGB:  12.5,
		})
		svc.On("ResyncPool", mock.Anything, int64(7), 111.0, 98.5, 12.5).Return(nil)

		ctx := setupTestContext("GET", "/ledger/pool/live?user_id=1", nil)
		handler.LivePool(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response struct {
			Live   carrier.LiveBalance `json:"live"`
			Synced bool                `json:"synced"`
		}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.True(t, response.Synced)
		assert.Equal(t, 98.5, response.Live.BalanceGB)
		svc.AssertExpectations(t)
		cb.AssertExpectations(t)
	})

	t.Run("carrier unreachable maps to 502", func(t *testing.T) {
		svc := new(MockLedgerService)
		cb := new(MockCarrierBalance)
		handler := NewLedgerHandler(svc, cb)

		svc.On("PoolForUser", mock.Anything, int64(1)).
			Return(&model.SubscriptionPool{ID: 7, UserID: 1}, nil)
		cb.On("FetchLiveBalance", mock.Anything).Return(carrier.LiveBalance{
			Success: false,
			Error:   "no carrier token available",
		})

		ctx := setupTestContext("GET", "/ledger/pool/live?user_id=1", nil)
		handler.LivePool(ctx)

		assert.Equal(t, 502, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "ResyncPool", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
