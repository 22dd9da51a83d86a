package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockQueueService struct {
	mock.Mock
}

func (m *MockQueueService) QueueStatus(ctx context.Context, userID int64) (*model.QueueStatus, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QueueStatus), args.Error(1)
}

func (m *MockQueueService) Jobs(ctx context.Context, f model.JobFilter) ([]*model.Job, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Job), args.Get(1).(int64), args.Error(2)
}

func (m *MockQueueService) Job(ctx context.Context, id int64) (*model.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *MockQueueService) RetryFailed(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueueService) CancelPending(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func TestQueueHandler_Status(t *testing.T) {
	t.Run("per-user breakdown", func(t *testing.T) {
		svc := new(MockQueueService)
		handler := NewQueueHandler(svc)

		svc.On("QueueStatus", mock.Anything, int64(1)).
			Return(&model.QueueStatus{Pending: 2, Paused: 1, Total: 3}, nil)

		ctx := setupTestContext("GET", "/queue/status?user_id=1", nil)
		handler.Status(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response model.QueueStatus
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, int64(2), response.Pending)
		assert.Equal(t, int64(1), response.Paused)
		svc.AssertExpectations(t)
	})

	t.Run("missing user_id", func(t *testing.T) {
		handler := NewQueueHandler(new(MockQueueService))

		ctx := setupTestContext("GET", "/queue/status", nil)
		handler.Status(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})
}

func TestQueueHandler_ListJobs(t *testing.T) {
	svc := new(MockQueueService)
	handler := NewQueueHandler(svc)

	svc.On("Jobs", mock.Anything, mock.MatchedBy(func(f model.JobFilter) bool {
		return f.UserID != nil && *f.UserID == 1 &&
			f.Status != nil && *f.Status == model.JobStatusFailed &&
			f.Limit == 5
	})).Return([]*model.Job{{ID: 1, Status: model.JobStatusFailed}}, int64(1), nil)

	ctx := setupTestContext("GET", "/queue/jobs?user_id=1&status=failed&limit=5", nil)
	handler.ListJobs(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var response jobListResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	assert.Equal(t, int64(1), response.Total)
	svc.AssertExpectations(t)
}

func TestQueueHandler_RetryFailed(t *testing.T) {
	svc := new(MockQueueService)
	handler := NewQueueHandler(svc)

	svc.On("RetryFailed", mock.Anything, int64(1)).Return(int64(4), nil)

	ctx := setupTestContext("POST", "/queue/retry", []byte(`{"user_id":1}`))
	handler.RetryFailed(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var response map[string]int64
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	assert.Equal(t, int64(4), response["retried"])
}

func TestQueueHandler_CancelPending(t *testing.T) {
	svc := new(MockQueueService)
	handler := NewQueueHandler(svc)

	svc.On("CancelPending", mock.Anything, int64(1)).Return(int64(2), nil)

	ctx := setupTestContext("POST", "/queue/cancel", []byte(`{"user_id":1}`))
	handler.CancelPending(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var response map[string]int64
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	assert.Equal(t, int64(2), response["cancelled"])
}
