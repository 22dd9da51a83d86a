package handlers

import (
	"context"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/oseilabs/bundle-gateway/internal/model"
	xhttp "github.com/oseilabs/bundle-gateway/pkg/http"
)

type QueueService interface {
	QueueStatus(ctx context.Context, userID int64) (*model.QueueStatus, error)
	Jobs(ctx context.Context, f model.JobFilter) ([]*model.Job, int64, error)
	Job(ctx context.Context, id int64) (*model.Job, error)
	RetryFailed(ctx context.Context, userID int64) (int64, error)
	CancelPending(ctx context.Context, userID int64) (int64, error)
}

type QueueHandler struct {
	svc QueueService
}

func RegisterQueueRoutes(e *router.Group, h *QueueHandler) {
	e.GET("/queue/status", h.Status)
	e.GET("/queue/jobs", h.ListJobs)
	e.GET("/queue/jobs/{id}", h.GetJob)
	e.POST("/queue/retry", h.RetryFailed)
	e.POST("/queue/cancel", h.CancelPending)
}

func NewQueueHandler(svc QueueService) *QueueHandler {
	return &QueueHandler{
		svc: svc,
	}
}

type jobListResponse struct {
	Items []*model.Job `json:"items"`
	Total int64        `json:"total"`
}

func (h *QueueHandler) Status(ctx *xhttp.RequestCtx) {
	userID, err := paramInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "user_id is required")
		return
	}

	status, err := h.svc.QueueStatus(ctx, userID)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, status)
}

func (h *QueueHandler) ListJobs(ctx *xhttp.RequestCtx) {
	var f model.JobFilter

	if v := query(ctx, "user_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.UserID = &id
		}
	}
	if v := query(ctx, "status"); v != "" {
		s := model.JobStatus(v)
		f.Status = &s
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}

	items, total, err := h.svc.Jobs(ctx, f)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, jobListResponse{Items: items, Total: total})
}

func (h *QueueHandler) GetJob(ctx *xhttp.RequestCtx) {
	idStr, _ := ctx.UserValue("id").(string)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(ctx, 400, "invalid job id")
		return
	}

	job, err := h.svc.Job(ctx, id)
	if err != nil {
		writeError(ctx, 404, err.Error())
		return
	}
	writeJSON(ctx, 200, job)
}

type userActionRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *QueueHandler) RetryFailed(ctx *xhttp.RequestCtx) {
	var req userActionRequest
	if err := readJSON(ctx, &req); err != nil || req.UserID == 0 {
		writeError(ctx, 400, "user_id is required")
		return
	}

	n, err := h.svc.RetryFailed(ctx, req.UserID)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]int64{"retried": n})
}

func (h *QueueHandler) CancelPending(ctx *xhttp.RequestCtx) {
	var req userActionRequest
	if err := readJSON(ctx, &req); err != nil || req.UserID == 0 {
		writeError(ctx, 400, "user_id is required")
		return
	}

	n, err := h.svc.CancelPending(ctx, req.UserID)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]int64{"cancelled": n})
}
