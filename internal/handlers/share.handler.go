package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"
	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/internal/services"
	xhttp "github.com/oseilabs/bundle-gateway/pkg/http"
)

type ShareService interface {
	Send(ctx context.Context, req services.SendRequest) (*model.TransferRecord, error)
	Enqueue(ctx context.Context, req model.JobCreateRequest) (*model.Job, error)
	EnqueueBulk(ctx context.Context, userID int64, subscriptionID int64, reqs []model.JobCreateRequest) ([]*model.Job, error)
}

type ShareHandler struct {
	svc ShareService
}

func RegisterShareRoutes(e *router.Group, h *ShareHandler) {
	e.POST("/share/send", h.Send)
	e.POST("/share/enqueue", h.Enqueue)
	e.POST("/share/bulk", h.EnqueueBulk)
}

func NewShareHandler(svc ShareService) *ShareHandler {
	return &ShareHandler{
		svc: svc,
	}
}

type sendRequest struct {
	UserID           int64   `json:"user_id"`
	SubscriptionID   *int64  `json:"subscription_id,omitempty"`
	BeneficiaryName  string  `json:"beneficiary_name"`
	BeneficiaryPhone string  `json:"beneficiary_phone"`
	AmountGB         float64 `json:"amount_gb"`
	Source           string  `json:"source"`
	PriceGHS         float64 `json:"price_ghs,omitempty"`
}

type enqueueRequest struct {
	UserID           int64   `json:"user_id"`
	SubscriptionID   *int64  `json:"subscription_id,omitempty"`
	DataRequestID    *int64  `json:"data_request_id,omitempty"`
	BeneficiaryName  string  `json:"beneficiary_name"`
	BeneficiaryPhone string  `json:"beneficiary_phone"`
	AmountGB         float64 `json:"amount_gb"`
	Source           string  `json:"source"`
	RefundGHS        float64 `json:"refund_ghs,omitempty"`
	Priority         int     `json:"priority,omitempty"`
}

type bulkEnqueueRequest struct {
	UserID         int64 `json:"user_id"`
	SubscriptionID int64 `json:"subscription_id"`
	Distributions  []struct {
		BeneficiaryName  string  `json:"beneficiary_name"`
		BeneficiaryPhone string  `json:"beneficiary_phone"`
		AmountGB         float64 `json:"amount_gb"`
	} `json:"distributions"`
}

func (h *ShareHandler) Send(ctx *xhttp.RequestCtx) {
	var req sendRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	record, err := h.svc.Send(ctx, services.SendRequest{
		UserID:           req.UserID,
		SubscriptionID:   req.SubscriptionID,
		BeneficiaryName:  req.BeneficiaryName,
		BeneficiaryPhone: req.BeneficiaryPhone,
		AmountGB:         req.AmountGB,
		Source:           model.FundingSource(req.Source),
		PriceGHS:         req.PriceGHS,
	})
	if err != nil {
		// A failed carrier call still produced a record worth returning.
		if errors.Is(err, services.ErrTransferFailed) && record != nil {
			writeJSON(ctx, 502, record)
			return
		}
		writeError(ctx, shareErrorStatus(err), err.Error())
		return
	}
	writeJSON(ctx, 200, record)
}

func (h *ShareHandler) Enqueue(ctx *xhttp.RequestCtx) {
	var req enqueueRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	job, err := h.svc.Enqueue(ctx, model.JobCreateRequest{
		UserID:           req.UserID,
		SubscriptionID:   req.SubscriptionID,
		DataRequestID:    req.DataRequestID,
		BeneficiaryName:  req.BeneficiaryName,
		BeneficiaryPhone: req.BeneficiaryPhone,
		AmountGB:         req.AmountGB,
		Source:           model.FundingSource(req.Source),
		RefundGHS:        req.RefundGHS,
		Priority:         req.Priority,
	})
	if err != nil {
		writeError(ctx, shareErrorStatus(err), err.Error())
		return
	}
	writeJSON(ctx, 202, job)
}

func (h *ShareHandler) EnqueueBulk(ctx *xhttp.RequestCtx) {
	var req bulkEnqueueRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Distributions) == 0 {
		writeError(ctx, 400, "distributions array is required")
		return
	}

	reqs := make([]model.JobCreateRequest, len(req.Distributions))
	for i, d := range req.Distributions {
		reqs[i] = model.JobCreateRequest{
			BeneficiaryName:  d.BeneficiaryName,
			BeneficiaryPhone: d.BeneficiaryPhone,
			AmountGB:         d.AmountGB,
		}
	}

	jobs, err := h.svc.EnqueueBulk(ctx, req.UserID, req.SubscriptionID, reqs)
	if err != nil {
		writeError(ctx, shareErrorStatus(err), err.Error())
		return
	}

	ids := make([]int64, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	writeJSON(ctx, 202, map[string]interface{}{
		"job_ids": ids,
		"total":   len(jobs),
		"status":  "queued",
	})
}

func shareErrorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrInsufficientBalance):
		return 402
	case errors.Is(err, services.ErrNoActiveSubscription):
		return 409
	default:
		return 400
	}
}
