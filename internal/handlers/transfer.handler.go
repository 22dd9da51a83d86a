package handlers

import (
	"context"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/oseilabs/bundle-gateway/internal/model"
	xhttp "github.com/oseilabs/bundle-gateway/pkg/http"
)

type TransferService interface {
	Transfers(ctx context.Context, f model.TransferFilter) ([]*model.TransferRecord, int64, error)
}

type TransferHandler struct {
	svc TransferService
}

func RegisterTransferRoutes(e *router.Group, h *TransferHandler) {
	e.GET("/transfers", h.List)
}

func NewTransferHandler(svc TransferService) *TransferHandler {
	return &TransferHandler{
		svc: svc,
	}
}

type transferListResponse struct {
	Items []*model.TransferRecord `json:"items"`
	Total int64                   `json:"total"`
}

func (h *TransferHandler) List(ctx *xhttp.RequestCtx) {
	var f model.TransferFilter

	if v := query(ctx, "user_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.UserID = &id
		}
	}
	if v := query(ctx, "status"); v != "" {
		s := model.TransferStatus(v)
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

	items, total, err := h.svc.Transfers(ctx, f)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, transferListResponse{Items: items, Total: total})
}
