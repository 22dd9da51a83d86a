package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/oseilabs/bundle-gateway/internal/carrier"
	"github.com/oseilabs/bundle-gateway/internal/ledger"
	"github.com/oseilabs/bundle-gateway/internal/model"
	xhttp "github.com/oseilabs/bundle-gateway/pkg/http"
)

type LedgerService interface {
	Grant(ctx context.Context, req ledger.GrantRequest) (*model.CreditParcel, error)
	Balance(ctx context.Context, userID int64, denom model.Denomination) (float64, error)
	ActiveDenomination(ctx context.Context, userID int64) (model.Denomination, error)
	Parcels(ctx context.Context, userID int64) ([]*model.CreditParcel, error)
	History(ctx context.Context, f model.LedgerFilter) ([]*model.LedgerEntry, int64, error)
	PoolForUser(ctx context.Context, userID int64) (*model.SubscriptionPool, error)
	ResyncPool(ctx context.Context, subscriptionID int64, totalGB, remainingGB, usedGB float64) error
}

type CarrierBalance interface {
	FetchLiveBalance(ctx context.Context) carrier.LiveBalance
}

type LedgerHandler struct {
	svc     LedgerService
	carrier CarrierBalance
}

func RegisterLedgerRoutes(e *router.Group, h *LedgerHandler) {
	e.GET("/ledger/balance", h.Balance)
	e.GET("/ledger/entries", h.Entries)
	e.GET("/ledger/parcels", h.Parcels)
	e.GET("/ledger/pool", h.Pool)
	e.GET("/ledger/pool/live", h.LivePool)
	e.POST("/ledger/grant", h.Grant)
}

func NewLedgerHandler(svc LedgerService, carrier CarrierBalance) *LedgerHandler {
	return &LedgerHandler{
		svc:     svc,
		carrier: carrier,
	}
}

func (h *LedgerHandler) Balance(ctx *xhttp.RequestCtx) {
	userID, err := paramInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "user_id is required")
		return
	}

	denom, err := h.svc.ActiveDenomination(ctx, userID)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	if denom == "" {
		writeJSON(ctx, 200, map[string]interface{}{"balance": 0, "denomination": ""})
		return
	}

	balance, err := h.svc.Balance(ctx, userID, denom)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]interface{}{
		"balance":      balance,
		"denomination": denom,
	})
}

type entryListResponse struct {
	Items []*model.LedgerEntry `json:"items"`
	Total int64                `json:"total"`
}

func (h *LedgerHandler) Entries(ctx *xhttp.RequestCtx) {
	var f model.LedgerFilter

	if v := query(ctx, "user_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.UserID = &id
		}
	}
	if v := query(ctx, "type"); v != "" {
		t := model.EntryType(v)
		f.Type = &t
	}
	if v := query(ctx, "denomination"); v != "" {
		d := model.Denomination(v)
		f.Denomination = &d
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

	items, total, err := h.svc.History(ctx, f)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, entryListResponse{Items: items, Total: total})
}

func (h *LedgerHandler) Parcels(ctx *xhttp.RequestCtx) {
	userID, err := paramInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "user_id is required")
		return
	}

	parcels, err := h.svc.Parcels(ctx, userID)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]interface{}{"items": parcels})
}

func (h *LedgerHandler) Pool(ctx *xhttp.RequestCtx) {
	userID, err := paramInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "user_id is required")
		return
	}

	pool, err := h.svc.PoolForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrSubscriptionNotFound) {
			writeError(ctx, 404, err.Error())
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, pool)
}

// LivePool fetches the authoritative pool balance from the carrier and
// resyncs the local pool record when the fetch succeeds. The resync is
// best-effort; the live numbers are returned either way.
func (h *LedgerHandler) LivePool(ctx *xhttp.RequestCtx) {
	userID, err := paramInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "user_id is required")
		return
	}

	pool, err := h.svc.PoolForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrSubscriptionNotFound) {
			writeError(ctx, 404, err.Error())
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}

	live := h.carrier.FetchLiveBalance(ctx)
	if !live.Success {
		writeError(ctx, 502, live.Error)
		return
	}

	synced := true
	if err := h.svc.ResyncPool(ctx, pool.ID, live.TotalDataGB, live.BalanceGB, live.UsedDataGB); err != nil {
		synced = false
	}

	writeJSON(ctx, 200, map[string]interface{}{
		"live":   live,
		"synced": synced,
	})
}

type grantRequest struct {
	UserID       int64   `json:"user_id"`
	Denomination string  `json:"denomination"`
	Amount       float64 `json:"amount"`
	GrantedBy    int64   `json:"granted_by"`
	Note         string  `json:"note,omitempty"`
}

func (h *LedgerHandler) Grant(ctx *xhttp.RequestCtx) {
	var req grantRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	parcel, err := h.svc.Grant(ctx, ledger.GrantRequest{
		UserID:       req.UserID,
		Denomination: model.Denomination(req.Denomination),
		Amount:       req.Amount,
		GrantedBy:    req.GrantedBy,
		Note:         req.Note,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrDenominationConflict):
			writeError(ctx, 409, err.Error())
		case errors.Is(err, ledger.ErrInvalidAmount):
			writeError(ctx, 400, err.Error())
		default:
			writeError(ctx, 500, err.Error())
		}
		return
	}
	writeJSON(ctx, 201, parcel)
}
