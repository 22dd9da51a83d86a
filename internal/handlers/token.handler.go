package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/fasthttp/router"
	"github.com/oseilabs/bundle-gateway/internal/carrier"
	"github.com/oseilabs/bundle-gateway/internal/model"
	xhttp "github.com/oseilabs/bundle-gateway/pkg/http"
)

type TokenAdmin interface {
	RequestLoginCode(ctx context.Context) error
	CompleteLogin(ctx context.Context, otp string) (*model.CarrierToken, error)
	SetManualToken(ctx context.Context, raw string, actor int64) (*model.CarrierToken, error)
	TokenStatus(ctx context.Context) (*model.TokenStatus, error)
	TokenHistory(ctx context.Context) ([]*model.CarrierToken, error)
}

type QueueResumer interface {
	ResumePaused(ctx context.Context) (int64, error)
}

// TokenHandler is the admin surface for the carrier bearer token. A
// successful login or manual token also resumes any token-paused jobs.
type TokenHandler struct {
	tokens  TokenAdmin
	resumer QueueResumer
}

func RegisterTokenRoutes(e *router.Group, h *TokenHandler) {
	e.POST("/token/request-otp", h.RequestOTP)
	e.POST("/token/login", h.Login)
	e.POST("/token/manual", h.Manual)
	e.GET("/token/status", h.Status)
	e.GET("/token/history", h.History)
}

func NewTokenHandler(tokens TokenAdmin, resumer QueueResumer) *TokenHandler {
	return &TokenHandler{
		tokens:  tokens,
		resumer: resumer,
	}
}

func (h *TokenHandler) RequestOTP(ctx *xhttp.RequestCtx) {
	if err := h.tokens.RequestLoginCode(ctx); err != nil {
		writeError(ctx, 502, err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]string{"message": "OTP requested, check the registered phone"})
}

type loginRequest struct {
	OTP string `json:"otp"`
}

func (h *TokenHandler) Login(ctx *xhttp.RequestCtx) {
	var req loginRequest
	if err := readJSON(ctx, &req); err != nil || strings.TrimSpace(req.OTP) == "" {
		writeError(ctx, 400, "otp is required")
		return
	}

	token, err := h.tokens.CompleteLogin(ctx, strings.TrimSpace(req.OTP))
	if err != nil {
		if errors.Is(err, carrier.ErrLoginRejected) {
			writeError(ctx, 401, err.Error())
			return
		}
		writeError(ctx, 502, err.Error())
		return
	}

	resumed := h.resumeJobs(ctx)
	writeJSON(ctx, 200, map[string]interface{}{
		"message":      "token activated",
		"expires_at":   token.ExpiresAt,
		"resumed_jobs": resumed,
	})
}

type manualTokenRequest struct {
	Token string `json:"token"`
	Actor int64  `json:"actor"`
}

func (h *TokenHandler) Manual(ctx *xhttp.RequestCtx) {
	var req manualTokenRequest
	if err := readJSON(ctx, &req); err != nil || strings.TrimSpace(req.Token) == "" {
		writeError(ctx, 400, "token is required")
		return
	}

	token, err := h.tokens.SetManualToken(ctx, req.Token, req.Actor)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}

	resumed := h.resumeJobs(ctx)
	writeJSON(ctx, 200, map[string]interface{}{
		"message":      "token activated",
		"expires_at":   token.ExpiresAt,
		"resumed_jobs": resumed,
	})
}

func (h *TokenHandler) resumeJobs(ctx *xhttp.RequestCtx) int64 {
	if h.resumer == nil {
		return 0
	}
	resumed, err := h.resumer.ResumePaused(ctx)
	if err != nil {
		// The token is live either way; the worker's startup sweep and
		// poll ticker will pick the paused jobs up eventually.
		return 0
	}
	return resumed
}

func (h *TokenHandler) Status(ctx *xhttp.RequestCtx) {
	status, err := h.tokens.TokenStatus(ctx)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, status)
}

func (h *TokenHandler) History(ctx *xhttp.RequestCtx) {
	history, err := h.tokens.TokenHistory(ctx)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]interface{}{"items": history})
}
