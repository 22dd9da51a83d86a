package carrier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/pkg/logger"
	"github.com/oseilabs/bundle-gateway/pkg/prom"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

const tokenFallbackTTL = 12 * time.Hour

// refreshThreshold is how close to expiry a token may get before the
// status report flags it for refresh.
const refreshThreshold = 2 * time.Hour

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	SMSCode     string `json:"sms_code"`
	PhoneNumber string `json:"phone_number"`
}

type loginResponse struct {
	Token            string `json:"token"`
	SubscriberMsisdn string `json:"subscriberMsisdn"`
}

// RequestLoginCode asks the carrier to text an OTP to the registered
// phone. The portal expects the phone number masked the same way its own
// web client masks it.
func (c *Client) RequestLoginCode(ctx context.Context) error {
	body := loginRequest{
		Email:       c.config.Email,
		Password:    c.config.Password,
		SMSCode:     "",
		PhoneNumber: maskPhone(c.config.PhoneNumber),
	}

	status, _, err := c.postJSON(ctx, "/enterprise-request/api/check-login", body, "")
	if err != nil {
		return errors.Wrap(err, "otp request failed")
	}
	if status < 200 || status >= 300 {
		return errors.Errorf("otp request failed with status %d", status)
	}

	if err := c.tokens.MarkOTPRequested(ctx); err != nil {
		return err
	}

	logger.Info("otp requested", "phone", maskPhone(c.config.PhoneNumber))
	return nil
}

// CompleteLogin exchanges the OTP for a bearer token and activates it,
// deactivating every previous token.
func (c *Client) CompleteLogin(ctx context.Context, otp string) (*model.CarrierToken, error) {
	body := loginRequest{
		Email:       c.config.Email,
		Password:    c.config.Password,
		SMSCode:     otp,
		PhoneNumber: maskPhone(c.config.PhoneNumber),
	}

	status, respBody, err := c.postJSON(ctx, "/enterprise-request/api/login", body, "")
	if err != nil {
		_ = c.tokens.SetLastError(ctx, err.Error())
		return nil, errors.Wrap(err, "login failed")
	}

	var resp loginResponse
	if status >= 200 && status < 300 {
		_ = json.Unmarshal(respBody, &resp)
	}
	if resp.Token == "" {
		msg := "no token in login response"
		if status < 200 || status >= 300 {
			msg = "login rejected by carrier"
		}
		_ = c.tokens.SetLastError(ctx, msg)
		return nil, errors.Wrap(ErrLoginRejected, msg)
	}

	return c.activate(ctx, resp.Token, model.TokenSourceLogin, 0)
}

// SetManualToken activates a token pasted by an admin, typically scraped
// from a browser session when the OTP flow is down.
func (c *Client) SetManualToken(ctx context.Context, raw string, actor int64) (*model.CarrierToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("token must not be empty")
	}
	return c.activate(ctx, raw, model.TokenSourceManual, actor)
}

func (c *Client) activate(ctx context.Context, raw string, source model.TokenSource, actor int64) (*model.CarrierToken, error) {
	expiresAt := tokenExpiry(raw)

	token, err := c.tokens.Activate(ctx, &model.CarrierToken{
		Token:       raw,
		Source:      source,
		ExpiresAt:   expiresAt,
		RefreshedBy: actor,
	})
	if err != nil {
		return nil, err
	}

	prom.IncTokenActivation(string(source))
	logger.Info("carrier token activated", "source", string(source), "expires_at", expiresAt)
	return token, nil
}

// TokenStatus reports the coarse token state for the admin surface.
func (c *Client) TokenStatus(ctx context.Context) (*model.TokenStatus, error) {
	token, err := c.tokens.NewestActive(ctx)
	if err != nil {
		return &model.TokenStatus{
			State:        model.TokenStateNone,
			NeedsRefresh: true,
			Message:      "No token configured",
		}, nil
	}

	now := time.Now()
	if token.ExpiresAt.Before(now) {
		expired := token.ExpiresAt
		return &model.TokenStatus{
			State:        model.TokenStateExpired,
			ExpiresAt:    &expired,
			NeedsRefresh: true,
			Message:      "Token has expired",
		}, nil
	}

	hours := int(token.ExpiresAt.Sub(now).Hours())
	expiresAt := token.ExpiresAt
	return &model.TokenStatus{
		State:          model.TokenStateActive,
		ExpiresAt:      &expiresAt,
		HoursRemaining: hours,
		NeedsRefresh:   token.ExpiresAt.Sub(now) < refreshThreshold,
	}, nil
}

// TokenHistory returns recent token rows. The raw token string never
// leaves the model's json marshalling anyway, but clear it here too.
func (c *Client) TokenHistory(ctx context.Context) ([]*model.CarrierToken, error) {
	tokens, err := c.tokens.History(ctx, 20)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		t.Token = ""
	}
	return tokens, nil
}

// tokenExpiry extracts the exp claim from a JWT-shaped token. Tokens that
// don't decode, or whose exp is already past, get a fixed 12h TTL.
func tokenExpiry(raw string) time.Time {
	parts := strings.Split(raw, ".")
	if len(parts) == 3 {
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil {
			payload, err = base64.StdEncoding.DecodeString(parts[1])
		}
		if err == nil {
			var claims struct {
				Exp int64 `json:"exp"`
			}
			if json.Unmarshal(payload, &claims) == nil && claims.Exp > 0 {
				expiresAt := time.Unix(claims.Exp, 0)
				if expiresAt.After(time.Now()) {
					return expiresAt
				}
			}
		}
	}

	prom.IncTokenExpiryFallback()
	fallback := time.Now().Add(tokenFallbackTTL)
	logger.Warn("could not decode token expiry, using fallback", "expires_at", fallback)
	return fallback
}

// maskPhone renders 0XXXXXXXXX as 0XX******X, matching what the carrier's
// login endpoint expects.
func maskPhone(phone string) string {
	if strings.HasPrefix(phone, "0") && len(phone) >= 10 {
		return phone[:3] + "******" + phone[9:]
	}
	return phone
}

func logWarnFallbackToken(token *model.CarrierToken) {
	logger.Warn("no active token, using newest stored token", "token_id", token.ID, "expired_at", token.ExpiresAt)
}

// postJSON sends a JSON POST and returns the status code and body copy.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, bearer string) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	return c.doRequest(ctx, fasthttp.MethodPost, path, body, bearer, c.config.RequestTimeout)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, bearer string, timeout time.Duration) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(timeout)
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, err
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return resp.StatusCode(), result, nil
}
