package carrier

import (
	"context"
	"errors"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/valyala/fasthttp"
)

var (
	// ErrNoToken means no usable bearer token exists; an admin has to log
	// in or paste one manually.
	ErrNoToken = errors.New("no carrier token available")
	// ErrLoginRejected means the carrier refused the OTP exchange.
	ErrLoginRejected = errors.New("carrier rejected login")
)

// TokenStore is the persistence the client needs for its bearer
// credential lifecycle.
type TokenStore interface {
	Activate(ctx context.Context, token *model.CarrierToken) (*model.CarrierToken, error)
	Active(ctx context.Context) (*model.CarrierToken, error)
	Newest(ctx context.Context) (*model.CarrierToken, error)
	NewestActive(ctx context.Context) (*model.CarrierToken, error)
	DeactivateAll(ctx context.Context, reason string) error
	MarkOTPRequested(ctx context.Context) error
	SetLastError(ctx context.Context, msg string) error
	History(ctx context.Context, limit int) ([]*model.CarrierToken, error)
}

// Config carries the carrier portal endpoint and enterprise account
// credentials.
type Config struct {
	BaseURL          string
	Email            string
	Password         string
	PhoneNumber      string
	SubscriberMsisdn string
	SharerPlan       string
	RequestTimeout   time.Duration
	BalanceTimeout   time.Duration
}

// Client talks to the carrier's enterprise data-sharer API. All calls go
// out with the single active bearer token managed through TokenStore.
type Client struct {
	config Config
	tokens TokenStore
	http   *fasthttp.Client
}

func NewClient(config Config, tokens TokenStore) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("carrier base url is required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.BalanceTimeout <= 0 {
		config.BalanceTimeout = 15 * time.Second
	}

	httpClient := &fasthttp.Client{
		ReadTimeout:         config.RequestTimeout,
		WriteTimeout:        config.RequestTimeout,
		MaxIdleConnDuration: 60 * time.Second,
	}

	return &Client{
		config: config,
		tokens: tokens,
		http:   httpClient,
	}, nil
}

// authToken resolves the bearer token for outgoing calls: the active
// unexpired token when one exists, otherwise the newest stored token as a
// degraded fallback so a clock-skewed expiry doesn't hard-stop transfers.
func (c *Client) authToken(ctx context.Context) (string, error) {
	token, err := c.tokens.Active(ctx)
	if err == nil {
		return token.Token, nil
	}

	fallback, ferr := c.tokens.Newest(ctx)
	if ferr != nil || fallback.Token == "" {
		return "", ErrNoToken
	}
	logWarnFallbackToken(fallback)
	return fallback.Token, nil
}
