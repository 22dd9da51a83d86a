package model

import "time"

// TokenState is the coarse lifecycle state reported to the UI and the
// queue. A fresh login or manual override is the only way back to active.
type TokenState string

const (
	TokenStateNone    TokenState = "no_token"
	TokenStateExpired TokenState = "expired"
	TokenStateActive  TokenState = "active"
)

type TokenSource string

const (
	TokenSourceLogin  TokenSource = "otp_login"
	TokenSourceManual TokenSource = "manual"
)

// CarrierToken is the bearer credential for the carrier API. Exactly one
// token is active at a time; activating a new one deactivates the rest.
type CarrierToken struct {
	ID            int64       `json:"id"`
	Token         string      `json:"-"`
	Source        TokenSource `json:"source"`
	Active        bool        `json:"active"`
	ExpiresAt     time.Time   `json:"expires_at"`
	WaitingForOTP bool        `json:"waiting_for_otp"`
	LastOTPSentAt *time.Time  `json:"last_otp_sent_at,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	RefreshedBy   int64       `json:"refreshed_by,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// TokenStatus is the point-in-time report for the token admin UI.
type TokenStatus struct {
	State          TokenState `json:"status"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	HoursRemaining int        `json:"hours_remaining,omitempty"`
	NeedsRefresh   bool       `json:"needs_refresh"`
	Message        string     `json:"message,omitempty"`
}
