package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/oseilabs/bundle-gateway/pkg/logger"
	"github.com/oseilabs/bundle-gateway/pkg/prom"
	"github.com/valyala/fasthttp"
)

// MaxTransferGB is the carrier-side ceiling on a single transfer.
const MaxTransferGB = 5500

var localPhonePattern = regexp.MustCompile(`^0[2-9]\d{8}$`)
var nonDigits = regexp.MustCompile(`\D`)

// TransferOutcome is the structured result of one carrier transfer call.
// Carrier-level failures are outcomes, not Go errors: the worker decides
// retry/refund policy from the fields, never from error inspection.
type TransferOutcome struct {
	Success          bool   `json:"success"`
	TransactionID    string `json:"transaction_id,omitempty"`
	Message          string `json:"message,omitempty"`
	StatusCode       int    `json:"status_code"`
	RawResponse      string `json:"raw_response,omitempty"`
	RequiresNewToken bool   `json:"requires_new_token,omitempty"`
}

type transferRequest struct {
	BeneficiaryMsisdn string `json:"beneficiaryMsisdn"`
	Volume            string `json:"volume"`
	Plan              string `json:"plan"`
	TransactionID     string `json:"transactionId"`
	SubscriberMsisdn  string `json:"subscriberMsisdn"`
	BeneficiaryName   string `json:"beneficiaryName"`
}

// FormatPhone normalizes a recipient number to Ghana local format:
// digits only, 233 country prefix folded to a leading 0, then validated
// against the local pattern.
func FormatPhone(phone string) (string, error) {
	cleaned := nonDigits.ReplaceAllString(phone, "")
	if strings.HasPrefix(cleaned, "233") {
		cleaned = "0" + cleaned[3:]
	} else if !strings.HasPrefix(cleaned, "0") {
		cleaned = "0" + cleaned
	}
	if !localPhonePattern.MatchString(cleaned) {
		return "", fmt.Errorf("invalid phone number format: %s", phone)
	}
	return cleaned, nil
}

// ValidateTransfer fast-fails a transfer before any carrier traffic.
func ValidateTransfer(phone string, amountGB float64) error {
	if _, err := FormatPhone(phone); err != nil {
		return err
	}
	if amountGB <= 0 {
		return fmt.Errorf("amount must be greater than 0")
	}
	if amountGB > MaxTransferGB {
		return fmt.Errorf("amount exceeds maximum limit of %dGB", MaxTransferGB)
	}
	return nil
}

// Transfer pushes amountGB to the beneficiary through the data-sharer
// add-beneficiary endpoint. The returned outcome is always populated;
// err is reserved for programming errors, never carrier results.
func (c *Client) Transfer(ctx context.Context, phone string, amountGB float64) TransferOutcome {
	if err := ValidateTransfer(phone, amountGB); err != nil {
		return TransferOutcome{Success: false, Message: err.Error(), StatusCode: fasthttp.StatusBadRequest}
	}
	formatted, _ := FormatPhone(phone)

	bearer, err := c.authToken(ctx)
	if err != nil {
		return TransferOutcome{
			Success:          false,
			Message:          "Authentication token not available. Generate a new token via settings.",
			StatusCode:       fasthttp.StatusUnauthorized,
			RequiresNewToken: true,
		}
	}

	txnID := newTransactionID()
	reqBody := transferRequest{
		BeneficiaryMsisdn: formatted,
		Volume:            formatVolume(amountGB),
		Plan:              c.config.SharerPlan,
		TransactionID:     txnID,
		SubscriberMsisdn:  c.config.SubscriberMsisdn,
		BeneficiaryName:   formatted,
	}

	logger.Info("sending bundle", "phone", formatted, "amount_gb", amountGB, "txn", txnID)

	started := time.Now()
	status, body, err := c.postJSON(ctx, "/enterprise-request/api/data-sharer/prepaid/add-beneficiary", reqBody, bearer)
	elapsed := time.Since(started).Seconds()

	outcome := c.interpretTransfer(ctx, status, body, err, txnID)

	label := "failed"
	if outcome.Success {
		label = "success"
	} else if outcome.RequiresNewToken {
		label = "auth"
	}
	prom.AddCarrierRequestDuration(elapsed, label)
	prom.IncCarrierRequest(label)

	return outcome
}

func (c *Client) interpretTransfer(ctx context.Context, status int, body []byte, err error, txnID string) TransferOutcome {
	if err != nil {
		msg := "Cannot reach carrier API"
		code := fasthttp.StatusServiceUnavailable
		if strings.Contains(err.Error(), "timeout") || strings.Contains(err.Error(), "deadline") {
			msg = "Request timeout - carrier API not responding"
			code = fasthttp.StatusRequestTimeout
		}
		logger.Warn("carrier request failed", "txn", txnID, "error", err)
		return TransferOutcome{Success: false, TransactionID: txnID, Message: msg, StatusCode: code}
	}

	raw := string(body)

	if status == fasthttp.StatusOK || status == fasthttp.StatusCreated {
		// Some carrier failures ride a 2xx with a failure envelope.
		var envelope struct {
			Success *bool           `json:"success"`
			Status  string          `json:"status"`
			Error   json.RawMessage `json:"error"`
			Message string          `json:"message"`
		}
		_ = json.Unmarshal(body, &envelope)
		errField := strings.TrimSpace(string(envelope.Error))
		hasError := errField != "" && errField != "null" && errField != `""` && errField != "false"
		failed := (envelope.Success != nil && !*envelope.Success) ||
			hasError ||
			envelope.Status == "failed" || envelope.Status == "error"
		if failed {
			msg := envelope.Message
			if msg == "" {
				msg = "Order failed despite 2xx response"
			}
			logger.Warn("carrier returned 2xx with failure body", "txn", txnID, "body", raw)
			return TransferOutcome{Success: false, TransactionID: txnID, Message: msg, StatusCode: status, RawResponse: raw}
		}
		logger.Info("bundle sent", "txn", txnID)
		return TransferOutcome{Success: true, TransactionID: txnID, StatusCode: status, RawResponse: raw}
	}

	if status == fasthttp.StatusUnauthorized {
		_ = c.tokens.DeactivateAll(ctx, "Token expired - 401")
		logger.Warn("carrier rejected token", "txn", txnID)
		return TransferOutcome{
			Success:          false,
			TransactionID:    txnID,
			Message:          "Token expired. Refresh token in settings.",
			StatusCode:       status,
			RequiresNewToken: true,
		}
	}

	logger.Warn("carrier api error", "txn", txnID, "status", status, "body", raw)
	return TransferOutcome{
		Success:       false,
		TransactionID: txnID,
		Message:       fmt.Sprintf("Request failed (%d)", status),
		StatusCode:    status,
		RawResponse:   raw,
	}
}

// LiveBalance is the carrier's authoritative view of the sharer pool.
type LiveBalance struct {
	Success      bool    `json:"success"`
	Msisdn       string  `json:"msisdn,omitempty"`
	Plan         string  `json:"plan,omitempty"`
	TotalDataGB  float64 `json:"total_data_gb"`
	BalanceGB    float64 `json:"balance_gb"`
	UsedDataGB   float64 `json:"used_data_gb"`
	UsagePercent int     `json:"usage_percent"`
	EndDate      string  `json:"end_date,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// FetchLiveBalance reads the sharer subscription from the carrier. The
// carrier reports the balance in KB; callers get GB. Best-effort: any
// failure comes back as an unsuccessful balance, not an error.
func (c *Client) FetchLiveBalance(ctx context.Context) LiveBalance {
	bearer, err := c.authToken(ctx)
	if err != nil {
		return LiveBalance{Success: false, Error: "no carrier token available"}
	}

	phone := c.config.SubscriberMsisdn
	if strings.HasPrefix(phone, "233") {
		phone = "0" + phone[3:]
	}

	status, body, err := c.doRequest(ctx, fasthttp.MethodGet,
		"/enterprise-request/api/data-sharer/prepaid/subscriptions/"+phone,
		nil, bearer, c.config.BalanceTimeout)
	if err != nil {
		logger.Warn("live balance fetch failed", "error", err)
		return LiveBalance{Success: false, Error: err.Error()}
	}
	if status < 200 || status >= 300 {
		return LiveBalance{Success: false, Error: fmt.Sprintf("balance request failed (%d)", status)}
	}

	var resp struct {
		Data []struct {
			Msisdn  string      `json:"msisdn"`
			Plan    string      `json:"plan"`
			Balance json.Number `json:"balance"`
			Data    json.Number `json:"data"`
			EndDate string      `json:"endDate"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 {
		return LiveBalance{Success: false, Error: "no active subscription found on carrier"}
	}

	sub := resp.Data[0]
	balanceKB, _ := sub.Balance.Float64()
	balanceGB := roundGB(balanceKB / 1048576)
	totalGB, _ := sub.Data.Float64()
	usedGB := roundGB(totalGB - balanceGB)

	usagePercent := 0
	if totalGB > 0 {
		usagePercent = int(usedGB/totalGB*100 + 0.5)
	}

	return LiveBalance{
		Success:      true,
		Msisdn:       sub.Msisdn,
		Plan:         sub.Plan,
		TotalDataGB:  totalGB,
		BalanceGB:    balanceGB,
		UsedDataGB:   usedGB,
		UsagePercent: usagePercent,
		EndDate:      sub.EndDate,
	}
}

func roundGB(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// formatVolume renders the GB amount the way the portal sends it: whole
// numbers without a decimal point.
func formatVolume(amountGB float64) string {
	if amountGB == float64(int64(amountGB)) {
		return fmt.Sprintf("%d", int64(amountGB))
	}
	return fmt.Sprintf("%g", amountGB)
}

const txnCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func newTransactionID() string {
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = txnCharset[rand.Intn(len(txnCharset))]
	}
	return fmt.Sprintf("ERP%s%d", suffix, time.Now().UnixMilli())
}
