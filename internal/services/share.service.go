package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/oseilabs/bundle-gateway/internal/carrier"
	"github.com/oseilabs/bundle-gateway/internal/ledger"
	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/pkg/logger"
)

var (
	ErrInvalidPhone         = errors.New("invalid recipient phone number")
	ErrInvalidAmount        = errors.New("amount must be greater than 0")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrTransferFailed       = errors.New("transfer failed")
)

type JobStore interface {
	Create(ctx context.Context, job *model.Job) (*model.Job, error)
	CreateBatch(ctx context.Context, jobs []*model.Job) ([]*model.Job, error)
	Get(ctx context.Context, id int64) (*model.Job, error)
	Status(ctx context.Context, userID int64) (*model.QueueStatus, error)
	List(ctx context.Context, f model.JobFilter) ([]*model.Job, int64, error)
	RetryFailed(ctx context.Context, userID int64) (int64, error)
	CancelPending(ctx context.Context, userID int64) (int64, error)
}

type TransferStore interface {
	Create(ctx context.Context, t *model.TransferRecord) (*model.TransferRecord, error)
	List(ctx context.Context, f model.TransferFilter) ([]*model.TransferRecord, int64, error)
}

type CarrierGateway interface {
	Transfer(ctx context.Context, phone string, amountGB float64) carrier.TransferOutcome
}

type BalanceLedger interface {
	Balance(ctx context.Context, userID int64, denom model.Denomination) (float64, error)
	ActiveDenomination(ctx context.Context, userID int64) (model.Denomination, error)
	Debit(ctx context.Context, req ledger.DebitRequest) error
	DebitPool(ctx context.Context, subscriptionID int64, amountGB float64) error
	Pool(ctx context.Context, subscriptionID int64) (*model.SubscriptionPool, error)
	PoolForUser(ctx context.Context, userID int64) (*model.SubscriptionPool, error)
}

// Nudger wakes the queue worker after new jobs are inserted.
type Nudger interface {
	Nudge()
}

// ShareService is the dashboard-facing entry point for moving data:
// immediate synchronous sends and queued single/bulk sends, plus the
// queue management calls handlers expose.
type ShareService struct {
	jobs      JobStore
	transfers TransferStore
	carrier   CarrierGateway
	balances  BalanceLedger
	nudger    Nudger
}

func NewShareService(jobs JobStore, transfers TransferStore, gateway CarrierGateway, balances BalanceLedger, nudger Nudger) *ShareService {
	return &ShareService{
		jobs:      jobs,
		transfers: transfers,
		carrier:   gateway,
		balances:  balances,
		nudger:    nudger,
	}
}

// SendRequest is one immediate send, bypassing the queue.
type SendRequest struct {
	UserID           int64
	SubscriptionID   *int64
	BeneficiaryName  string
	BeneficiaryPhone string
	AmountGB         float64
	Source           model.FundingSource
	// PriceGHS is the currency amount charged on success for ghs-credit
	// users, taken from their package rate. Zero for gb-credit users.
	PriceGHS float64
}

// Send performs one synchronous transfer: balance pre-check, carrier
// call, TransferRecord, then the debit only after confirmed success.
// Carrier-side failures come back as a failed record wrapped in
// ErrTransferFailed, never as a bare error.
func (s *ShareService) Send(ctx context.Context, req SendRequest) (*model.TransferRecord, error) {
	phone, err := FormatAndValidate(req.BeneficiaryPhone, req.AmountGB)
	if err != nil {
		return nil, err
	}
	req.BeneficiaryPhone = phone

	if err := s.checkFunding(ctx, req); err != nil {
		return nil, err
	}

	outcome := s.carrier.Transfer(ctx, req.BeneficiaryPhone, req.AmountGB)

	status := model.TransferFailed
	if outcome.Success {
		status = model.TransferSuccess
	}
	record, err := s.transfers.Create(ctx, &model.TransferRecord{
		UserID:           req.UserID,
		SubscriptionID:   req.SubscriptionID,
		BeneficiaryName:  req.BeneficiaryName,
		BeneficiaryPhone: req.BeneficiaryPhone,
		AmountGB:         req.AmountGB,
		TransactionID:    outcome.TransactionID,
		Status:           status,
		Source:           req.Source,
		CarrierResponse:  outcome.RawResponse,
		ErrorMessage:     outcome.Message,
		RequiresNewToken: outcome.RequiresNewToken,
	})
	if err != nil {
		return nil, err
	}

	if !outcome.Success {
		return record, fmt.Errorf("%w: %s", ErrTransferFailed, outcome.Message)
	}

	s.commitDebit(ctx, req)
	logger.Info("immediate send completed", "user_id", req.UserID, "amount_gb", req.AmountGB, "txn", record.TransactionID)
	return record, nil
}

func (s *ShareService) checkFunding(ctx context.Context, req SendRequest) error {
	switch req.Source {
	case model.FundingSubscription:
		if req.SubscriptionID == nil {
			return ErrNoActiveSubscription
		}
		pool, err := s.balances.Pool(ctx, *req.SubscriptionID)
		if err != nil || pool.Status != model.SubscriptionActive {
			return ErrNoActiveSubscription
		}
		if pool.RemainingGB < req.AmountGB {
			return fmt.Errorf("%w: available %.2fGB, needed %.2fGB", ErrInsufficientBalance, pool.RemainingGB, req.AmountGB)
		}
		return nil
	case model.FundingCredit:
		denom, needed := creditCharge(req.PriceGHS, req.AmountGB)
		balance, err := s.balances.Balance(ctx, req.UserID, denom)
		if err != nil {
			return err
		}
		if balance < needed {
			return fmt.Errorf("%w: available %.2f%s, needed %.2f%s", ErrInsufficientBalance, balance, denom, needed, denom)
		}
		return nil
	default:
		return fmt.Errorf("unknown funding source %q", req.Source)
	}
}

// commitDebit applies the post-success deduction. Failures are logged,
// not returned: the transfer already happened and the record stands.
func (s *ShareService) commitDebit(ctx context.Context, req SendRequest) {
	switch req.Source {
	case model.FundingSubscription:
		if err := s.balances.DebitPool(ctx, *req.SubscriptionID, req.AmountGB); err != nil {
			logger.Error("pool debit after send failed", "user_id", req.UserID, "error", err)
		}
	case model.FundingCredit:
		denom, amount := creditCharge(req.PriceGHS, req.AmountGB)
		err := s.balances.Debit(ctx, ledger.DebitRequest{
			UserID:       req.UserID,
			Denomination: denom,
			Amount:       amount,
			PerformedBy:  req.UserID,
			Note:         fmt.Sprintf("Sent %gGB to %s", req.AmountGB, req.BeneficiaryPhone),
		})
		if err != nil {
			logger.Error("credit debit after send failed", "user_id", req.UserID, "error", err)
		}
	}
}

func creditCharge(priceGHS, amountGB float64) (model.Denomination, float64) {
	if priceGHS > 0 {
		return model.DenomGHS, priceGHS
	}
	return model.DenomGB, amountGB
}

// Enqueue validates one job and inserts it pending. Credit-funded jobs
// are rejected up front when the balance cannot cover them; nothing is
// debited until the worker confirms the transfer.
func (s *ShareService) Enqueue(ctx context.Context, req model.JobCreateRequest) (*model.Job, error) {
	job, err := s.buildJob(ctx, req)
	if err != nil {
		return nil, err
	}

	created, err := s.jobs.Create(ctx, job)
	if err != nil {
		return nil, err
	}

	if s.nudger != nil {
		s.nudger.Nudge()
	}
	logger.Info("job enqueued", "job_id", created.ID, "user_id", created.UserID, "amount_gb", created.AmountGB)
	return created, nil
}

// EnqueueBulk inserts a batch of subscription-funded jobs after checking
// the pool covers the batch total.
func (s *ShareService) EnqueueBulk(ctx context.Context, userID int64, subscriptionID int64, reqs []model.JobCreateRequest) ([]*model.Job, error) {
	if len(reqs) == 0 {
		return nil, errors.New("no jobs to enqueue")
	}

	var totalGB float64
	jobs := make([]*model.Job, 0, len(reqs))
	for i := range reqs {
		reqs[i].UserID = userID
		reqs[i].SubscriptionID = &subscriptionID
		reqs[i].Source = model.FundingSubscription

		phone, err := FormatAndValidate(reqs[i].BeneficiaryPhone, reqs[i].AmountGB)
		if err != nil {
			return nil, err
		}
		reqs[i].BeneficiaryPhone = phone
		if err := reqs[i].Validate(); err != nil {
			return nil, err
		}
		totalGB += reqs[i].AmountGB
		jobs = append(jobs, jobFromRequest(reqs[i]))
	}

	pool, err := s.balances.Pool(ctx, subscriptionID)
	if err != nil || pool.Status != model.SubscriptionActive {
		return nil, ErrNoActiveSubscription
	}
	if pool.RemainingGB < totalGB {
		return nil, fmt.Errorf("%w: need %.2fGB, have %.2fGB", ErrInsufficientBalance, totalGB, pool.RemainingGB)
	}

	created, err := s.jobs.CreateBatch(ctx, jobs)
	if err != nil {
		return nil, err
	}

	if s.nudger != nil {
		s.nudger.Nudge()
	}
	logger.Info("bulk jobs enqueued", "user_id", userID, "count", len(created), "total_gb", totalGB)
	return created, nil
}

func (s *ShareService) buildJob(ctx context.Context, req model.JobCreateRequest) (*model.Job, error) {
	phone, err := FormatAndValidate(req.BeneficiaryPhone, req.AmountGB)
	if err != nil {
		return nil, err
	}
	req.BeneficiaryPhone = phone

	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch req.Source {
	case model.FundingSubscription:
		pool, err := s.balances.Pool(ctx, *req.SubscriptionID)
		if err != nil || pool.Status != model.SubscriptionActive {
			return nil, ErrNoActiveSubscription
		}
		if pool.RemainingGB < req.AmountGB {
			return nil, fmt.Errorf("%w: available %.2fGB, needed %.2fGB", ErrInsufficientBalance, pool.RemainingGB, req.AmountGB)
		}
	case model.FundingCredit:
		denom, needed := creditCharge(req.RefundGHS, req.AmountGB)
		balance, err := s.balances.Balance(ctx, req.UserID, denom)
		if err != nil {
			return nil, err
		}
		if balance < needed {
			return nil, fmt.Errorf("%w: available %.2f%s, needed %.2f%s", ErrInsufficientBalance, balance, denom, needed, denom)
		}
	}

	return jobFromRequest(req), nil
}

func jobFromRequest(req model.JobCreateRequest) *model.Job {
	name := req.BeneficiaryName
	if name == "" {
		name = req.BeneficiaryPhone
	}
	return &model.Job{
		UserID:           req.UserID,
		SubscriptionID:   req.SubscriptionID,
		DataRequestID:    req.DataRequestID,
		BeneficiaryName:  name,
		BeneficiaryPhone: req.BeneficiaryPhone,
		AmountGB:         req.AmountGB,
		Source:           req.Source,
		RefundGHS:        req.RefundGHS,
		Status:           model.JobStatusPending,
		Priority:         req.Priority,
		MaxAttempts:      model.DefaultMaxAttempts,
	}
}

// FormatAndValidate normalizes the phone and bounds-checks the amount,
// mapping carrier validation failures to service errors.
func FormatAndValidate(phone string, amountGB float64) (string, error) {
	formatted, err := carrier.FormatPhone(phone)
	if err != nil {
		return "", ErrInvalidPhone
	}
	if amountGB <= 0 || amountGB > carrier.MaxTransferGB {
		return "", ErrInvalidAmount
	}
	return formatted, nil
}

// QueueStatus returns the per-user job count breakdown.
func (s *ShareService) QueueStatus(ctx context.Context, userID int64) (*model.QueueStatus, error) {
	return s.jobs.Status(ctx, userID)
}

func (s *ShareService) Jobs(ctx context.Context, f model.JobFilter) ([]*model.Job, int64, error) {
	return s.jobs.List(ctx, f)
}

func (s *ShareService) Job(ctx context.Context, id int64) (*model.Job, error) {
	return s.jobs.Get(ctx, id)
}

// RetryFailed requeues the user's failed jobs with attempts reset and
// wakes the worker.
func (s *ShareService) RetryFailed(ctx context.Context, userID int64) (int64, error) {
	n, err := s.jobs.RetryFailed(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 && s.nudger != nil {
		s.nudger.Nudge()
	}
	return n, nil
}

// CancelPending force-fails the user's pending jobs. No refund: nothing
// was debited for a pending job.
func (s *ShareService) CancelPending(ctx context.Context, userID int64) (int64, error) {
	return s.jobs.CancelPending(ctx, userID)
}

func (s *ShareService) Transfers(ctx context.Context, f model.TransferFilter) ([]*model.TransferRecord, int64, error) {
	return s.transfers.List(ctx, f)
}
