package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oseilabs/bundle-gateway/internal/carrier"
	"github.com/oseilabs/bundle-gateway/internal/ledger"
	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/internal/repository"
	"github.com/oseilabs/bundle-gateway/pkg/logger"
	"github.com/oseilabs/bundle-gateway/pkg/prom"
)

const tokenPauseReason = "Token expired - waiting for new token"

// cleanupInterval drives the periodic purge of old terminal jobs.
const cleanupInterval = 24 * time.Hour
const cleanupRetention = 7 * 24 * time.Hour

type JobStore interface {
	ClaimNext(ctx context.Context) (*model.Job, error)
	MarkCompleted(ctx context.Context, id int64, res model.JobResult, transferID int64) error
	MarkFailed(ctx context.Context, id int64, res model.JobResult, errMsg string, transferID *int64) error
	ReturnToPending(ctx context.Context, id int64, errMsg string) error
	PauseForToken(ctx context.Context, triggerID int64, reason string) (int64, error)
	ResumePaused(ctx context.Context) (int64, error)
	SweepStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	CountPending(ctx context.Context) (int64, error)
	CountPaused(ctx context.Context) (int64, error)
}

type TransferStore interface {
	Create(ctx context.Context, t *model.TransferRecord) (*model.TransferRecord, error)
	Delete(ctx context.Context, id int64) error
}

type DataRequestStore interface {
	MarkCompleted(ctx context.Context, id int64, transferID int64) error
	MarkFailed(ctx context.Context, id int64) error
}

// CarrierGateway is the one call the worker makes to the outside world.
type CarrierGateway interface {
	Transfer(ctx context.Context, phone string, amountGB float64) carrier.TransferOutcome
}

// BalanceService covers the debits and refunds the worker performs
// around a transfer.
type BalanceService interface {
	Pool(ctx context.Context, subscriptionID int64) (*model.SubscriptionPool, error)
	DebitPool(ctx context.Context, subscriptionID int64, amountGB float64) error
	Debit(ctx context.Context, req ledger.DebitRequest) error
	Refund(ctx context.Context, req ledger.DebitRequest) error
}

type WorkerConfig struct {
	PollInterval time.Duration
	JobDelay     time.Duration
	StaleAfter   time.Duration
}

// Worker drains the job queue one job at a time. Single-flight by
// construction: an in-process guard stops overlapping ticks, and the
// claim statement in the store stops a second process from taking the
// same job.
type Worker struct {
	jobs      JobStore
	transfers TransferStore
	requests  DataRequestStore
	carrier   CarrierGateway
	balances  BalanceService
	notifier  *Notifier
	config    WorkerConfig

	processing  atomic.Bool
	tokenPaused atomic.Bool
	wake        chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(jobs JobStore, transfers TransferStore, requests DataRequestStore, gateway CarrierGateway, balances BalanceService, notifier *Notifier, config WorkerConfig) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = 3 * time.Second
	}
	if config.JobDelay <= 0 {
		config.JobDelay = 2 * time.Second
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		jobs:      jobs,
		transfers: transfers,
		requests:  requests,
		carrier:   gateway,
		balances:  balances,
		notifier:  notifier,
		config:    config,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start sweeps stranded jobs from a previous crash, then runs the loop
// until Stop. Processes immediately on start, like every enqueue does.
func (w *Worker) Start() {
	if n, err := w.jobs.SweepStaleProcessing(w.ctx, w.config.StaleAfter); err != nil {
		logger.Error("stale job sweep failed", "error", err)
	} else if n > 0 {
		logger.Warn("requeued stale processing jobs", "count", n)
	}

	// A previous run may have paused the queue before dying.
	if paused, err := w.jobs.CountPaused(w.ctx); err == nil && paused > 0 {
		w.tokenPaused.Store(true)
		logger.Warn("queue starts token-paused", "paused_jobs", paused)
	}

	w.wg.Add(1)
	go w.run()

	w.Nudge()
	logger.Info("queue worker started", "poll_interval", w.config.PollInterval, "job_delay", w.config.JobDelay)
}

func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	logger.Info("queue worker stopped")
}

// Nudge wakes the loop without waiting for the next poll tick.
func (w *Worker) Nudge() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	var remote <-chan struct{}
	if w.notifier != nil {
		remote = w.notifier.Subscribe(w.ctx)
	} else {
		remote = make(chan struct{})
	}

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		case <-remote:
		case <-cleanup.C:
			if n, err := w.jobs.Cleanup(w.ctx, cleanupRetention); err == nil && n > 0 {
				logger.Info("purged old terminal jobs", "count", n)
			}
			continue
		}
		w.drain()
	}
}

// drain processes jobs back to back, pacing between them, until the
// queue is empty or paused.
func (w *Worker) drain() {
	for {
		processed := w.ProcessNext(w.ctx)
		if !processed {
			return
		}

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(w.config.JobDelay):
		}

		pending, err := w.jobs.CountPending(w.ctx)
		if err != nil || pending == 0 {
			return
		}
	}
}

// ProcessNext claims and processes at most one job. Returns true when a
// job was handled, false when the queue is empty, paused, or busy.
func (w *Worker) ProcessNext(ctx context.Context) bool {
	if !w.processing.CompareAndSwap(false, true) {
		return false
	}
	defer w.processing.Store(false)

	if w.tokenPaused.Load() {
		// Another process (the API's token handlers) may have resumed
		// the paused jobs; the flag follows the database.
		paused, err := w.jobs.CountPaused(ctx)
		if err != nil || paused > 0 {
			return false
		}
		w.tokenPaused.Store(false)
		logger.Info("token pause lifted")
	}

	job, err := w.jobs.ClaimNext(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNoPendingJobs) && !errors.Is(err, repository.ErrJobClaimConflict) {
			logger.Error("job claim failed", "error", err)
		}
		return false
	}

	logger.Info("processing job", "job_id", job.ID, "amount_gb", job.AmountGB, "phone", job.BeneficiaryPhone, "attempt", job.Attempts)

	if job.Source == model.FundingSubscription {
		if !w.preflightSubscription(ctx, job) {
			return true
		}
	}

	outcome := w.carrier.Transfer(ctx, job.BeneficiaryPhone, job.AmountGB)

	transfer, err := w.recordTransfer(ctx, job, outcome)
	if err != nil {
		logger.Error("transfer record write failed", "job_id", job.ID, "error", err)
		_ = w.jobs.ReturnToPending(ctx, job.ID, "internal error persisting transfer")
		return true
	}

	switch {
	case outcome.Success:
		w.completeJob(ctx, job, outcome, transfer)
	case outcome.RequiresNewToken:
		w.pauseForToken(ctx, job, transfer)
	case job.Attempts < job.MaxAttempts:
		logger.Warn("job will retry", "job_id", job.ID, "attempt", job.Attempts, "max_attempts", job.MaxAttempts, "error", outcome.Message)
		_ = w.jobs.ReturnToPending(ctx, job.ID, outcome.Message)
	default:
		w.failJob(ctx, job, outcome.Message, &transfer.ID, outcome.StatusCode)
	}

	return true
}

// preflightSubscription fails subscription-funded jobs whose pool can no
// longer cover them, without any carrier traffic. Returns false when the
// job was terminated here.
func (w *Worker) preflightSubscription(ctx context.Context, job *model.Job) bool {
	pool, err := w.balances.Pool(ctx, *job.SubscriptionID)
	if err != nil || pool.Status != model.SubscriptionActive {
		w.failJobSynthetic(ctx, job, "Subscription no longer active")
		return false
	}
	if pool.RemainingGB < job.AmountGB {
		w.failJobSynthetic(ctx, job, fmt.Sprintf("Insufficient data. Remaining: %.2fGB, needed: %.2fGB", pool.RemainingGB, job.AmountGB))
		return false
	}
	return true
}

func (w *Worker) recordTransfer(ctx context.Context, job *model.Job, outcome carrier.TransferOutcome) (*model.TransferRecord, error) {
	status := model.TransferFailed
	if outcome.Success {
		status = model.TransferSuccess
	}
	txnID := outcome.TransactionID
	if txnID == "" {
		txnID = uuid.NewString()
	}

	return w.transfers.Create(ctx, &model.TransferRecord{
		UserID:           job.UserID,
		SubscriptionID:   job.SubscriptionID,
		BeneficiaryName:  job.BeneficiaryName,
		BeneficiaryPhone: job.BeneficiaryPhone,
		AmountGB:         job.AmountGB,
		TransactionID:    txnID,
		Status:           status,
		Source:           job.Source,
		CarrierResponse:  outcome.RawResponse,
		ErrorMessage:     outcome.Message,
		RequiresNewToken: outcome.RequiresNewToken,
	})
}

func (w *Worker) completeJob(ctx context.Context, job *model.Job, outcome carrier.TransferOutcome, transfer *model.TransferRecord) {
	switch job.Source {
	case model.FundingSubscription:
		if err := w.balances.DebitPool(ctx, *job.SubscriptionID, job.AmountGB); err != nil {
			// The transfer already went out; the pool resync from the
			// carrier will reconcile the local counter.
			logger.Error("pool debit after transfer failed", "job_id", job.ID, "error", err)
		}
	case model.FundingCredit:
		if err := w.balances.Debit(ctx, ledger.DebitRequest{
			UserID:        job.UserID,
			Denomination:  model.DenomGB,
			Amount:        job.AmountGB,
			PerformedBy:   job.UserID,
			Note:          fmt.Sprintf("Sent %gGB to %s", job.AmountGB, job.BeneficiaryPhone),
			DataRequestID: job.DataRequestID,
		}); err != nil {
			logger.Error("credit debit after transfer failed", "job_id", job.ID, "error", err)
		}
	}

	if job.DataRequestID != nil {
		if err := w.requests.MarkCompleted(ctx, *job.DataRequestID, transfer.ID); err != nil {
			logger.Error("data request update failed", "request_id", *job.DataRequestID, "error", err)
		}
	}

	res := model.JobResult{
		Success:       true,
		TransactionID: transfer.TransactionID,
		Message:       fmt.Sprintf("Sent %gGB to %s", job.AmountGB, job.BeneficiaryPhone),
		StatusCode:    outcome.StatusCode,
	}
	if err := w.jobs.MarkCompleted(ctx, job.ID, res, transfer.ID); err != nil {
		logger.Error("job completion write failed", "job_id", job.ID, "error", err)
		return
	}

	prom.IncJobProcessed("completed")
	logger.Info("job completed", "job_id", job.ID, "txn", transfer.TransactionID)
}

// pauseForToken handles a dead bearer token: the attempt never counted,
// the transfer record is discarded, and the whole queue freezes until an
// admin brings a fresh token.
func (w *Worker) pauseForToken(ctx context.Context, job *model.Job, transfer *model.TransferRecord) {
	if err := w.transfers.Delete(ctx, transfer.ID); err != nil {
		logger.Error("discarding token-failure transfer record failed", "transfer_id", transfer.ID, "error", err)
	}

	paused, err := w.jobs.PauseForToken(ctx, job.ID, tokenPauseReason)
	if err != nil {
		logger.Error("queue pause failed", "job_id", job.ID, "error", err)
		return
	}

	w.tokenPaused.Store(true)
	prom.IncTokenPause()
	logger.Warn("token expired, queue paused", "paused_jobs", paused)
}

// failJob finalizes a job at its attempt ceiling: terminal status,
// credit-funded refund, linked request failed.
func (w *Worker) failJob(ctx context.Context, job *model.Job, errMsg string, transferID *int64, statusCode int) {
	res := model.JobResult{
		Success:    false,
		Message:    errMsg,
		StatusCode: statusCode,
	}
	if err := w.jobs.MarkFailed(ctx, job.ID, res, errMsg, transferID); err != nil {
		logger.Error("job failure write failed", "job_id", job.ID, "error", err)
		return
	}

	if job.Source == model.FundingCredit {
		w.refundJob(ctx, job, errMsg)
	}

	if job.DataRequestID != nil {
		if err := w.requests.MarkFailed(ctx, *job.DataRequestID); err != nil {
			logger.Error("data request update failed", "request_id", *job.DataRequestID, "error", err)
		}
	}

	prom.IncJobProcessed("failed")
	logger.Warn("job failed", "job_id", job.ID, "attempts", job.Attempts, "error", errMsg)
}

// failJobSynthetic terminates a job before any carrier call, recording a
// synthetic failed transfer so the history still shows the attempt.
func (w *Worker) failJobSynthetic(ctx context.Context, job *model.Job, errMsg string) {
	transfer, err := w.transfers.Create(ctx, &model.TransferRecord{
		UserID:           job.UserID,
		SubscriptionID:   job.SubscriptionID,
		BeneficiaryName:  job.BeneficiaryName,
		BeneficiaryPhone: job.BeneficiaryPhone,
		AmountGB:         job.AmountGB,
		TransactionID:    uuid.NewString(),
		Status:           model.TransferFailed,
		Source:           job.Source,
		ErrorMessage:     errMsg,
	})

	var transferID *int64
	if err != nil {
		logger.Error("synthetic transfer record write failed", "job_id", job.ID, "error", err)
	} else {
		transferID = &transfer.ID
	}

	w.failJob(ctx, job, errMsg, transferID, 0)
}

// refundJob returns the debited amount for a terminally failed
// credit-funded job. GHS-funded jobs refund the currency amount that was
// originally charged, not the data amount.
func (w *Worker) refundJob(ctx context.Context, job *model.Job, reason string) {
	req := ledger.DebitRequest{
		UserID:        job.UserID,
		Denomination:  model.DenomGB,
		Amount:        job.AmountGB,
		PerformedBy:   job.UserID,
		Note:          "Send failed: " + reason,
		DataRequestID: job.DataRequestID,
	}
	if job.RefundGHS > 0 {
		req.Denomination = model.DenomGHS
		req.Amount = job.RefundGHS
	}

	if err := w.balances.Refund(ctx, req); err != nil {
		logger.Error("refund failed", "job_id", job.ID, "error", err)
		return
	}
	logger.Info("credit refunded", "job_id", job.ID, "denomination", string(req.Denomination), "amount", req.Amount)
}

// ResumePaused moves every paused job back to pending and wakes the
// loop. Called after a new token is activated; resuming zero jobs is a
// no-op.
func (w *Worker) ResumePaused(ctx context.Context) (int64, error) {
	resumed, err := w.jobs.ResumePaused(ctx)
	if err != nil {
		return 0, err
	}

	w.tokenPaused.Store(false)
	if resumed > 0 {
		logger.Info("token refreshed, resumed paused jobs", "count", resumed)
		w.Nudge()
	}
	return resumed, nil
}

// TokenPaused reports whether the loop is frozen waiting for a token.
func (w *Worker) TokenPaused() bool {
	return w.tokenPaused.Load()
}
