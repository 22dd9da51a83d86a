package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/internal/repository"
	"github.com/oseilabs/bundle-gateway/pkg/logger"
)

var (
	ErrInvalidAmount = errors.New("amount must be greater than 0")
	// ErrInsufficientBalance covers both pool and credit overdraws.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDenominationConflict means the user already holds active parcels
	// in the other denomination. A user's credit is gb or ghs, never both.
	ErrDenominationConflict = errors.New("user holds credit in a different denomination")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrParcelNotFound       = errors.New("credit parcel not found")
)

type SubscriptionStore interface {
	Get(ctx context.Context, id int64) (*model.SubscriptionPool, error)
	GetActiveByUser(ctx context.Context, userID int64) (*model.SubscriptionPool, error)
	Debit(ctx context.Context, id int64, amountGB float64) error
	SyncBalance(ctx context.Context, id int64, totalGB, remainingGB, usedGB float64) error
}

type CreditStore interface {
	CreateParcel(ctx context.Context, p *model.CreditParcel) (*model.CreditParcel, error)
	SaveParcel(ctx context.Context, p *model.CreditParcel) error
	ActiveBalance(ctx context.Context, userID int64, denom model.Denomination) (float64, error)
	ActiveParcelsOldestFirst(ctx context.Context, userID int64, denom model.Denomination) ([]*model.CreditParcel, error)
	OldestDepleted(ctx context.Context, userID int64, denom model.Denomination) (*model.CreditParcel, error)
	OldestActive(ctx context.Context, userID int64, denom model.Denomination) (*model.CreditParcel, error)
	HasActiveDenomination(ctx context.Context, userID int64, denom model.Denomination) (bool, error)
	ListParcels(ctx context.Context, userID int64) ([]*model.CreditParcel, error)
	CreateEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error)
	ListEntries(ctx context.Context, f model.LedgerFilter) ([]*model.LedgerEntry, int64, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service is the single owner of balance mutations: subscription pool
// debits and the FIFO credit parcel lifecycle with its audit trail.
type Service struct {
	subscriptions SubscriptionStore
	credits       CreditStore
}

func NewService(subscriptions SubscriptionStore, credits CreditStore) *Service {
	return &Service{
		subscriptions: subscriptions,
		credits:       credits,
	}
}

// GrantRequest describes an admin credit grant.
type GrantRequest struct {
	UserID       int64
	Denomination model.Denomination
	Amount       float64
	GrantedBy    int64
	Note         string
}

// DebitRequest describes one balance deduction or refund.
type DebitRequest struct {
	UserID        int64
	Denomination  model.Denomination
	Amount        float64
	PerformedBy   int64
	Note          string
	DataRequestID *int64
}

func otherDenomination(d model.Denomination) model.Denomination {
	if d == model.DenomGB {
		return model.DenomGHS
	}
	return model.DenomGB
}

// Grant creates a new active parcel plus its credit ledger entry.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*model.CreditParcel, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	conflict, err := s.credits.HasActiveDenomination(ctx, req.UserID, otherDenomination(req.Denomination))
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, ErrDenominationConflict
	}

	var parcel *model.CreditParcel
	err = s.credits.WithinTransaction(ctx, func(ctx context.Context) error {
		balanceBefore, err := s.credits.ActiveBalance(ctx, req.UserID, req.Denomination)
		if err != nil {
			return err
		}

		parcel, err = s.credits.CreateParcel(ctx, &model.CreditParcel{
			UserID:       req.UserID,
			Denomination: req.Denomination,
			Amount:       req.Amount,
			Remaining:    req.Amount,
			Used:         0,
			Status:       model.ParcelActive,
			GrantedBy:    req.GrantedBy,
			Note:         req.Note,
		})
		if err != nil {
			return err
		}

		_, err = s.credits.CreateEntry(ctx, &model.LedgerEntry{
			UserID:        req.UserID,
			Type:          model.EntryCredit,
			Denomination:  req.Denomination,
			Amount:        req.Amount,
			BalanceBefore: balanceBefore,
			BalanceAfter:  balanceBefore + req.Amount,
			PerformedBy:   req.GrantedBy,
			Note:          req.Note,
			ParcelID:      &parcel.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("credit granted", "user_id", req.UserID, "denomination", string(req.Denomination), "amount", req.Amount)
	return parcel, nil
}

// Debit drains the user's active parcels oldest-first and writes exactly
// one debit ledger entry for the whole operation.
func (s *Service) Debit(ctx context.Context, req DebitRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}

	return s.credits.WithinTransaction(ctx, func(ctx context.Context) error {
		balanceBefore, err := s.credits.ActiveBalance(ctx, req.UserID, req.Denomination)
		if err != nil {
			return err
		}
		if balanceBefore < req.Amount {
			return fmt.Errorf("%w: available %.2f, needed %.2f", ErrInsufficientBalance, balanceBefore, req.Amount)
		}

		parcels, err := s.credits.ActiveParcelsOldestFirst(ctx, req.UserID, req.Denomination)
		if err != nil {
			return err
		}

		left := req.Amount
		for _, parcel := range parcels {
			if left <= 0 {
				break
			}
			take := parcel.Remaining
			if take > left {
				take = left
			}
			parcel.Remaining -= take
			parcel.Used += take
			if parcel.Remaining <= 0 {
				parcel.Status = model.ParcelDepleted
			}
			if err := s.credits.SaveParcel(ctx, parcel); err != nil {
				return err
			}
			left -= take
		}
		if left > 0 {
			// Balance check above should make this unreachable.
			return fmt.Errorf("%w: parcels drained short by %.2f", ErrInsufficientBalance, left)
		}

		_, err = s.credits.CreateEntry(ctx, &model.LedgerEntry{
			UserID:        req.UserID,
			Type:          model.EntryDebit,
			Denomination:  req.Denomination,
			Amount:        req.Amount,
			BalanceBefore: balanceBefore,
			BalanceAfter:  balanceBefore - req.Amount,
			PerformedBy:   req.PerformedBy,
			Note:          req.Note,
			DataRequestID: req.DataRequestID,
		})
		return err
	})
}

// Refund returns an amount to the user after a terminally failed job.
// The target is asymmetric on purpose: the oldest depleted parcel is
// revived first, then the oldest active parcel is topped up, and only
// when no parcel exists is a fresh one created.
func (s *Service) Refund(ctx context.Context, req DebitRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}

	return s.credits.WithinTransaction(ctx, func(ctx context.Context) error {
		balanceBefore, err := s.credits.ActiveBalance(ctx, req.UserID, req.Denomination)
		if err != nil {
			return err
		}

		if err := s.refundParcel(ctx, req); err != nil {
			return err
		}

		_, err = s.credits.CreateEntry(ctx, &model.LedgerEntry{
			UserID:        req.UserID,
			Type:          model.EntryRefund,
			Denomination:  req.Denomination,
			Amount:        req.Amount,
			BalanceBefore: balanceBefore,
			BalanceAfter:  balanceBefore + req.Amount,
			PerformedBy:   req.PerformedBy,
			Note:          req.Note,
			DataRequestID: req.DataRequestID,
		})
		return err
	})
}

func (s *Service) refundParcel(ctx context.Context, req DebitRequest) error {
	if parcel, err := s.credits.OldestDepleted(ctx, req.UserID, req.Denomination); err == nil {
		parcel.Remaining += req.Amount
		parcel.Used -= req.Amount
		parcel.Status = model.ParcelActive
		return s.credits.SaveParcel(ctx, parcel)
	} else if !errors.Is(err, repository.ErrParcelNotFound) {
		return err
	}

	if parcel, err := s.credits.OldestActive(ctx, req.UserID, req.Denomination); err == nil {
		parcel.Remaining += req.Amount
		parcel.Used -= req.Amount
		return s.credits.SaveParcel(ctx, parcel)
	} else if !errors.Is(err, repository.ErrParcelNotFound) {
		return err
	}

	_, err := s.credits.CreateParcel(ctx, &model.CreditParcel{
		UserID:       req.UserID,
		Denomination: req.Denomination,
		Amount:       req.Amount,
		Remaining:    req.Amount,
		Used:         0,
		Status:       model.ParcelActive,
		GrantedBy:    req.PerformedBy,
		Note:         "Refund: " + req.Note,
	})
	return err
}

// Balance returns the user's aggregate active balance in a denomination.
func (s *Service) Balance(ctx context.Context, userID int64, denom model.Denomination) (float64, error) {
	return s.credits.ActiveBalance(ctx, userID, denom)
}

// ActiveDenomination reports which denomination the user currently holds,
// or empty when they hold none.
func (s *Service) ActiveDenomination(ctx context.Context, userID int64) (model.Denomination, error) {
	hasGB, err := s.credits.HasActiveDenomination(ctx, userID, model.DenomGB)
	if err != nil {
		return "", err
	}
	if hasGB {
		return model.DenomGB, nil
	}
	hasGHS, err := s.credits.HasActiveDenomination(ctx, userID, model.DenomGHS)
	if err != nil {
		return "", err
	}
	if hasGHS {
		return model.DenomGHS, nil
	}
	return "", nil
}

func (s *Service) Parcels(ctx context.Context, userID int64) ([]*model.CreditParcel, error) {
	return s.credits.ListParcels(ctx, userID)
}

func (s *Service) History(ctx context.Context, f model.LedgerFilter) ([]*model.LedgerEntry, int64, error) {
	return s.credits.ListEntries(ctx, f)
}

// DebitPool takes amountGB out of an active subscription pool.
func (s *Service) DebitPool(ctx context.Context, subscriptionID int64, amountGB float64) error {
	if amountGB <= 0 {
		return ErrInvalidAmount
	}
	err := s.subscriptions.Debit(ctx, subscriptionID, amountGB)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrInsufficientPool):
		return ErrInsufficientBalance
	case errors.Is(err, repository.ErrSubscriptionNotFound):
		return ErrSubscriptionNotFound
	default:
		return err
	}
}

// Pool returns a subscription pool, already auto-expired on read.
func (s *Service) Pool(ctx context.Context, subscriptionID int64) (*model.SubscriptionPool, error) {
	pool, err := s.subscriptions.Get(ctx, subscriptionID)
	if errors.Is(err, repository.ErrSubscriptionNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	return pool, err
}

// PoolForUser returns the user's newest active pool.
func (s *Service) PoolForUser(ctx context.Context, userID int64) (*model.SubscriptionPool, error) {
	pool, err := s.subscriptions.GetActiveByUser(ctx, userID)
	if errors.Is(err, repository.ErrSubscriptionNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	return pool, err
}

// ResyncPool overwrites local pool counters with the carrier's figures.
// Best-effort reconciliation, called when a live balance read succeeds.
func (s *Service) ResyncPool(ctx context.Context, subscriptionID int64, totalGB, remainingGB, usedGB float64) error {
	if err := s.subscriptions.SyncBalance(ctx, subscriptionID, totalGB, remainingGB, usedGB); err != nil {
		return err
	}
	logger.Info("pool resynced from carrier", "subscription_id", subscriptionID, "remaining_gb", remainingGB)
	return nil
}
