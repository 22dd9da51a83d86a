package fixtures

import (
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
)

var (
	TestPoolFull = model.SubscriptionPool{
		ID:          1,
		UserID:      1,
		PackageName: "Bundle Sharer 111GB",
		TotalGB:     111,
		RemainingGB: 111,
		Status:      model.SubscriptionActive,
	}

	TestPoolNearlyDrained = model.SubscriptionPool{
		ID:          2,
		UserID:      2,
		PackageName: "Bundle Sharer 223GB",
		TotalGB:     223,
		RemainingGB: 1.5,
		UsedGB:      221.5,
		Status:      model.SubscriptionActive,
	}

	TestPoolExpired = model.SubscriptionPool{
		ID:          3,
		UserID:      3,
		PackageName: "Bundle Sharer 111GB",
		TotalGB:     111,
		RemainingGB: 40,
		UsedGB:      71,
		Status:      model.SubscriptionExpired,
	}
)

func NewTestJobRequest(userID int64, phone string, amountGB float64, source model.FundingSource) model.JobCreateRequest {
	return model.JobCreateRequest{
		UserID:           userID,
		BeneficiaryPhone: phone,
		AmountGB:         amountGB,
		Source:           source,
	}
}

func NewTestParcel(userID int64, denom model.Denomination, amount float64) *model.CreditParcel {
	return &model.CreditParcel{
		UserID:       userID,
		Denomination: denom,
		Amount:       amount,
		Remaining:    amount,
		Status:       model.ParcelActive,
		CreatedAt:    time.Now(),
	}
}

var (
	ValidPhoneNumbers = []string{
		"0241234567",
		"0551112223",
		"233241234567",
		"+233 24 123 4567",
		"024-123-4567",
	}

	InvalidPhoneNumbers = []string{
		"",
		"123",
		"invalid",
		"+",
		"02412345678901",
	}
)

func SubscriptionJobRequest(userID, subscriptionID int64, phone string, amountGB float64) model.JobCreateRequest {
	req := NewTestJobRequest(userID, phone, amountGB, model.FundingSubscription)
	req.SubscriptionID = &subscriptionID
	return req
}

func CreditJobRequest(userID int64, phone string, amountGB, refundGHS float64) model.JobCreateRequest {
	req := NewTestJobRequest(userID, phone, amountGB, model.FundingCredit)
	req.RefundGHS = refundGHS
	return req
}
