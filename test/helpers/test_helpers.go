package helpers

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/oseilabs/bundle-gateway/internal/repository"
	"github.com/oseilabs/bundle-gateway/pkg/pg"
	"github.com/oseilabs/bundle-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.JobEntity{},
		&repository.SubscriptionEntity{},
		&repository.CreditParcelEntity{},
		&repository.LedgerEntryEntity{},
		&repository.TransferEntity{},
		&repository.CarrierTokenEntity{},
		&repository.DataRequestEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Unique connection name per test to avoid global adapter caching issues
	connName := fmt.Sprintf("test-%d", time.Now().UnixNano())
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestSubscription(t *testing.T, db *pg.DB, userID int64, totalGB, remainingGB float64) *repository.SubscriptionEntity {
	ctx := context.Background()
	sub := &repository.SubscriptionEntity{
		UserID:      userID,
		PackageName: "Bundle Sharer 111GB",
		TotalGB:     totalGB,
		RemainingGB: remainingGB,
		UsedGB:      totalGB - remainingGB,
		Status:      string(model.SubscriptionActive),
		ExpiresAt:   time.Now().AddDate(0, 1, 0),
	}
	err := db.Write(ctx).Create(sub).Error
	require.NoError(t, err)
	return sub
}

func CreateTestParcel(t *testing.T, db *pg.DB, userID int64, denom model.Denomination, amount float64) *repository.CreditParcelEntity {
	ctx := context.Background()
	parcel := &repository.CreditParcelEntity{
		UserID:       userID,
		Denomination: string(denom),
		Amount:       amount,
		Remaining:    amount,
		Status:       string(model.ParcelActive),
	}
	err := db.Write(ctx).Create(parcel).Error
	require.NoError(t, err)
	return parcel
}

func CreateTestJob(t *testing.T, db *pg.DB, userID int64, phone string, amountGB float64, source model.FundingSource) *repository.JobEntity {
	ctx := context.Background()
	job := &repository.JobEntity{
		UserID:           userID,
		BeneficiaryName:  phone,
		BeneficiaryPhone: phone,
		AmountGB:         amountGB,
		Source:           string(source),
		Status:           string(model.JobStatusPending),
		MaxAttempts:      model.DefaultMaxAttempts,
		CreatedAt:        time.Now(),
	}
	err := db.Write(ctx).Create(job).Error
	require.NoError(t, err)
	return job
}

func ActivateTestToken(t *testing.T, db *pg.DB, raw string) *repository.CarrierTokenEntity {
	ctx := context.Background()
	token := &repository.CarrierTokenEntity{
		Token:     raw,
		Source:    string(model.TokenSourceManual),
		Active:    true,
		ExpiresAt: time.Now().Add(12 * time.Hour),
	}
	err := db.Write(ctx).Create(token).Error
	require.NoError(t, err)
	return token
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
