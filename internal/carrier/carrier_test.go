package carrier

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenStore struct {
	tokens     []*model.CarrierToken
	lastError  string
	otpFlagged bool
	nextID     int64
}

func (s *fakeTokenStore) Activate(_ context.Context, token *model.CarrierToken) (*model.CarrierToken, error) {
	for _, t := range s.tokens {
		t.Active = false
	}
	s.nextID++
	token.ID = s.nextID
	token.Active = true
	token.CreatedAt = time.Now()
	s.tokens = append([]*model.CarrierToken{token}, s.tokens...)
	return token, nil
}

func (s *fakeTokenStore) Active(_ context.Context) (*model.CarrierToken, error) {
	for _, t := range s.tokens {
		if t.Active && t.ExpiresAt.After(time.Now()) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("carrier token not found")
}

func (s *fakeTokenStore) Newest(_ context.Context) (*model.CarrierToken, error) {
	if len(s.tokens) == 0 {
		return nil, fmt.Errorf("carrier token not found")
	}
	return s.tokens[0], nil
}

func (s *fakeTokenStore) NewestActive(_ context.Context) (*model.CarrierToken, error) {
	for _, t := range s.tokens {
		if t.Active {
			return t, nil
		}
	}
	return nil, fmt.Errorf("carrier token not found")
}

func (s *fakeTokenStore) DeactivateAll(_ context.Context, reason string) error {
	for _, t := range s.tokens {
		if t.Active {
			t.Active = false
			t.LastError = reason
		}
	}
	return nil
}

func (s *fakeTokenStore) MarkOTPRequested(_ context.Context) error {
	s.otpFlagged = true
	return nil
}

func (s *fakeTokenStore) SetLastError(_ context.Context, msg string) error {
	s.lastError = msg
	return nil
}

func (s *fakeTokenStore) History(_ context.Context, limit int) ([]*model.CarrierToken, error) {
	if len(s.tokens) > limit {
		return s.tokens[:limit], nil
	}
	return s.tokens, nil
}

func storeWithActiveToken(token string) *fakeTokenStore {
	store := &fakeTokenStore{}
	_, _ = store.Activate(context.Background(), &model.CarrierToken{
		Token:     token,
		Source:    model.TokenSourceManual,
		ExpiresAt: time.Now().Add(6 * time.Hour),
	})
	return store
}

func newTestClient(t *testing.T, baseURL string, store TokenStore) *Client {
	client, err := NewClient(Config{
		BaseURL:          baseURL,
		Email:            "ops@oseilabs.com",
		Password:         "secret",
		PhoneNumber:      "0241112222",
		SubscriberMsisdn: "233241112222",
		SharerPlan:       "Bundle Sharer 111GB",
		RequestTimeout:   5 * time.Second,
		BalanceTimeout:   5 * time.Second,
	}, store)
	require.NoError(t, err)
	return client
}

func TestFormatPhone(t *testing.T) {
	t.Run("country prefix folds to local", func(t *testing.T) {
		got, err := FormatPhone("233241234567")
		require.NoError(t, err)
		assert.Equal(t, "0241234567", got)
	})

	t.Run("formatting characters are stripped", func(t *testing.T) {
		got, err := FormatPhone("+233 24-123-4567")
		require.NoError(t, err)
		assert.Equal(t, "0241234567", got)
	})

	t.Run("local number passes through", func(t *testing.T) {
		got, err := FormatPhone("0551234567")
		require.NoError(t, err)
		assert.Equal(t, "0551234567", got)
	})

	t.Run("missing leading zero is added", func(t *testing.T) {
		got, err := FormatPhone("241234567")
		require.NoError(t, err)
		assert.Equal(t, "0241234567", got)
	})

	t.Run("invalid network digit", func(t *testing.T) {
		_, err := FormatPhone("0141234567")
		assert.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := FormatPhone("02412345")
		assert.Error(t, err)
	})
}

func TestValidateTransfer(t *testing.T) {
	assert.NoError(t, ValidateTransfer("0241234567", 5))
	assert.Error(t, ValidateTransfer("0241234567", 0))
	assert.Error(t, ValidateTransfer("0241234567", -1))
	assert.Error(t, ValidateTransfer("0241234567", 5501))
	assert.NoError(t, ValidateTransfer("0241234567", 5500))
	assert.Error(t, ValidateTransfer("bad", 5))
}

func jwtWithExp(exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"exp":%d}`, exp.Unix())))
	return header + "." + payload + ".sig"
}

func TestTokenExpiry(t *testing.T) {
	t.Run("uses jwt exp claim", func(t *testing.T) {
		exp := time.Now().Add(8 * time.Hour).Truncate(time.Second)
		got := tokenExpiry(jwtWithExp(exp))
		assert.WithinDuration(t, exp, got, time.Second)
	})

	t.Run("past exp falls back to 12h", func(t *testing.T) {
		got := tokenExpiry(jwtWithExp(time.Now().Add(-time.Hour)))
		assert.WithinDuration(t, time.Now().Add(tokenFallbackTTL), got, time.Minute)
	})

	t.Run("opaque token falls back to 12h", func(t *testing.T) {
		got := tokenExpiry("not-a-jwt")
		assert.WithinDuration(t, time.Now().Add(tokenFallbackTTL), got, time.Minute)
	})
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "024******7", maskPhone("0241112227"))
	assert.Equal(t, "233241112227", maskPhone("233241112227"))
}

func TestClient_Transfer(t *testing.T) {
	ctx := context.Background()

	t.Run("successful transfer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/enterprise-request/api/data-sharer/prepaid/add-beneficiary", r.URL.Path)
			assert.Equal(t, "Bearer tok-live", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"status":"ok"}`)
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL, storeWithActiveToken("tok-live"))
		outcome := client.Transfer(ctx, "233241234567", 5)

		assert.True(t, outcome.Success)
		assert.NotEmpty(t, outcome.TransactionID)
		assert.Equal(t, http.StatusOK, outcome.StatusCode)
	})

	t.Run("2xx with failure envelope", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"success":false,"message":"beneficiary limit reached"}`)
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL, storeWithActiveToken("tok-live"))
		outcome := client.Transfer(ctx, "0241234567", 5)

		assert.False(t, outcome.Success)
		assert.Equal(t, "beneficiary limit reached", outcome.Message)
		assert.False(t, outcome.RequiresNewToken)
	})

	t.Run("401 deactivates the token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		store := storeWithActiveToken("tok-dead")
		client := newTestClient(t, srv.URL, store)
		outcome := client.Transfer(ctx, "0241234567", 5)

		assert.False(t, outcome.Success)
		assert.True(t, outcome.RequiresNewToken)
		assert.Equal(t, http.StatusUnauthorized, outcome.StatusCode)

		_, err := store.Active(ctx)
		assert.Error(t, err)
	})

	t.Run("non-2xx carrier error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"errors":"no such plan"}`)
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL, storeWithActiveToken("tok-live"))
		outcome := client.Transfer(ctx, "0241234567", 5)

		assert.False(t, outcome.Success)
		assert.False(t, outcome.RequiresNewToken)
		assert.Equal(t, http.StatusUnprocessableEntity, outcome.StatusCode)
	})

	t.Run("no token yields auth outcome without carrier traffic", func(t *testing.T) {
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL, &fakeTokenStore{})
		outcome := client.Transfer(ctx, "0241234567", 5)

		assert.False(t, outcome.Success)
		assert.True(t, outcome.RequiresNewToken)
		assert.False(t, called)
	})

	t.Run("validation failure short-circuits", func(t *testing.T) {
		client := newTestClient(t, "http://127.0.0.1:0", storeWithActiveToken("tok-live"))
		outcome := client.Transfer(ctx, "0241234567", 9000)

		assert.False(t, outcome.Success)
		assert.Equal(t, http.StatusBadRequest, outcome.StatusCode)
	})

	t.Run("expired token falls back to newest stored", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok-stale", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{}`)
		}))
		defer srv.Close()

		store := &fakeTokenStore{}
		_, _ = store.Activate(ctx, &model.CarrierToken{
			Token:     "tok-stale",
			Source:    model.TokenSourceLogin,
			ExpiresAt: time.Now().Add(-time.Hour),
		})

		client := newTestClient(t, srv.URL, store)
		outcome := client.Transfer(ctx, "0241234567", 5)
		assert.True(t, outcome.Success)
	})
}

func TestClient_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("request login code", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/enterprise-request/api/check-login", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		store := &fakeTokenStore{}
		client := newTestClient(t, srv.URL, store)
		require.NoError(t, client.RequestLoginCode(ctx))
		assert.True(t, store.otpFlagged)
	})

	t.Run("complete login activates token", func(t *testing.T) {
		token := jwtWithExp(time.Now().Add(10 * time.Hour))
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/enterprise-request/api/login", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"token":%q}`, token)
		}))
		defer srv.Close()

		store := &fakeTokenStore{}
		client := newTestClient(t, srv.URL, store)

		created, err := client.CompleteLogin(ctx, "123456")
		require.NoError(t, err)
		assert.Equal(t, model.TokenSourceLogin, created.Source)
		assert.True(t, created.ExpiresAt.After(time.Now().Add(9*time.Hour)))

		active, err := store.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, token, active.Token)
	})

	t.Run("rejected login records error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"wrong otp"}`)
		}))
		defer srv.Close()

		store := &fakeTokenStore{}
		client := newTestClient(t, srv.URL, store)

		_, err := client.CompleteLogin(ctx, "000000")
		assert.ErrorIs(t, err, ErrLoginRejected)
		assert.NotEmpty(t, store.lastError)
	})

	t.Run("manual token", func(t *testing.T) {
		store := &fakeTokenStore{}
		client := newTestClient(t, "http://127.0.0.1:0", store)

		created, err := client.SetManualToken(ctx, "  raw-token  ", 7)
		require.NoError(t, err)
		assert.Equal(t, model.TokenSourceManual, created.Source)
		assert.Equal(t, int64(7), created.RefreshedBy)
		assert.Equal(t, "raw-token", created.Token)
	})

	t.Run("empty manual token", func(t *testing.T) {
		client := newTestClient(t, "http://127.0.0.1:0", &fakeTokenStore{})
		_, err := client.SetManualToken(ctx, "   ", 7)
		assert.Error(t, err)
	})
}

func TestClient_TokenStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("no token", func(t *testing.T) {
		client := newTestClient(t, "http://127.0.0.1:0", &fakeTokenStore{})
		status, err := client.TokenStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.TokenStateNone, status.State)
		assert.True(t, status.NeedsRefresh)
	})

	t.Run("expired token", func(t *testing.T) {
		store := &fakeTokenStore{}
		_, _ = store.Activate(ctx, &model.CarrierToken{Token: "t", ExpiresAt: time.Now().Add(-time.Hour)})

		client := newTestClient(t, "http://127.0.0.1:0", store)
		status, err := client.TokenStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.TokenStateExpired, status.State)
		assert.True(t, status.NeedsRefresh)
	})

	t.Run("healthy token", func(t *testing.T) {
		store := storeWithActiveToken("t")
		client := newTestClient(t, "http://127.0.0.1:0", store)

		status, err := client.TokenStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.TokenStateActive, status.State)
		assert.False(t, status.NeedsRefresh)
		assert.GreaterOrEqual(t, status.HoursRemaining, 5)
	})

	t.Run("token close to expiry needs refresh", func(t *testing.T) {
		store := &fakeTokenStore{}
		_, _ = store.Activate(ctx, &model.CarrierToken{Token: "t", ExpiresAt: time.Now().Add(30 * time.Minute)})

		client := newTestClient(t, "http://127.0.0.1:0", store)
		status, err := client.TokenStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.TokenStateActive, status.State)
		assert.True(t, status.NeedsRefresh)
	})
}

func TestClient_TokenHistory(t *testing.T) {
	ctx := context.Background()
	store := storeWithActiveToken("secret-token")
	client := newTestClient(t, "http://127.0.0.1:0", store)

	history, err := client.TokenHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Empty(t, history[0].Token)
}

func TestClient_FetchLiveBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("converts KB to GB", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/enterprise-request/api/data-sharer/prepaid/subscriptions/0241112222", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			// 52428800 KB == 50 GB
			fmt.Fprint(w, `{"data":[{"msisdn":"0241112222","plan":"Bundle Sharer 111GB","balance":52428800,"data":111,"endDate":"2026-09-30"}]}`)
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL, storeWithActiveToken("tok"))
		balance := client.FetchLiveBalance(ctx)

		require.True(t, balance.Success)
		assert.Equal(t, float64(50), balance.BalanceGB)
		assert.Equal(t, float64(111), balance.TotalDataGB)
		assert.Equal(t, float64(61), balance.UsedDataGB)
		assert.Equal(t, 55, balance.UsagePercent)
	})

	t.Run("no subscriptions", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"data":[]}`)
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL, storeWithActiveToken("tok"))
		balance := client.FetchLiveBalance(ctx)
		assert.False(t, balance.Success)
	})

	t.Run("no token", func(t *testing.T) {
		client := newTestClient(t, "http://127.0.0.1:0", &fakeTokenStore{})
		balance := client.FetchLiveBalance(ctx)
		assert.False(t, balance.Success)
	})
}
