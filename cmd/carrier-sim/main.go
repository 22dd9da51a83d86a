package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CarrierSim imitates the carrier's enterprise data-sharer portal:
// OTP login, bearer tokens with a TTL, the add-beneficiary transfer
// endpoint and the subscriptions balance endpoint. Useful for local
// runs of the gateway without touching the real portal.
type CarrierSim struct {
	mu sync.Mutex

	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	otpCode     string
	tokenTTL    time.Duration

	token        string
	tokenExpires time.Time

	plan        string
	msisdn      string
	totalGB     float64
	remainingGB float64
	endDate     string

	rng *rand.Rand
}

func NewCarrierSim(successRate float64, minDelay, maxDelay time.Duration, otpCode string, tokenTTL time.Duration, totalGB float64) *CarrierSim {
	return &CarrierSim{
		successRate: successRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		otpCode:     otpCode,
		tokenTTL:    tokenTTL,
		plan:        "Bundle Sharer 111GB",
		msisdn:      "0240000000",
		totalGB:     totalGB,
		remainingGB: totalGB,
		endDate:     time.Now().AddDate(0, 1, 0).Format("2006-01-02"),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *CarrierSim) randomDelay() time.Duration {
	if s.maxDelay <= s.minDelay {
		return s.minDelay
	}
	delta := s.maxDelay - s.minDelay
	return s.minDelay + time.Duration(s.rng.Int63n(int64(delta)))
}

func (s *CarrierSim) shouldSucceed() bool {
	return s.rng.Float64() < s.successRate
}

func (s *CarrierSim) issueToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = "sim-" + uuid.NewString()
	s.tokenExpires = time.Now().Add(s.tokenTTL)
	return s.token
}

func (s *CarrierSim) validToken(bearer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != "" && bearer == s.token && time.Now().Before(s.tokenExpires)
}

func (s *CarrierSim) expireToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenExpires = time.Now()
}

func (s *CarrierSim) debit(amountGB float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remainingGB < amountGB {
		return false
	}
	s.remainingGB -= amountGB
	return true
}

type Handler struct {
	sim *CarrierSim
}

func NewHandler(sim *CarrierSim) *Handler {
	return &Handler{sim: sim}
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	SMSCode     string `json:"sms_code"`
	PhoneNumber string `json:"phone_number"`
}

// CheckLogin plays the portal's OTP dispatch step. The code is never
// actually texted anywhere, it goes to the log.
func (h *Handler) CheckLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	log.Info().
		Str("email", req.Email).
		Str("phone", req.PhoneNumber).
		Str("otp", h.sim.otpCode).
		Msg("OTP requested")

	c.JSON(http.StatusOK, gin.H{"message": "SMS code sent"})
}

// Login exchanges the OTP for a bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if req.SMSCode != h.sim.otpCode {
		log.Warn().Str("email", req.Email).Msg("login rejected: wrong sms code")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid SMS code"})
		return
	}

	token := h.sim.issueToken()
	log.Info().Str("email", req.Email).Msg("login succeeded, token issued")

	c.JSON(http.StatusOK, gin.H{
		"token":            token,
		"subscriberMsisdn": h.sim.msisdn,
	})
}

type transferRequest struct {
	BeneficiaryMsisdn string `json:"beneficiaryMsisdn"`
	Volume            string `json:"volume"`
	Plan              string `json:"plan"`
	TransactionID     string `json:"transactionId"`
	SubscriberMsisdn  string `json:"subscriberMsisdn"`
	BeneficiaryName   string `json:"beneficiaryName"`
}

// AddBeneficiary is the transfer endpoint. Outcomes follow the real
// portal's quirks: 401 on a dead token, plain 5xx errors, and the
// occasional 200 carrying a failure envelope.
func (h *Handler) AddBeneficiary(c *gin.Context) {
	bearer := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !h.sim.validToken(bearer) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	time.Sleep(h.sim.randomDelay())

	var amountGB float64
	fmt.Sscanf(req.Volume, "%f", &amountGB)

	if !h.sim.shouldSucceed() {
		// Half the simulated failures ride a 2xx with a failure body,
		// the rest are plain server errors.
		if h.sim.rng.Float64() < 0.5 {
			log.Warn().Str("txn", req.TransactionID).Msg("transfer failed (2xx envelope)")
			c.JSON(http.StatusOK, gin.H{
				"success": false,
				"message": "Order could not be processed",
			})
			return
		}
		log.Warn().Str("txn", req.TransactionID).Msg("transfer failed (500)")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	if !h.sim.debit(amountGB) {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "Insufficient sharer balance",
		})
		return
	}

	log.Info().
		Str("txn", req.TransactionID).
		Str("beneficiary", req.BeneficiaryMsisdn).
		Float64("amount_gb", amountGB).
		Msg("bundle transferred")

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"transactionId": req.TransactionID,
		"message":       "Order placed successfully",
	})
}

// Subscriptions returns the sharer pool the way the portal does:
// balance in KB, total allocation in GB.
func (h *Handler) Subscriptions(c *gin.Context) {
	bearer := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !h.sim.validToken(bearer) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
		return
	}

	h.sim.mu.Lock()
	balanceKB := h.sim.remainingGB * 1048576
	resp := gin.H{
		"data": []gin.H{{
			"msisdn":  h.sim.msisdn,
			"plan":    h.sim.plan,
			"balance": fmt.Sprintf("%.0f", balanceKB),
			"data":    fmt.Sprintf("%g", h.sim.totalGB),
			"endDate": h.sim.endDate,
		}},
	}
	h.sim.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"success_rate": h.sim.successRate,
		"timestamp":    time.Now(),
	})
}

// UpdateConfig changes simulator behavior at runtime: transfer success
// rate, pool refill, forced token expiry.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		SuccessRate *float64 `json:"success_rate"`
		RemainingGB *float64 `json:"remaining_gb"`
		ExpireToken bool     `json:"expire_token"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if config.SuccessRate != nil && *config.SuccessRate >= 0 && *config.SuccessRate <= 1.0 {
		h.sim.successRate = *config.SuccessRate
		log.Info().Float64("rate", *config.SuccessRate).Msg("Updated success rate")
	}
	if config.RemainingGB != nil && *config.RemainingGB >= 0 {
		h.sim.mu.Lock()
		h.sim.remainingGB = *config.RemainingGB
		h.sim.mu.Unlock()
		log.Info().Float64("remaining_gb", *config.RemainingGB).Msg("Updated pool balance")
	}
	if config.ExpireToken {
		h.sim.expireToken()
		log.Info().Msg("Token force-expired")
	}

	c.JSON(http.StatusOK, gin.H{"message": "Configuration updated"})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	api := router.Group("/enterprise-request/api")
	{
		api.POST("/check-login", handler.CheckLogin)
		api.POST("/login", handler.Login)
		api.POST("/data-sharer/prepaid/add-beneficiary", handler.AddBeneficiary)
		api.GET("/data-sharer/prepaid/subscriptions/:msisdn", handler.Subscriptions)
	}

	router.PUT("/config", handler.UpdateConfig)
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8091")
	successRate := getEnvFloat("SUCCESS_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 500*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 3*time.Second)
	otpCode := getEnv("OTP_CODE", "123456")
	tokenTTL := getEnvDuration("TOKEN_TTL", 12*time.Hour)
	totalGB := getEnvFloat("TOTAL_DATA_GB", 111)

	log.Info().
		Str("port", port).
		Float64("success_rate", successRate).
		Dur("token_ttl", tokenTTL).
		Float64("total_gb", totalGB).
		Msg("Starting carrier portal simulator")

	sim := NewCarrierSim(successRate, minDelay, maxDelay, otpCode, tokenTTL, totalGB)
	handler := NewHandler(sim)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
