package main

import (
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/oseilabs/bundle-gateway/internal/carrier"
	"github.com/oseilabs/bundle-gateway/internal/config"
	"github.com/oseilabs/bundle-gateway/internal/handlers"
	"github.com/oseilabs/bundle-gateway/internal/ledger"
	"github.com/oseilabs/bundle-gateway/internal/queue"
	"github.com/oseilabs/bundle-gateway/internal/repository"
	"github.com/oseilabs/bundle-gateway/internal/services"
	xhttp "github.com/oseilabs/bundle-gateway/pkg/http"
	"github.com/oseilabs/bundle-gateway/pkg/logger"
	"github.com/oseilabs/bundle-gateway/pkg/pg"
	"github.com/oseilabs/bundle-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	notifier := queue.NewNotifier(redisAdap, config.Get().QueueNudgeChannel)

	jobRepo := repository.NewJobRepository(db)
	transferRepo := repository.NewTransferRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	ledgerService := ledger.NewService(subscriptionRepo, creditRepo)

	carrierClient, err := carrier.NewClient(carrier.Config{
		BaseURL:          config.Get().CarrierBaseURL,
		Email:            config.Get().CarrierEmail,
		Password:         config.Get().CarrierPassword,
		PhoneNumber:      config.Get().CarrierPhone,
		SubscriberMsisdn: config.Get().CarrierSubscriberMsisdn,
		SharerPlan:       config.Get().CarrierSharerPlan,
		RequestTimeout:   config.Get().CarrierRequestTimeout,
		BalanceTimeout:   config.Get().CarrierBalanceTimeout,
	}, tokenRepo)
	if err != nil {
		logger.Error("failed creating carrier client", "error", err)
		return
	}

	// services
	shareService := services.NewShareService(jobRepo, transferRepo, carrierClient, ledgerService, notifier)
	healthService := services.NewHealthService()
	resumer := queue.NewResumer(jobRepo, notifier)

	// v1 handlers
	shareHandler := handlers.NewShareHandler(shareService)
	queueHandler := handlers.NewQueueHandler(shareService)
	transferHandler := handlers.NewTransferHandler(shareService)
	tokenHandler := handlers.NewTokenHandler(carrierClient, resumer)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService, carrierClient)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterShareRoutes(g, shareHandler)
	handlers.RegisterQueueRoutes(g, queueHandler)
	handlers.RegisterTransferRoutes(g, transferHandler)
	handlers.RegisterTokenRoutes(g, tokenHandler)
	handlers.RegisterLedgerRoutes(g, ledgerHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
