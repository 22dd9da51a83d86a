package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oseilabs/bundle-gateway/internal/carrier"
	"github.com/oseilabs/bundle-gateway/internal/config"
	"github.com/oseilabs/bundle-gateway/internal/ledger"
	"github.com/oseilabs/bundle-gateway/internal/queue"
	"github.com/oseilabs/bundle-gateway/internal/repository"
	"github.com/oseilabs/bundle-gateway/pkg/logger"
	"github.com/oseilabs/bundle-gateway/pkg/pg"
	"github.com/oseilabs/bundle-gateway/pkg/prom"
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

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

	jobRepo := repository.NewJobRepository(db)
	transferRepo := repository.NewTransferRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	dataRequestRepo := repository.NewDataRequestRepository(db)

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

	notifier := queue.NewNotifier(redisAdap, config.Get().QueueNudgeChannel)

	worker := queue.NewWorker(jobRepo, transferRepo, dataRequestRepo, carrierClient, ledgerService, notifier, queue.WorkerConfig{
		PollInterval: config.Get().QueuePollInterval,
		JobDelay:     config.Get().QueueJobDelay,
		StaleAfter:   config.Get().QueueStaleAfter,
	})

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	worker.Start()

	select {
	case <-c:
		worker.Stop()
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
