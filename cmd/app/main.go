package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-payments/internal/config"
	"storefront-payments/internal/domain/model"
	"storefront-payments/internal/domain/ports/adapter"
	"storefront-payments/internal/infra/adapters/gateway"
	pg "storefront-payments/internal/infra/db/postgres"
	"storefront-payments/internal/infra/logging"
	"storefront-payments/internal/infra/metrics"
	red "storefront-payments/internal/infra/redis"
	"storefront-payments/internal/infra/sched"
	"storefront-payments/internal/infra/web"
	"storefront-payments/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect")
	}
	defer func() { _ = redisClient.Close() }()
	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	intentRepo := pg.NewIntentRepo(pool)
	ledgerRepo := pg.NewLedgerRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Gateways ----
	httpClient := &http.Client{Timeout: 30 * time.Second}
	retry := gateway.RetryPolicy{
		MaxAttempts: cfg.Payment.Retry.MaxAttempts,
		Backoff:     cfg.Payment.Retry.Backoff,
	}

	mellat, err := gateway.NewMellatGateway(cfg.Payment.Mellat, httpClient, retry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("mellat gateway")
	}
	saman, err := gateway.NewSamanGateway(cfg.Payment.Saman, httpClient, retry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("saman gateway")
	}
	snappay, err := gateway.NewSnappPayGateway(cfg.Payment.SnappPay, httpClient, retry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("snappay gateway")
	}
	gateways := map[model.GatewayName]adapter.PaymentGateway{
		model.GatewayMellat:  mellat,
		model.GatewaySaman:   saman,
		model.GatewaySnappay: snappay,
	}

	callbackURL := func(gw model.GatewayName) string {
		host := cfg.Web.FrontendBaseURL
		switch gw {
		case model.GatewayMellat:
			if cfg.Payment.Mellat.CallbackHost != "" {
				host = cfg.Payment.Mellat.CallbackHost
			}
		case model.GatewaySaman:
			if cfg.Payment.Saman.CallbackHost != "" {
				host = cfg.Payment.Saman.CallbackHost
			}
		case model.GatewaySnappay:
			if cfg.Payment.SnappPay.CallbackHost != "" {
				host = cfg.Payment.SnappPay.CallbackHost
			}
		}
		return host + "/api/v1/payments/callback/" + string(gw)
	}

	// ---- Use cases ----
	ledgerUC := usecase.NewLedgerUseCase(ledgerRepo, txManager, logger)
	intentUC := usecase.NewIntentUseCase(intentRepo, ledgerUC, gateways, txManager, callbackURL, logger)
	callbackUC := usecase.NewCallbackUseCase(intentRepo, ledgerUC, gateways, txManager, locker, logger)

	// ---- Stale intent sweeper ----
	sweeper := sched.NewStaleSweeper(15*time.Minute, time.Hour, intentRepo, logger)
	go func() { _ = sweeper.Run(ctx) }()

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Web.JWTSecret, !cfg.Runtime.Dev, "", 30*time.Minute)
	server := web.NewServer(intentUC, callbackUC, ledgerUC, cfg.Web.OpsKey, auth, rateLimiter, cfg.Web.FrontendBaseURL, logger)
	go func() {
		if err := server.Start(cfg.Web); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
