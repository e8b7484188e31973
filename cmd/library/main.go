package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"shelfledger/internal/app"
	"shelfledger/internal/auth"
	"shelfledger/internal/config"
	"shelfledger/internal/events"
	"shelfledger/internal/payment"
	"shelfledger/internal/server"
	"shelfledger/internal/util"
	"shelfledger/pkg/storage"
	"shelfledger/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sweepInterval, err := config.ParseSweepInterval(cfg.OverdueSweepInterval)
	if err != nil {
		log.Fatalf("failed to parse sweep interval: %v", err)
	}
	tokenTTL, err := config.ParseTokenTTL(cfg.TokenTTL)
	if err != nil {
		log.Fatalf("failed to parse token TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var dataStore store.Store
	if cfg.DatabaseURL != "" {
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
	} else {
		slog.Warn("no databaseURL configured, using in-memory store")
		dataStore = store.NewMemoryStore()
	}

	var gateway payment.Gateway
	if cfg.PaymentBaseURL != "" {
		gateway = payment.NewHTTPGateway(cfg.PaymentBaseURL, cfg.PaymentKeyID, cfg.PaymentKeySecret)
	} else {
		slog.Warn("no paymentBaseURL configured, using mock payment gateway")
		gateway = payment.NewMockGateway(cfg.PaymentKeyID, cfg.PaymentKeySecret)
	}

	var covers storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		covers, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init minio store: %v", err)
		}
	} else if cfg.CoverDir != "" {
		covers, err = storage.NewFileStore(cfg.CoverDir)
		if err != nil {
			log.Fatalf("failed to init cover dir: %v", err)
		}
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer amqpPub.Close()
		publisher = amqpPub
	}

	appCore, err := app.New(app.Config{
		Store:          dataStore,
		Gateway:        gateway,
		Covers:         covers,
		Events:         publisher,
		FinePerDay:     cfg.FinePerDay,
		LoanPeriodDays: cfg.LoanPeriodDays,
		Currency:       cfg.Currency,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var authMgr *auth.Manager
	if cfg.LibrarianEmail != "" {
		authMgr = auth.NewManager(cfg.JWTSecret, tokenTTL, cfg.LibrarianEmail, cfg.LibrarianPasswordHash)
	} else {
		slog.Warn("no librarian account configured, catalog mutations are unauthenticated")
	}

	httpServer, err := server.New(server.Config{
		App:                       appCore,
		Auth:                      authMgr,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		IssueRateLimitPerMinute:   cfg.IssueRateLimitPerMinute,
		PaymentRateLimitPerMinute: cfg.PaymentRateLimitPerMinute,
		TrustedProxyCIDRs:         cfg.TrustedProxyCIDRs,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		slog.Info("overdue sweeper running", "interval", sweepInterval.String())
		if err := appCore.RunOverdueSweeper(ctx, sweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	slog.Info("server stopped")
}
