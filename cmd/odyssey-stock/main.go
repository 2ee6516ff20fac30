package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/approval"
	"github.com/odyssey-erp/odyssey-stock/internal/audit"
	"github.com/odyssey-erp/odyssey-stock/internal/catalog"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/reservation"
	"github.com/odyssey-erp/odyssey-stock/internal/transfer"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

func main() {
	if app.SkipStartup() {
		slog.Default().Info("startup skipped", slog.String("env", app.SkipStartupEnv))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{LockTimeout: cfg.DBLockTimeout, MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	notifier, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	auditService := audit.NewService(audit.NewRepository(dbpool))
	catalogService := catalog.NewService(catalog.NewRepository(dbpool), cache.NewJSONCache(redisClient, cfg.CatalogCacheTTL))
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditService, catalogService, logger)
	reservationService := reservation.NewService(
		reservation.NewRepository(dbpool),
		inventoryService,
		auditService,
		reservation.Config{DefaultTTL: cfg.ReservationDefaultTTL},
		logger,
	)
	approvalService := approval.NewService(approval.NewRepository(dbpool), auditService, notifier, logger)
	transferService := transfer.NewService(transfer.Dependencies{
		Repo:         transfer.NewRepository(dbpool),
		Approvals:    approvalService,
		Reservations: reservationService,
		Inventory:    inventoryService,
		Catalog:      catalogService,
		Audit:        auditService,
		Notifier:     notifier,
		Logger:       logger,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		DB:                 dbpool,
		CatalogHandler:     catalog.NewHandler(logger, catalogService),
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		ReservationHandler: reservation.NewHandler(logger, reservationService),
		TransferHandler:    transfer.NewHandler(logger, transferService),
		ApprovalHandler:    approval.NewHandler(logger, approvalService),
		AuditHandler:       audit.NewHandler(logger, auditService),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
