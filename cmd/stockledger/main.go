package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/cmd/stockledger/cli"
	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/auth"
	"github.com/odyssey-erp/stockledger/internal/forecast"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/masterdata"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/procurement"
	"github.com/odyssey-erp/stockledger/internal/rules"
	"github.com/odyssey-erp/stockledger/internal/sales"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		jobsCLI := cli.NewJobsCLI(redisOpts)
		code := jobsCLI.Run(ctx, os.Args[2:], os.Stdout, os.Stderr)
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
		os.Exit(code)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	masterRepo := masterdata.NewRepository(dbpool)

	ledgerRepo := ledger.NewRepository(dbpool)
	rulesService := rules.NewService(rules.NewRepository(dbpool), rules.NewCache(redisClient, cfg.PolicyCacheTTL), ledgerRepo, auditLogger, logger)
	ledgerService := ledger.NewService(ledgerRepo, rulesService, ledger.ServiceDeps{
		MasterData:  masterRepo,
		Idempotency: idempotencyStore,
		Audit:       auditLogger,
		Metrics:     metrics,
		Logger:      logger,
	})

	procurementService := procurement.NewService(procurement.Deps{
		Repo:       procurement.NewRepository(dbpool),
		MasterData: masterRepo,
		Stock:      ledgerService,
		Policies:   rulesService,
		Approvals:  approvalRecorder,
		Audit:      auditLogger,
		Metrics:    metrics,
		Logger:     logger,
	})
	salesService := sales.NewService(sales.NewRepository(dbpool), masterRepo, rulesService, ledgerService, auditLogger, logger)
	forecastService := forecast.NewService(ledgerRepo, cfg.ForecastWindowDays)

	verifier, err := auth.NewVerifier(cfg.AuthTokenSecret, cfg.AuthIssuer, auth.NewRepository(dbpool))
	if err != nil {
		logger.Error("init token verifier", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Verifier:           verifier,
		LedgerHandler:      ledger.NewHandler(logger, ledgerService),
		RulesHandler:       rules.NewHandler(logger, rulesService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		SalesHandler:       sales.NewHandler(logger, salesService),
		ForecastHandler:    forecast.NewHandler(logger, forecastService),
		JobHandler:         jobs.NewHandler(inspector, jobsClient, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
