package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/sitestock/stock-ledger/internal/activities"
	"github.com/sitestock/stock-ledger/internal/application"
	"github.com/sitestock/stock-ledger/pkg/contracts/openapi"
	"github.com/sitestock/stock-ledger/pkg/idempotency"
	"github.com/sitestock/stock-ledger/pkg/logging"
	"github.com/sitestock/stock-ledger/pkg/metrics"
	"github.com/sitestock/stock-ledger/pkg/middleware"
)

// routerConfig holds the optional edge concerns of the HTTP API
type routerConfig struct {
	ServiceName string
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
	RateLimit   string
	CORSOrigins []string

	// Contract enables request validation against the OpenAPI document when set
	Contract *openapi.Validator

	// Idempotency enables Idempotency-Key replay on mutating routes when set
	Idempotency *idempotency.Config

	// Batches enables batch replenishment intake when set
	Batches activities.WorkflowStarter

	Ready func(ctx context.Context) error
}

func newRouter(service *application.StockService, cfg routerConfig) (*gin.Engine, error) {
	router := gin.New()

	middlewareConfig := middleware.DefaultConfig(cfg.ServiceName, cfg.Logger.Logger)
	middlewareConfig.RateLimit = cfg.RateLimit
	middlewareConfig.CORSOrigins = cfg.CORSOrigins
	if err := middleware.Setup(router, middlewareConfig); err != nil {
		return nil, fmt.Errorf("failed to set up middleware: %w", err)
	}
	if err := registerDomainValidations(); err != nil {
		return nil, fmt.Errorf("failed to register validations: %w", err)
	}

	router.Use(middleware.MetricsMiddleware(cfg.Metrics))
	router.Use(middleware.Tracing(cfg.ServiceName))
	if cfg.Contract != nil {
		router.Use(middleware.OpenAPIValidation(cfg.Contract))
	}

	router.NoRoute(middleware.NoRoute())
	router.NoMethod(middleware.NoMethod())

	router.GET("/health", middleware.HealthCheck(cfg.ServiceName))
	ready := cfg.Ready
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	router.GET("/ready", middleware.ReadinessCheck(cfg.ServiceName, ready))
	router.GET("/metrics", middleware.MetricsEndpoint(cfg.Metrics))

	registerRoutes(router, service, cfg)
	return router, nil
}

func registerRoutes(router *gin.Engine, service *application.StockService, cfg routerConfig) {
	logger := cfg.Logger

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Actor(middleware.ActorConfig{Required: false}))

	// Mutations need an actor; replayed keys are scoped to that actor
	writes := v1.Group("", middleware.RequireActor())
	if cfg.Idempotency != nil {
		idem := *cfg.Idempotency
		idem.ActorIDExtractor = middleware.GetActorID
		writes.Use(idempotency.Middleware(&idem))
	}
	{
		writes.POST("/stock", addStockHandler(service, logger))
		writes.POST("/usage", logUsageHandler(service, logger))
		writes.POST("/transfers", requestTransferHandler(service, logger))
		writes.POST("/transfers/:id/approve", approveTransferHandler(service, logger))
		writes.POST("/transfers/:id/reject", rejectTransferHandler(service, logger))
		writes.POST("/replenishments/purchases", creditFromPurchaseHandler(service, logger))
		writes.POST("/replenishments/rentals", creditFromRentalHandler(service, logger))
		if cfg.Batches != nil {
			writes.POST("/replenishments/batches", replenishmentBatchHandler(cfg.Batches, logger))
		}
	}

	v1.GET("/stock/balance", getBalanceHandler(service, logger))
	v1.GET("/stock/history", historyHandler(service, logger))
	v1.GET("/stock/reconcile", reconcileHandler(service, logger))
	v1.GET("/locations/:location/stock", listStockHandler(service, logger))
	v1.GET("/transfers", listTransfersHandler(service, logger))
	v1.GET("/transfers/:id", getTransferHandler(service, logger))
	v1.GET("/usage", listUsageHandler(service, logger))
}
