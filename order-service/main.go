package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sdbondi/bn-api/order-service/cache"
	"github.com/sdbondi/bn-api/order-service/cart"
	"github.com/sdbondi/bn-api/order-service/checkout"
	"github.com/sdbondi/bn-api/order-service/circuitbreaker"
	"github.com/sdbondi/bn-api/order-service/config"
	"github.com/sdbondi/bn-api/order-service/database"
	"github.com/sdbondi/bn-api/order-service/handlers"
	"github.com/sdbondi/bn-api/order-service/kafka"
	"github.com/sdbondi/bn-api/order-service/ledger"
	"github.com/sdbondi/bn-api/order-service/middleware"
	"github.com/sdbondi/bn-api/order-service/payments"
	"github.com/sdbondi/bn-api/order-service/store"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	grpcLib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize database
	db, err := database.InitDB(cfg.DB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(cfg.Kafka, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	publisher := kafka.NewPublisher(producer, cfg.Kafka.Topic, logger)
	defer publisher.Close()

	rdb, err := cache.InitRedis(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer rdb.Close()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("order-service")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	breaker := func(name string) *circuitbreaker.CircuitBreaker {
		return circuitbreaker.NewCircuitBreaker(name, cfg.BreakerMaxFailures, cfg.BreakerResetTimeout,
			circuitbreaker.WithFailurePredicate(payments.IsUnavailable))
	}
	processors := payments.NewRegistry(
		payments.NewStripeClient(cfg.StripeSecretKey, cfg.StripeBaseURL, nil, breaker(payments.StripeProviderName)),
		payments.NewGlobeeClient(cfg.GlobeeAPIKey, cfg.GlobeeBaseURL, nil, breaker(payments.GlobeeProviderName)),
	)
	tari := ledger.NewTariClient(cfg.LedgerURL, nil,
		circuitbreaker.NewCircuitBreaker("tari", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout), logger)

	orders := store.New(db)
	carts := cart.NewManager(orders, cfg.ReservationTTL, logger)
	checkoutService := checkout.NewService(
		checkout.Config{
			Currency:            cfg.Currency,
			FrontEndURL:         cfg.FrontEndURL,
			IPNBaseURL:          cfg.IPNBaseURL,
			ExternalCallTimeout: cfg.ExternalCallTimeout,
		},
		orders,
		processors,
		tari,
		publisher,
		logger,
		checkout.WithNotificationGuard(cache.NewNotificationGuard(rdb, cfg.IPNReplayTTL)),
	)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("order-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	handlers.RegisterRoutes(router, middleware.AuthMiddleware([]byte(cfg.JWTSecret)), handlers.Handlers{
		Carts:           handlers.NewCartHandler(carts, checkoutService, logger),
		Orders:          handlers.NewOrderHandler(checkoutService, logger),
		Payments:        handlers.NewPaymentHandler(checkoutService, logger),
		RedemptionCodes: handlers.NewRedemptionCodeHandler(carts, logger),
	})

	// Start REST server
	restSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Order Service REST API started", zap.String("addr", cfg.HTTPAddr),
		zap.Strings("payment_providers", processors.Names()))

	// Start gRPC health server
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}

	grpcServer := grpcLib.NewServer(
		grpcLib.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("order-service", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	logger.Info("Order Service gRPC server started", zap.String("addr", cfg.GRPCAddr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")
	healthServer.Shutdown()

	// Shutdown REST server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := restSrv.Shutdown(ctx); err != nil {
		logger.Fatal("REST server forced to shutdown", zap.Error(err))
	}

	// Shutdown gRPC server
	grpcServer.GracefulStop()

	logger.Info("Servers exited")
}
