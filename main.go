package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	aws_pkg "cart-service/aws"
	"cart-service/clients"
	"cart-service/config"
	"cart-service/controllers"
	"cart-service/database"
	apperrors "cart-service/errors"
	"cart-service/events"
	"cart-service/kafka"
	"cart-service/logger"
	"cart-service/middleware"
	"cart-service/routes"
	"cart-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "cart-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- AWS (CloudWatch, SNS) ---
	cloudWatchEnabled := os.Getenv("CLOUDWATCH_ENABLED") == "true"
	var metricsClient *aws_pkg.MetricsClient
	var snsClient *aws_pkg.SNSClient
	var cwLogs *aws_pkg.CloudWatchLogsClient
	var awsErr error
	if cloudWatchEnabled || cfg.CheckoutSNSTopicARN != "" {
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			awsErr = err
		} else {
			metricsClient = aws_pkg.NewMetricsClient(awsCfg)
			if cfg.CheckoutSNSTopicARN != "" {
				snsClient = aws_pkg.NewSNSClient(awsCfg)
			}
			if cloudWatchEnabled {
				cwLogs, awsErr = aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, serviceName)
			}
		}
	}

	var log *zap.Logger
	if cwLogs != nil {
		log, err = logger.Initialize(cfg.Environment, cwLogs)
	} else {
		log, err = logger.Initialize(cfg.Environment, nil)
	}
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()
	if awsErr != nil {
		log.Warn("AWS integrations partially disabled (non-fatal)", zap.Error(awsErr))
	}

	// --- Redis ---
	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("Redis connection failed", zap.Error(err))
	}
	repo := database.NewCartRepository(redisClient, cfg.CartTTL)

	// --- Checkout events ---
	var publishers []events.Publisher
	if snsClient != nil {
		publishers = append(publishers, events.NewSNSPublisher(snsClient, cfg.CheckoutSNSTopicARN))
	}
	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		publishers = append(publishers, producer)
	}

	var recorder services.MetricsRecorder
	if metricsClient != nil && metricsClient.IsEnabled() {
		recorder = metricsClient
	}

	cartService := services.NewCartService(
		repo,
		clients.NewProductClient(cfg.ProductServiceURL, cfg.HTTPClientTimeout),
		clients.NewOrderClient(cfg.OrderServiceURL, cfg.HTTPClientTimeout),
		events.Combine(publishers...),
		recorder,
		log,
		services.Options{
			LockEnabled:    cfg.LockEnabled,
			LockTTL:        cfg.LockTTL,
			IdempotencyTTL: cfg.IdempotencyTTL,
		},
	)

	// --- HTTP ---
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestID())
	r.Use(middleware.RequestLogger(log))
	if metricsClient != nil {
		r.Use(middleware.MetricsMiddleware(metricsClient, serviceName))
	}
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.RateLimitMiddleware(ctx, cfg.RateLimitPerMinute))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(apperrors.ErrorMiddleware())

	routes.RegisterHealthRoutes(r, repo)
	routes.RegisterCartRoutes(r, controllers.NewCartController(cartService))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Cart Service started",
			zap.String("port", cfg.Port),
			zap.Bool("lock_enabled", cfg.LockEnabled),
			zap.Int("event_publishers", len(publishers)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Warn("Kafka producer close failed", zap.Error(err))
		}
	}
	if err := redisClient.Close(); err != nil {
		log.Warn("Redis close failed", zap.Error(err))
	}
	log.Info("Server exited cleanly")
}
