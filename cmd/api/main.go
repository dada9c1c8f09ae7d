package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/bhanu-singh/rcbl-backend/api/swagger"
	"github.com/bhanu-singh/rcbl-backend/internal/extraction"
	"github.com/bhanu-singh/rcbl-backend/internal/handler"
	"github.com/bhanu-singh/rcbl-backend/internal/middleware"
	"github.com/bhanu-singh/rcbl-backend/internal/repository"
	"github.com/bhanu-singh/rcbl-backend/internal/service"
	"github.com/bhanu-singh/rcbl-backend/pkg/cache"
	"github.com/bhanu-singh/rcbl-backend/pkg/config"
	"github.com/bhanu-singh/rcbl-backend/pkg/database"
	"github.com/bhanu-singh/rcbl-backend/pkg/jobs"
	"github.com/bhanu-singh/rcbl-backend/pkg/logger"
	corsmiddleware "github.com/bhanu-singh/rcbl-backend/pkg/middleware/cors"
	reqidmiddleware "github.com/bhanu-singh/rcbl-backend/pkg/middleware/requestid"
	"github.com/bhanu-singh/rcbl-backend/pkg/storage"
)

// objectStorage is the store surface the upload and pipeline services need.
type objectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// @title RCBL Backend API
// @version 0.1.0
// @description Invoice ingestion and OCR review pipeline
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	var store objectStorage
	switch cfg.Storage.Backend {
	case "gcs":
		gcs, err := storage.NewGCSStorage(ctx, cfg.Storage.GCSBucket)
		if err != nil {
			logr.Sugar().Fatalw("failed to init gcs storage", "error", err)
		}
		defer gcs.Close()
		store = gcs
	default:
		local, err := storage.NewLocalStorage(cfg.Storage.LocalDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init local storage", "error", err)
		}
		store = local
	}

	userRepo := repository.NewUserRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	itemRepo := repository.NewItemRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	provider := extraction.NewOpenAIProvider(cfg.OCR, logr)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "rcbl-backend",
	})

	// The queue handler needs the pipeline service and the pipeline service
	// needs the queue for requeues, so the queue is declared first and the
	// handler resolves it lazily.
	var pipelineSvc *service.PipelineService
	queue := jobs.NewQueue("ocr", func(ctx context.Context, job jobs.Job) error {
		return pipelineSvc.HandleJob(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.OCR.WorkerConcurrency,
		MaxRetries: cfg.OCR.WorkerRetries,
		JobTimeout: cfg.OCR.JobTimeout,
		Logger:     logr,
	})

	pipelineSvc = service.NewPipelineService(itemRepo, store, provider, metricsSvc, queue, cfg.OCR, logr)
	uploadSvc := service.NewUploadService(batchRepo, itemRepo, store, queue, cfg.Uploads, logr)
	reviewSvc := service.NewReviewService(batchRepo, itemRepo, invoiceRepo, validate, logr)
	progressSvc := service.NewProgressService(batchRepo, itemRepo, cacheRepo, cfg.Progress, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	uploadHandler := handler.NewUploadHandler(uploadSvc, metricsSvc)
	batchHandler := handler.NewBatchHandler(reviewSvc, progressSvc, metricsSvc)
	itemHandler := handler.NewItemHandler(reviewSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Anonymous routes are limited by client IP; behind the JWT middleware
	// the same limiter keys by user instead.
	rateLimit := middleware.RateLimit(redisClient, cfg.RateLimit, logr)

	auth := api.Group("/auth")
	auth.Use(rateLimit)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	authed.Use(rateLimit)
	authed.POST("/auth/logout", authHandler.Logout)
	authed.GET("/auth/me", authHandler.Me)

	invoices := authed.Group("/invoices")
	invoices.POST("/upload", uploadHandler.UploadSingle)
	invoices.POST("/upload/bulk", uploadHandler.UploadBulk)
	invoices.GET("/upload/batches", batchHandler.List)
	invoices.GET("/upload/batches/:batchId", batchHandler.Get)
	invoices.GET("/upload/batches/:batchId/progress", batchHandler.Progress)
	invoices.GET("/upload/items/:itemId", itemHandler.Get)
	invoices.PATCH("/upload/items/:itemId/accept", itemHandler.Accept)
	invoices.PATCH("/upload/items/:itemId/reject", itemHandler.Reject)

	queue.Start(ctx)
	if err := pipelineSvc.RequeueStuckItems(ctx); err != nil {
		logr.Sugar().Warnw("startup requeue sweep failed", "error", err)
	}
	pipelineSvc.StartRequeueSweep(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	queue.Stop()
}
