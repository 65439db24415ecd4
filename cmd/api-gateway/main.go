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

	_ "github.com/opencourse/enrollment-api/api/swagger"
	"github.com/opencourse/enrollment-api/internal/handler"
	"github.com/opencourse/enrollment-api/internal/middleware"
	"github.com/opencourse/enrollment-api/internal/repository"
	"github.com/opencourse/enrollment-api/internal/service"
	"github.com/opencourse/enrollment-api/pkg/cache"
	"github.com/opencourse/enrollment-api/pkg/config"
	"github.com/opencourse/enrollment-api/pkg/database"
	"github.com/opencourse/enrollment-api/pkg/export"
	"github.com/opencourse/enrollment-api/pkg/jobs"
	"github.com/opencourse/enrollment-api/pkg/logger"
	corsmiddleware "github.com/opencourse/enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/opencourse/enrollment-api/pkg/middleware/requestid"
)

// @title Course Enrollment API
// @version 1.0.0
// @description Enrollment lifecycle and capacity management for course tracks
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	// Redis is a read-side convenience; the service starts without it.
	var cacheRepo *repository.CacheRepository
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, class cache disabled", "error", err)
	} else {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		defer cacheRepo.Close()
	}

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	classRepo := repository.NewClassRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	userRepo := repository.NewUserRepository(db)
	ledger := repository.NewCapacityLedger(logr)
	txRunner := repository.NewTxRunner(db, repository.TxRunnerConfig{
		MaxAttempts: cfg.Enrollment.TxMaxAttempts,
		RetryDelay:  cfg.Enrollment.TxRetryDelay,
		OnRetry:     metricsSvc.RecordTxRetry,
	}, logr)

	notificationSvc := service.NewNotificationService(nil, cfg.Notifications.WebhookURL, cfg.Notifications.Timeout, metricsSvc, logr)
	var notificationQueue *jobs.Queue
	if cfg.Notifications.Enabled {
		notificationQueue = jobs.NewQueue("notifications", notificationSvc.HandleJob, jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			Logger:     logr,
		})
		notificationSvc = service.NewNotificationService(notificationQueue, cfg.Notifications.WebhookURL, cfg.Notifications.Timeout, metricsSvc, logr)
		notificationQueue.Start(context.Background())
		defer notificationQueue.Stop()
	}

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, ledger, txRunner, notificationSvc, metricsSvc, validate, logr)
	eligibilitySvc := service.NewEligibilityService(enrollmentRepo, studentRepo, classRepo, logr)
	prioritySvc := service.NewPriorityService(studentRepo, enrollmentRepo, classRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, logr)

	var classSvc *service.ClassService
	if cacheRepo != nil {
		classSvc = service.NewClassService(classRepo, cacheRepo, cfg.Enrollment.CacheTTL, logr)
	} else {
		classSvc = service.NewClassService(classRepo, nil, cfg.Enrollment.CacheTTL, logr)
	}

	var rosterSvc *service.RosterService
	if cfg.Exports.Enabled {
		rosterSvc = service.NewRosterService(enrollmentRepo, classRepo, export.NewCSVExporter(), export.NewPDFExporter(), cfg.Exports.MaxRows, logr)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	studentHandler := handler.NewStudentHandler(studentSvc, eligibilitySvc, prioritySvc)
	classHandler := handler.NewClassHandler(classSvc, rosterSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.GET("/auth/me", authHandler.Me)

		protected.GET("/enrollments", enrollmentHandler.List)
		protected.POST("/enrollments", enrollmentHandler.Register)
		protected.GET("/enrollments/:id", enrollmentHandler.Get)
		protected.PUT("/enrollments/:id/transfer", enrollmentHandler.Transfer)
		protected.PUT("/enrollments/:id/change-track", enrollmentHandler.ChangeTrack)
		protected.POST("/enrollments/:id/complete", enrollmentHandler.Complete)
		protected.DELETE("/enrollments/:id", enrollmentHandler.Cancel)

		protected.GET("/students", studentHandler.List)
		protected.GET("/students/:id", studentHandler.Get)
		protected.GET("/students/:id/eligibility", studentHandler.Eligibility)
		protected.POST("/students/:id/priority-list", studentHandler.AddPriority)
		protected.DELETE("/students/:id/priority-list", studentHandler.RemovePriority)

		protected.GET("/classes", classHandler.List)
		protected.GET("/classes/:id", classHandler.Get)
		if rosterSvc != nil {
			protected.GET("/classes/:id/roster/export", classHandler.ExportRoster)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("forced shutdown", "error", err)
	}
}
