package main

import (
	"context"
	"errors"
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

	_ "github.com/assessflow/amt-api/api/swagger"
	"github.com/assessflow/amt-api/internal/handler"
	"github.com/assessflow/amt-api/internal/middleware"
	"github.com/assessflow/amt-api/internal/repository"
	"github.com/assessflow/amt-api/internal/service"
	"github.com/assessflow/amt-api/pkg/cache"
	"github.com/assessflow/amt-api/pkg/config"
	"github.com/assessflow/amt-api/pkg/database"
	"github.com/assessflow/amt-api/pkg/jobs"
	"github.com/assessflow/amt-api/pkg/logger"
	corsmiddleware "github.com/assessflow/amt-api/pkg/middleware/cors"
	reqidmiddleware "github.com/assessflow/amt-api/pkg/middleware/requestid"
	"github.com/assessflow/amt-api/pkg/storage"
)

// @title Assessment Management API
// @version 1.0.0
// @description Assessment lifecycle, role eligibility and bulk import API
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	moduleRepo := repository.NewModuleRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	importRepo := repository.NewImportRepository(db)
	exportRepo := repository.NewExportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	// Services.
	validate := validator.New()
	metricsService := service.NewMetricsService()

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "amt-api",
	})

	scopeService := service.NewScopeService(moduleRepo, cacheRepo, cfg.Scope.CacheTTL, logr)
	userService := service.NewUserService(userRepo, userRepo, logr)
	workflowService := service.NewWorkflowService(assessmentRepo, moduleRepo, userRepo, userRepo, metricsService, logr)
	eligibilityService := service.NewEligibilityService(assessmentRepo, moduleRepo, userRepo, userRepo, cacheRepo, logr)
	moduleService := service.NewModuleService(moduleRepo, userRepo, eligibilityService, cacheRepo, userRepo, logr)
	assessmentService := service.NewAssessmentService(assessmentRepo, moduleRepo, scopeService, workflowService, eligibilityService, userRepo, logr)
	feedbackService := service.NewFeedbackService(feedbackRepo, assessmentRepo, moduleRepo, logr)
	importService := service.NewImportService(db, moduleRepo, assessmentRepo, userRepo, importRepo, userRepo, metricsService, cfg.Imports.MaxRows, logr)

	var exportService *service.ExportService
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportService = service.NewExportService(exportRepo, assessmentRepo, store, signer, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		}, logr)
		exportService.Start(ctx)
		defer exportService.Stop()
	}

	if cfg.Scheduler.Enabled {
		loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			logr.Sugar().Warnw("invalid scheduler timezone, using UTC", "timezone", cfg.Scheduler.Timezone)
			loc = time.UTC
		}
		scheduler := service.NewSchedulerService(assessmentRepo, workflowService, cfg.Scheduler.Interval, loc, logr)
		go scheduler.Run(ctx)
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	moduleHandler := handler.NewModuleHandler(moduleService, assessmentService, scopeService)
	assessmentHandler := handler.NewAssessmentHandler(assessmentService, workflowService, eligibilityService, feedbackService)
	importHandler := handler.NewImportHandler(importService)
	exportHandler := handler.NewExportHandler(exportService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("", middleware.JWT(authService))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	protected := api.Group("", middleware.JWT(authService))

	users := protected.Group("/users", middleware.RequireAdminCapable())
	{
		users.GET("", userHandler.List)
		users.POST("", userHandler.Create)
		users.GET("/:id", userHandler.Get)
		users.PUT("/:id/exams-officer", userHandler.SetExamsOfficer)
	}

	modules := protected.Group("/modules")
	{
		modules.GET("", moduleHandler.List)
		modules.GET("/:id", moduleHandler.Get)
		modules.POST("/:id/assessments", moduleHandler.CreateAssessment)

		admin := modules.Group("", middleware.RequireAdminCapable())
		admin.POST("", moduleHandler.Create)
		admin.PUT("/:id/staff", moduleHandler.AddStaffRole)
		admin.DELETE("/:id/staff/:userId", moduleHandler.RemoveStaffRole)
		admin.PUT("/:id/external-examiners/:userId", moduleHandler.AddExternalExaminer)
		admin.DELETE("/:id/external-examiners/:userId", moduleHandler.RemoveExternalExaminer)
	}

	assessments := protected.Group("/assessments")
	{
		assessments.GET("", assessmentHandler.List)
		assessments.GET("/:id", assessmentHandler.Get)
		assessments.GET("/:id/targets", assessmentHandler.Targets)
		assessments.POST("/:id/progress", assessmentHandler.Progress)
		assessments.POST("/:id/hold", assessmentHandler.Hold)
		assessments.POST("/:id/release", assessmentHandler.Release)
		assessments.POST("/:id/override", assessmentHandler.Override)
		assessments.POST("/:id/roles", assessmentHandler.AssignRole)
		assessments.DELETE("/:id/roles", assessmentHandler.RemoveRole)
		assessments.PUT("/:id/content", assessmentHandler.SubmitContent)
		assessments.PUT("/:id/exam-date", middleware.RequireExamsOfficer(), assessmentHandler.SetExamDate)
		assessments.POST("/:id/checker-feedback", assessmentHandler.CheckerFeedback)
		assessments.POST("/:id/external-feedback", assessmentHandler.ExternalFeedback)
		assessments.POST("/:id/setter-response", assessmentHandler.SetterResponse)
		assessments.GET("/:id/feedback", assessmentHandler.ListFeedback)
		assessments.GET("/:id/transitions", assessmentHandler.Transitions)
	}

	imports := protected.Group("/imports", middleware.RequireAdminCapable())
	{
		imports.POST("/modules", middleware.Audit(userRepo, "IMPORT_REQUEST", "import"), importHandler.Run)
		imports.GET("", importHandler.List)
		imports.GET("/:id", importHandler.Get)
	}

	if cfg.Exports.Enabled {
		exports := api.Group("/exports")
		exports.GET("/download/:token", exportHandler.Download)

		authedExports := exports.Group("", middleware.JWT(authService))
		authedExports.GET("/:id", exportHandler.Get)
		protected.POST("/assessments/:id/exports", exportHandler.Enqueue)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
