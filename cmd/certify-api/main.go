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

	_ "github.com/noah-isme/certify-api/api/swagger"
	"github.com/noah-isme/certify-api/internal/handler"
	"github.com/noah-isme/certify-api/internal/middleware"
	"github.com/noah-isme/certify-api/internal/models"
	"github.com/noah-isme/certify-api/internal/repository"
	"github.com/noah-isme/certify-api/internal/service"
	"github.com/noah-isme/certify-api/pkg/cache"
	"github.com/noah-isme/certify-api/pkg/config"
	"github.com/noah-isme/certify-api/pkg/database"
	"github.com/noah-isme/certify-api/pkg/jobs"
	"github.com/noah-isme/certify-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/certify-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/certify-api/pkg/middleware/requestid"
	"github.com/noah-isme/certify-api/pkg/storage"
)

// @title Certify API
// @version 0.1.0
// @description Certificate issuance service: roster, templates and batch PDF generation
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, template cache disabled", "error", err)
		redisClient = nil
	}

	store, err := storage.NewLocalStorage(cfg.Storage.PrimaryDir, cfg.Storage.LegacyDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)
	jobRepo := repository.NewGenerationJobRepository(db)
	numberSource := repository.NewCertificateNumberSource(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metricsService := service.NewMetricsService()
	validate := validator.New()

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "certify-api",
	})
	studentService := service.NewStudentService(studentRepo, logr)
	templateService := service.NewTemplateService(templateRepo, cacheRepo, store, logr, service.TemplateServiceConfig{
		LayoutCacheTTL:     cfg.Generation.LayoutCacheTTL,
		BackgroundCacheTTL: cfg.Generation.TemplateCacheTTL,
	})
	generationService := service.NewGenerationService(studentRepo, templateService, certificateRepo, store, numberSource, logr, service.GenerationServiceConfig{
		BatchSize:    cfg.Generation.BatchSize,
		QRSizePixels: cfg.Generation.QRSizePixels,
		PageWidthPt:  cfg.Generation.PageWidthPt,
		PageHeightPt: cfg.Generation.PageHeightPt,
	})
	generationService.SetMetrics(metricsService)
	templateService.SetMetrics(metricsService)
	certificateService := service.NewCertificateService(certificateRepo, signer, store, cfg.APIPrefix, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var jobService *service.GenerationJobService
	var queue *jobs.Queue
	if cfg.Jobs.Enabled {
		worker := service.NewGenerationWorker(jobRepo, generationService, cfg.Jobs.WorkerRetries, logr)
		worker.SetMetrics(metricsService)
		queue = jobs.NewQueue("certificate_generation", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Jobs.WorkerConcurrency,
			MaxRetries: cfg.Jobs.WorkerRetries,
			Logger:     logr,
		})
		queue.Start(ctx)
		jobService = service.NewGenerationJobService(jobRepo, queue, logr)
		jobService.RecoverPendingJobs(ctx)
	}

	authHandler := handler.NewAuthHandler(authService)
	studentHandler := handler.NewStudentHandler(studentService)
	templateHandler := handler.NewTemplateHandler(templateService)
	certificateHandler := handler.NewCertificateHandler(generationService, jobService, certificateService, cfg.Generation.BatchSize, cfg.Generation.StreamBatchSize)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

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

	r.GET("/metrics", gin.WrapH(metricsService.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	// Token-authenticated download link shared outside the admin UI.
	api.GET("/certificates/:id/download", certificateHandler.Download)

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))
	authed.GET("/auth/me", authHandler.Me)

	staff := authed.Group("")
	staff.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleOperator))
	{
		staff.GET("/students", studentHandler.List)
		staff.GET("/students/:id", studentHandler.Get)
		staff.POST("/students", studentHandler.Create)
		staff.PUT("/students/:id", studentHandler.Update)
		staff.POST("/students/bulk-upload", studentHandler.BulkUpload)

		staff.GET("/templates", templateHandler.List)
		staff.GET("/templates/:id", templateHandler.Get)
		staff.POST("/templates", templateHandler.Upload)
		staff.GET("/templates/:id/design", templateHandler.Design)
		staff.PUT("/templates/:id/design", templateHandler.UpdateDesign)
		staff.POST("/templates/:id/toggle", templateHandler.Toggle)

		staff.POST("/certificates/generate", certificateHandler.Generate)
		staff.POST("/certificates/generate-stream", certificateHandler.GenerateStream)
		staff.POST("/certificates/generate-async", certificateHandler.GenerateAsync)
		staff.GET("/certificates/jobs/:id", certificateHandler.JobStatus)
		staff.GET("/certificates/latest/:studentId", certificateHandler.Latest)
		staff.GET("/certificates/student/:studentId", certificateHandler.ListByStudent)
		staff.POST("/certificates/download-batch", certificateHandler.DownloadBatch)
	}

	admin := authed.Group("")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	{
		admin.DELETE("/students/:id", studentHandler.Delete)
		admin.DELETE("/templates/:id", templateHandler.Delete)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown", "error", err)
	}
	if queue != nil {
		queue.Stop()
	}
}
