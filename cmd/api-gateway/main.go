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

	_ "github.com/noah-isme/uni-appeal-api/api/swagger"
	"github.com/noah-isme/uni-appeal-api/internal/handler"
	"github.com/noah-isme/uni-appeal-api/internal/middleware"
	"github.com/noah-isme/uni-appeal-api/internal/models"
	"github.com/noah-isme/uni-appeal-api/internal/repository"
	"github.com/noah-isme/uni-appeal-api/internal/service"
	"github.com/noah-isme/uni-appeal-api/pkg/cache"
	"github.com/noah-isme/uni-appeal-api/pkg/config"
	"github.com/noah-isme/uni-appeal-api/pkg/database"
	"github.com/noah-isme/uni-appeal-api/pkg/export"
	"github.com/noah-isme/uni-appeal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/uni-appeal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/uni-appeal-api/pkg/middleware/requestid"
	"github.com/noah-isme/uni-appeal-api/pkg/storage"
)

// @title University Appeal API
// @version 1.0.0
// @description Academic appeal management API
// @BasePath /
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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	store, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo := repository.NewUserRepository(db)
	appealRepo := repository.NewAppealRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "uni-appeal-api",
	})

	notificationSvc := service.NewNotificationService(
		notificationRepo,
		cache.NewPublisher(redisClient),
		cfg.Notifications,
		metricsSvc,
		logr,
	)
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	attachmentSvc := service.NewAttachmentService(store, cfg.Uploads, logr)
	appealSvc := service.NewAppealService(appealRepo, userRepo, attachmentSvc, notificationSvc, userRepo, metricsSvc, logr)
	exportSvc := service.NewExportService(appealSvc, export.NewCSVExporter(), export.NewPDFExporter(), logr)

	authHandler := handler.NewAuthHandler(authSvc)
	appealHandler := handler.NewAppealHandler(appealSvc, exportSvc, signer)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)

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
		checkCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(checkCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
		if err := redisClient.Ping(checkCtx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	// signed download links carry their own authorization
	r.GET("/files/appeals", appealHandler.ServeSignedAttachment)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	authed := api.Group("", middleware.JWT(authSvc))
	authed.POST("/auth/logout", authHandler.Logout)
	authed.PUT("/auth/password", authHandler.ChangePassword)
	authed.GET("/auth/me", authHandler.Me)

	appeals := authed.Group("/appeals")
	appeals.POST("", middleware.RequireRoles(models.RoleStudent), appealHandler.Create)
	appeals.GET("", appealHandler.List)
	if cfg.Exports.Enabled {
		appeals.GET("/export",
			middleware.RequireRoles(models.RoleProfessor, models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionAppealExport, "appeals"),
			appealHandler.Export)
	}
	appeals.GET("/:id", appealHandler.Get)
	appeals.PATCH("/:id", middleware.RequireRoles(models.RoleStudent), appealHandler.Edit)
	appeals.POST("/:id/transition", middleware.RequireRoles(models.RoleProfessor), appealHandler.Transition)
	appeals.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), appealHandler.Delete)
	appeals.GET("/:id/attachment", appealHandler.DownloadAttachment)
	appeals.GET("/:id/attachment/link", appealHandler.AttachmentLink)

	notifications := authed.Group("/notifications")
	notifications.GET("", notificationHandler.List)
	notifications.POST("/:id/read", notificationHandler.MarkRead)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
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
