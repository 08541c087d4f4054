// Package main runs the assessment platform HTTP server with WebSocket push and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulsecheck/backend/config"
	"github.com/pulsecheck/backend/internal/assessments"
	"github.com/pulsecheck/backend/internal/auth"
	"github.com/pulsecheck/backend/internal/emaillogs"
	"github.com/pulsecheck/backend/internal/invitations"
	"github.com/pulsecheck/backend/internal/middleware"
	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/internal/notifications"
	"github.com/pulsecheck/backend/internal/questions"
	"github.com/pulsecheck/backend/internal/realtime"
	"github.com/pulsecheck/backend/internal/responses"
	"github.com/pulsecheck/backend/pkg/database"
	"github.com/pulsecheck/backend/pkg/queue"
	"github.com/pulsecheck/backend/pkg/redis"
	"github.com/pulsecheck/backend/pkg/response"
	"github.com/pulsecheck/backend/pkg/utils"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	notifier := notifications.NewQueueNotifier(jobQueue, logger)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub)

	// Repositories
	userRepo := auth.NewRepository(pool)
	invitationRepo := invitations.NewRepository(pool)
	assessmentRepo := assessments.NewRepository(pool)
	responseRepo := responses.NewRepository(pool)
	questionRepo := questions.NewRepository(pool)
	notificationRepo := notifications.NewRepository(pool)
	emailLogsRepo := emaillogs.NewRepository(pool)

	if email := cfg.Bootstrap.SuperAdminEmail; email != "" {
		seedSuperAdmin(ctx, userRepo, email, cfg.Bootstrap.SuperAdminPassword, logger)
	}

	// Registration and login
	authSvc := auth.NewService(userRepo, invitationRepo, assessmentRepo, jwtService, jobQueue, notifier, auth.ServiceConfig{
		VerificationTTL: cfg.Verification.EmailTTL,
		ResetTTL:        cfg.Verification.ResetTTL,
		CooldownMonths:  cfg.Assessment.CooldownMonths,
		FrontendURL:     cfg.Server.FrontendURL,
	}, logger)
	authHandler := auth.NewHandler(authSvc, logger)

	// Invitations
	invitationSvc := invitations.NewService(invitationRepo, userRepo, jwtService, jobQueue, notifier, invitations.Config{
		TTL:            cfg.Invitation.TTL,
		SessionTTL:     cfg.Invitation.SessionTTL,
		BackendURL:     cfg.Server.BackendURL,
		CooldownMonths: cfg.Assessment.CooldownMonths,
	}, logger)
	invitationHandler := invitations.NewHandler(invitationSvc, cfg.Server.FrontendURL, logger)

	// Assessments and responses
	assessmentSvc := assessments.NewService(assessmentRepo, userRepo, invitationRepo, jobQueue, notifier,
		assessments.Config{CooldownMonths: cfg.Assessment.CooldownMonths}, logger)
	assessmentHandler := assessments.NewHandler(assessmentSvc, logger)
	responseSvc := responses.NewService(responseRepo, assessmentRepo, questionRepo, logger)
	responseHandler := responses.NewHandler(responseSvc, logger)
	questionHandler := questions.NewHandler(questionRepo, logger)

	// Notifications
	notificationHandler := notifications.NewHandler(notifications.NewService(notificationRepo))
	emailLogsHandler := emaillogs.NewHandler(emailLogsRepo)

	wsValidate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok"})
	})

	// Auth (public; register is scoped by the invite session)
	authGroup := router.Group("/auth")
	{
		authGroup.GET("/invite/:token", invitationHandler.Accept)
		authGroup.POST("/register", middleware.InviteSession(jwtService), authHandler.Register)
		authGroup.GET("/verify-email/:token", authHandler.VerifyEmail)
		authGroup.POST("/complete-profile", authHandler.CompleteProfile)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/forgot-password", authHandler.ForgotPassword)
		authGroup.POST("/reset-password", authHandler.ResetPassword)
		authGroup.POST("/resend-verification-email", authHandler.ResendVerification)
		authGroup.GET("/me", middleware.JWT(jwtService), authHandler.Me)
		authGroup.GET("/my-profile", middleware.JWT(jwtService), authHandler.MyProfile)
		authGroup.PATCH("/update-profile", middleware.JWT(jwtService), authHandler.UpdateProfile)
		authGroup.POST("/change-password", middleware.JWT(jwtService), authHandler.ChangePassword)
	}

	// Employee assessment (invite session, no account)
	employee := router.Group("/employee")
	employee.Use(middleware.InviteSession(jwtService))
	{
		employee.POST("/assessments/start", assessmentHandler.StartEmployee)
		employee.POST("/assessments/:id/responses", responseHandler.SaveEmployee)
		employee.POST("/assessments/:id/submit", assessmentHandler.SubmitEmployee)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Invitation role gates live in the service.
		api.POST("/invitations", invitationHandler.Issue)
		api.POST("/invitations/bulk", invitationHandler.IssueBulk)
		api.GET("/invitations", invitationHandler.List)
		api.DELETE("/invitations/:id", invitationHandler.Delete)
		api.GET("/organizations/:orgName", invitationHandler.OrgDetails)

		api.GET("/questions", questionHandler.List)
		api.GET("/questions/:id", questionHandler.Get)
		api.POST("/questions", middleware.RequireRole(models.RoleSuperAdmin), questionHandler.Create)
		api.POST("/questions/multiple", middleware.RequireRole(models.RoleSuperAdmin), questionHandler.CreateMany)
		api.PUT("/questions/:id", middleware.RequireRole(models.RoleSuperAdmin), questionHandler.Update)
		api.DELETE("/questions/:id", middleware.RequireRole(models.RoleSuperAdmin), questionHandler.Delete)

		api.POST("/assessments/start", assessmentHandler.Start)
		api.GET("/assessments/:id", assessmentHandler.Get)
		api.POST("/assessments/:id/submit", assessmentHandler.Submit)
		api.GET("/assessments/:id/responses", responseHandler.List)
		api.POST("/responses", responseHandler.Save)

		api.GET("/notifications", notificationHandler.List)
		api.PATCH("/notifications/read-all", notificationHandler.MarkAllRead)
		api.PATCH("/notifications/:id/read", notificationHandler.MarkRead)
		api.DELETE("/notifications", notificationHandler.Clear)
		api.PUT("/notifications/preferences", notificationHandler.UpdatePreferences)

		api.GET("/email-logs", middleware.RequireRole(models.RoleSuperAdmin), emailLogsHandler.List)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, wsValidate, middleware.OriginChecker(cfg.Server.CORSAllowedOrigins)))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func seedSuperAdmin(ctx context.Context, repo *auth.Repository, email, password string, logger *zap.Logger) {
	hash, err := utils.HashPassword(password)
	if err != nil {
		logger.Fatal("hash bootstrap password", zap.Error(err))
	}
	created, err := repo.EnsureSuperAdmin(ctx, email, hash)
	if err != nil {
		logger.Fatal("bootstrap super admin", zap.Error(err))
	}
	if created {
		logger.Info("bootstrap super admin created", zap.String("email", email))
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
