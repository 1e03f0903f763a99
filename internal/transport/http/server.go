package http

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"dermassist/internal/bootstrap"
	"dermassist/internal/transport/http/handler"
	"dermassist/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	cfg := app.Config
	gin.SetMode(cfg.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(cfg.App.Name, cfg.App.Env, app.StartedAt, healthChecks(app))
	router.GET("/healthz", healthHandler.Check)

	authHandler := handler.NewAuthHandler(app.Auth)
	ragHandler := handler.NewRAGHandler(app.RAG, cfg.MaxUploadBytes())
	diagnosisHandler := handler.NewDiagnosisHandler(app.Classifier, cfg.MaxImageBytes())
	requireAuth := middleware.AuthJWT(cfg.Auth.JWTSecret)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", requireAuth, authHandler.Me)

	ragGroup := v1.Group("/rag")
	ragGroup.Use(requireAuth)
	ragGroup.POST("/upload", ragHandler.UploadPDF)
	ragGroup.GET("/upload/files/:userId", ragHandler.ListUserFiles)
	ragGroup.GET("/documents", ragHandler.ListDocuments)
	ragGroup.GET("/documents/:id/status", ragHandler.DocumentStatus)
	ragGroup.DELETE("/documents/:id", ragHandler.DeleteDocument)
	ragGroup.POST("/ask", ragHandler.Ask)
	ragGroup.POST("/retrieve", ragHandler.Retrieve)

	v1.POST("/documents/upload", requireAuth, ragHandler.UploadDocument)
	v1.POST("/diagnosis/analyze", requireAuth, diagnosisHandler.Analyze)

	return router
}

func healthChecks(app *bootstrap.App) map[string]handler.HealthCheck {
	checks := make(map[string]handler.HealthCheck)
	if app.MySQL != nil {
		checks["mysql"] = func(ctx context.Context) error {
			sqlDB, err := app.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if app.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}
	}
	if app.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if app.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
	}
	return checks
}
