package handlers

import (
	"family-planner-backend/internal/middleware"
	"family-planner-backend/internal/services"
	"family-planner-backend/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type RouterConfig struct {
	Auth          *services.AuthService
	Sessions      *services.SessionService
	Progress      *services.ProgressService
	Claims        *services.ClaimService
	Hub           *ws.Hub
	ServiceAPIKey string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	sessionHandler := NewSessionHandler(cfg.Sessions)
	progressHandler := NewProgressHandler(cfg.Progress)
	claimHandler := NewClaimHandler(cfg.Claims)
	wsHandler := NewWSHandler(cfg.Hub, cfg.Sessions)
	internalHandler := NewInternalHandler(cfg.Sessions, cfg.Progress)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Service-Key"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/ws/planning-sessions/:id", middleware.JWTAuth(cfg.Auth), wsHandler.HandleWebSocket)

	internal := r.Group("/internal/planning-sessions")
	internal.Use(middleware.ServiceKeyAuth(cfg.ServiceAPIKey))
	{
		internal.GET("/:id", internalHandler.GetSession)
		internal.GET("/:id/progress", internalHandler.GetProgress)
	}

	api := r.Group("/api/v1")
	{
		sessions := api.Group("/planning-sessions")
		sessions.Use(middleware.JWTAuth(cfg.Auth))
		{
			sessions.POST("", sessionHandler.StartSession)
			sessions.GET("/latest", sessionHandler.LatestSession)
			sessions.GET("/history", sessionHandler.SessionHistory)
			sessions.GET("/:id", sessionHandler.GetSession)
			sessions.POST("/:id/pause", sessionHandler.PauseSession)
			sessions.POST("/:id/resume", sessionHandler.ResumeSession)
			sessions.POST("/:id/cancel", sessionHandler.CancelSession)
			sessions.POST("/:id/complete", sessionHandler.CompleteSession)

			sessions.POST("/:id/save", progressHandler.SaveProgress)
			sessions.PUT("/:id/phases/:phase", progressHandler.SetPhaseProgress)
			sessions.POST("/:id/cursor", progressHandler.MovePhase)
			sessions.GET("/:id/progress", progressHandler.GetProgress)

			sessions.POST("/:id/claims", claimHandler.ClaimItem)
			sessions.GET("/:id/claims", claimHandler.ListClaims)
			sessions.PUT("/:id/items/:type/:item_id", claimHandler.UpdateItem)
			sessions.POST("/:id/commitments", claimHandler.CommitTasks)

			sessions.GET("/:id/presence", wsHandler.GetPresence)
		}
	}

	return r
}
