package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/teleconsult/internal/handlers"
	"github.com/thereayou/teleconsult/internal/middleware"
	"github.com/thereayou/teleconsult/pkg/auth"
)

type Endpoints struct {
	Auth          *handlers.AuthHandler
	Consultations *handlers.ConsultationHandler
	RTC           *handlers.RTCHandler
	WS            *handlers.WebSocketHandler
	JWT           *auth.JWTManager
	Blacklist     middleware.TokenBlacklist
	Limiter       *middleware.UserRateLimiter
	Metrics       http.Handler
	Health        gin.HandlerFunc
}

func APIEndpoints(r *gin.Engine, e Endpoints) {
	r.GET("/healthz", e.Health)
	r.GET("/metrics", gin.WrapH(e.Metrics))

	// Auth endpoints
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", e.Auth.Register)
		authGroup.POST("/login", e.Auth.Login)
		authGroup.POST("/logout", middleware.AuthMiddleware(e.JWT, e.Blacklist), e.Auth.Logout)
	}

	api := r.Group("/api/v1", middleware.AuthMiddleware(e.JWT, e.Blacklist))
	{
		api.GET("/me", e.Auth.GetMe)

		consultations := api.Group("/consultations")
		{
			consultations.POST("", e.Consultations.Create)
			consultations.GET("/:id", e.Consultations.Get)
			consultations.POST("/:id/book", e.Consultations.Book)
			consultations.PUT("/:id/notes", e.Consultations.UpdateNotes)
		}

		rooms := api.Group("/rtc/rooms")
		{
			rooms.POST("", e.RTC.CreateRoom)
			rooms.GET("/:token", e.RTC.GetRoom)
			rooms.POST("/:token/join", e.RTC.JoinRoom)
			rooms.POST("/:token/signals", e.Limiter.Middleware(), e.RTC.SendSignal)
			rooms.GET("/:token/signals", e.RTC.FetchSignals)
			rooms.POST("/:token/end", e.RTC.EndRoom)
		}
	}

	// WebSocket принимает токен в query, браузеры не шлют заголовки
	r.GET("/api/v1/rtc/rooms/:token/ws", middleware.WSAuthMiddleware(e.JWT, e.Blacklist), e.WS.HandleRoom)
}
