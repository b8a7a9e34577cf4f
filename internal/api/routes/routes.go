package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"panel-service/internal/api/handlers"
	"panel-service/internal/api/middleware"
	"panel-service/internal/auth"
	"panel-service/internal/realtime"
	"panel-service/internal/repositories/postgres"
	"panel-service/internal/services"
)

type Router struct {
	engine          *gin.Engine
	wsHandler       *handlers.WSHandler
	authHandler     *handlers.AuthHandler
	realtimeHandler *handlers.RealtimeHandler
	rateLimitMW     *middleware.RateLimitMiddleware
	authMW          *middleware.AuthMiddleware
}

func NewRouter(
	hub *realtime.Hub,
	metrics *realtime.Metrics,
	authenticator *auth.JWTAuthenticator,
	presence *services.PresenceService,
	redisClient *redis.Client,
	db *gorm.DB,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogApi())

	userRepo := postgres.NewUserRepository(db)
	userService := services.NewUserService(userRepo, authenticator)

	return &Router{
		engine:          engine,
		wsHandler:       handlers.NewWSHandler(hub, authenticator),
		authHandler:     handlers.NewAuthHandler(userService),
		realtimeHandler: handlers.NewRealtimeHandler(metrics, presence),
		rateLimitMW:     middleware.NewRateLimitMiddleware(redisClient),
		authMW:          middleware.NewAuthMiddleware(authenticator),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.engine.Group("/api/v1")

	// Realtime endpoint. Authentication is fail-open at this level; the hub
	// handles the in-band authenticate path.
	api.GET("/ws",
		r.rateLimitMW.WebSocketRateLimit(5, time.Minute),
		r.wsHandler.HandleWebSocket,
	)

	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/login", r.authHandler.Login)
		authRoutes.POST("/refresh", r.authMW.RequireAuth(), r.authHandler.Refresh)
		authRoutes.GET("/me", r.authMW.RequireAuth(), r.authHandler.Me)
	}

	api.GET("/realtime/stats", r.authMW.RequireAuth(), r.realtimeHandler.Stats)
	api.GET("/users/online", r.authMW.RequireAuth(), r.realtimeHandler.OnlineUsers)
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
