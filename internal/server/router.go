package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"teamsync-server/internal/auth"
	"teamsync-server/internal/handler"
	"teamsync-server/internal/hub"
	"teamsync-server/internal/middleware"
	"teamsync-server/internal/syncer"
)

type Deps struct {
	Sync        *syncer.Service
	Hub         *hub.Hub
	Store       handler.Pinger
	TokenConfig auth.TokenConfig

	// SyncRateLimit is requests per minute per user; zero disables it.
	SyncRateLimit    int
	CORSAllowOrigins []string
}

func NewRouter(deps Deps) *gin.Engine {
	origins := deps.CORSAllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	wsHub := deps.Hub
	if wsHub == nil {
		wsHub = hub.New()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	healthHandler := &handler.HealthHandler{Store: deps.Store}
	r.GET("/health", healthHandler.Check)

	syncLimiter := middleware.NewRateLimiter(deps.SyncRateLimit, time.Minute)
	syncHandler := &handler.SyncHandler{Service: deps.Sync}

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))

	sync := protected.Group("/sync")
	sync.Use(middleware.RateLimitMiddleware(syncLimiter))
	sync.POST("/initial", syncHandler.Initial)
	sync.POST("/quick", syncHandler.Quick)
	sync.POST("/selective", syncHandler.Selective)
	sync.POST("/push", syncHandler.Push)
	sync.POST("/resolve-conflicts", syncHandler.ResolveConflicts)
	sync.GET("/status", syncHandler.Status)

	wsHandler := &handler.WebSocketHandler{Hub: wsHub, TokenConfig: deps.TokenConfig}
	r.GET("/v1/updates", wsHandler.Serve)

	return r
}
