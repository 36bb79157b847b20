// Package api exposes the credential registry and dispatcher over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/themobileprof/chatmanager/internal/api/middleware"
	"github.com/themobileprof/chatmanager/internal/dispatch"
	"github.com/themobileprof/chatmanager/internal/keys"
)

// RouterConfig holds the dependencies of the HTTP surface
type RouterConfig struct {
	Registry *keys.Registry
	Manager  *dispatch.Manager
	History  ExchangeReader // optional

	Logger         zerolog.Logger
	AllowedOrigins []string

	// per-IP limit; zero disables it
	RequestsPerSecond float64
	Burst             int
}

// NewRouter builds the gin engine with every route registered
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(cfg.Logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins...))
	router.Use(middleware.SecurityHeaders())
	if cfg.RequestsPerSecond > 0 {
		router.Use(middleware.PerIP(cfg.RequestsPerSecond, cfg.Burst))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"ready":  cfg.Manager.IsReady(),
			"time":   time.Now().Unix(),
		})
	})

	keysHandler := NewKeysHandler(cfg.Registry, cfg.Manager)
	chatHandler := NewChatHandler(cfg.Manager)
	sessionHandler := NewSessionHandler(cfg.Manager, cfg.History)

	api := router.Group("/api")

	keysGroup := api.Group("/keys")
	{
		keysGroup.GET("", keysHandler.List)
		keysGroup.POST("", keysHandler.Add)
		keysGroup.PUT("/policy", keysHandler.SetPolicy)
		keysGroup.DELETE("/:name", keysHandler.Remove)
	}

	chatGroup := api.Group("/chat")
	{
		chatGroup.POST("", chatHandler.Send)
		chatGroup.POST("/batch", chatHandler.SendBatch)
	}

	sessions := api.Group("/sessions")
	{
		sessions.GET("", sessionHandler.List)
		sessions.POST("", sessionHandler.Select)
		sessions.GET("/:name/export", sessionHandler.Export)
		sessions.GET("/:name/history", sessionHandler.History)
	}

	return router
}
