package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/pjsph/slam/internal/api/handlers"
	"github.com/pjsph/slam/internal/api/middleware"
	"github.com/pjsph/slam/internal/broadcast"
	"github.com/pjsph/slam/internal/config"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/internal/service"
	"github.com/pjsph/slam/internal/transport"
	"github.com/pjsph/slam/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies are the running components the HTTP API exposes.
type Dependencies struct {
	Matchmaking *service.MatchmakingService
	Hub         *broadcast.Hub
	Codec       *protocol.Codec
	Dispatcher  *transport.Dispatcher
	Limiter     ratelimit.Limiter
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

// SetupRouter builds the HTTP API. ctx bounds WebSocket connections.
func SetupRouter(ctx context.Context, cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	playerHandler := handlers.NewPlayerHandler(deps.Matchmaking)
	queueHandler := handlers.NewQueueHandler(deps.Matchmaking)
	wsHandler := handlers.NewWebSocketHandler(ctx, deps.Hub, deps.Codec, deps.Dispatcher, cfg.BroadcastBacklog, deps.Logger)

	router.GET("/health", handlers.HealthCheck)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Limiter:  deps.Limiter,
		Capacity: cfg.RateLimitBurst,
	}))
	{
		players := v1.Group("/players")
		{
			players.POST("", playerHandler.CreatePlayer)
			players.GET("/:id", playerHandler.GetPlayer)
		}

		queue := v1.Group("/queue")
		{
			queue.POST("", queueHandler.Enqueue)
			queue.GET("", queueHandler.GetStats)
		}

		v1.GET("/ws", wsHandler.HandleWebSocket)
	}

	return router
}
