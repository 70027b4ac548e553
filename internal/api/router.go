package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/parleychat/parley/internal/app"
	"github.com/parleychat/parley/internal/gateway"
	"github.com/parleychat/parley/internal/handlers"
	"github.com/parleychat/parley/internal/middleware"
	"github.com/parleychat/parley/internal/presence"
	"github.com/parleychat/parley/internal/services"
)

// Deps collects everything the router mounts.
type Deps struct {
	Config     *app.Config
	DB         *gorm.DB
	Registry   *presence.Registry
	Members    *services.MemberService
	Controller *gateway.Controller
}

// NewRouter assembles the gin engine: access logging, panic recovery and
// latency metrics on every route, the REST signup surface under /api, the
// websocket gateway on /ws and operational endpoints at the root.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Config == nil || deps.DB == nil {
		return nil, errors.New("api: config and db are required")
	}
	if deps.Registry == nil || deps.Members == nil || deps.Controller == nil {
		return nil, errors.New("api: registry, member service and gateway controller are required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.NoRoute(middleware.NotFoundHandler)

	health := handlers.NewHealthHandler(deps.DB, deps.Registry)
	router.GET("/health", health.Ready)
	router.GET("/health/live", health.Live)
	router.GET("/health/ready", health.Ready)

	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		router.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	router.GET("/ws", deps.Controller.HandleWS)

	members := handlers.NewMemberHandler(deps.Members)
	api := router.Group("/api")
	{
		api.POST("/chat/signup", members.Signup)
		api.GET("/members", members.List)
		api.GET("/members/:id", members.Get)
	}

	return router, nil
}
