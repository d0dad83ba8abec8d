package bootstrap

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/intelliexo/intelliexo-backend/internal/logging"
	sessionhttp "github.com/intelliexo/intelliexo-backend/internal/session/http"
)

type RouterDeps struct {
	ServiceName    string
	Version        string
	AllowedOrigins []string
	Logger         *zap.Logger
	// Auth puts the caller's uid on the gin context or aborts with 401.
	Auth     gin.HandlerFunc
	Sessions sessionhttp.Sessions
	Gatherer prometheus.Gatherer
	Ping     func(ctx context.Context) error
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.RequestIDMiddleware(dep.Logger))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = dep.AllowedOrigins
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-User-Id", logging.HeaderRequestID)
	corsCfg.ExposeHeaders = []string{logging.HeaderRequestID}
	r.Use(cors.New(corsCfg))

	healthHandler := NewHealthHandler(dep.ServiceName, dep.Version, dep.Ping)
	healthHandler.RegisterRoutes(r)

	gatherer := dep.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.Use(dep.Auth)

	sessionGroup := api.Group("/session")
	sessionhttp.New(dep.Sessions, dep.Logger).Register(sessionGroup)

	return r
}
