package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"pointsplane/pkg/config"
	"pointsplane/pkg/db"
	"pointsplane/pkg/health"
	"pointsplane/pkg/logger"
	"pointsplane/pkg/middleware"
	"pointsplane/pkg/redis"
	"pointsplane/pkg/server"
	"pointsplane/services/monitor"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		monitor.Module,
		health.Module,
		fx.Provide(server.RegisterRouter),
		server.ProvideHTTPServer,
		fx.Invoke(registerRoutes),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func registerRoutes(router *gin.Engine, hs health.HealthService) {
	router.Use(middleware.Error())
	router.GET("/healthz", hs.Liveness)
	router.GET("/readyz", hs.Readiness)
}
