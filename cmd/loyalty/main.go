package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pointsplane/pkg/config"
	"pointsplane/pkg/db"
	"pointsplane/pkg/gen"
	"pointsplane/pkg/health"
	"pointsplane/pkg/logger"
	"pointsplane/pkg/middleware"
	"pointsplane/pkg/redis"
	"pointsplane/pkg/server"
	"pointsplane/pkg/task"
	"pointsplane/services/campaign"
	"pointsplane/services/customer"
	"pointsplane/services/ledger"
	"pointsplane/services/notify"
	"pointsplane/services/reconcile"
	"pointsplane/services/referral"
	"pointsplane/services/settings"
	"pointsplane/services/sweep"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		task.Client,
		task.Server,
		task.Scheduler,
		settings.Module,
		customer.Module,
		ledger.Module,
		campaign.Module,
		referral.Module,
		notify.Module,
		sweep.Module,
		reconcile.Module,
		health.Module,
		fx.Provide(server.RegisterRouter),
		server.ProvideHTTPServer,
		fx.Invoke(
			registerDBTelemetry,
			registerRoutes,
			registerTaskHandlers,
			registerSchedules,
		),
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

func registerDBTelemetry(gdb *gorm.DB, cfg *config.Config) error {
	if err := db.Otel(gdb); err != nil {
		return err
	}
	return db.Metric(gdb, cfg.Database.DBNAME)
}

func registerRoutes(router *gin.Engine, hs health.HealthService) {
	router.Use(middleware.Error())
	router.GET("/healthz", hs.Liveness)
	router.GET("/readyz", hs.Readiness)
}

func registerTaskHandlers(
	mux *asynq.ServeMux,
	notifyHandler *notify.Handler,
	sweepHandler *sweep.Handler,
	reconcileHandler *reconcile.Handler,
) {
	mux.HandleFunc(notify.TaskTypeNotifyCustomer, notifyHandler.HandleNotifyCustomerTask)
	mux.HandleFunc(sweep.TaskTypeExpirySweep, sweepHandler.HandleExpirySweepTask)
	mux.HandleFunc(sweep.TaskTypeReminderSweep, sweepHandler.HandleReminderSweepTask)
	mux.HandleFunc(reconcile.TaskTypeReconcile, reconcileHandler.HandleReconcileTask)
}

func registerSchedules(scheduler *asynq.Scheduler, provider *settings.Provider) {
	sweep.RegisterSchedules(scheduler, provider)
	reconcile.RegisterSchedule(scheduler)
}
