package task

import (
	"context"
	"time"

	"pointsplane/pkg/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("asynq:client",
	fx.Provide(registerClient, NewEnqueuer),
)

func registerClient(lc fx.Lifecycle, rdb *redis.Client) *asynq.Client {
	client := asynq.NewClientFromRedisClient(rdb)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client
}

var Server = fx.Module("asynq:server",
	fx.Provide(registerServerMux),
	fx.Invoke(registerAsynqServer),
)

func registerServerMux() *asynq.ServeMux {
	return asynq.NewServeMux()
}

func registerAsynqServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency:    10,
			RetryDelayFunc: asynq.DefaultRetryDelayFunc,
			Queues: map[string]int{
				"critical": 10,
				"default":  5,
				"low":      3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				zap.L().Error("asynq task permanently failed", zap.String("task_type", task.Type()), zap.Error(err))
			}),
		},
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.Start(mux); err != nil {
					zap.L().Error("[Asynq] Failed to start Asynq server", zap.Error(err))
				}
			}()
			zap.L().Info("[Asynq] Asynq server started", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Stop()
			server.Shutdown()
			return nil
		},
	})
}

var Scheduler = fx.Module("asynq:scheduler",
	fx.Provide(registerScheduler),
	fx.Invoke(runScheduler),
)

type SchedulerParams struct {
	fx.In
	Config   *config.Config
	Location *time.Location `optional:"true"`
}

func registerScheduler(p SchedulerParams) *asynq.Scheduler {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	return asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     p.Config.Redis.Addr,
			Password: p.Config.Redis.Password,
			DB:       p.Config.Redis.DB,
		},
		&asynq.SchedulerOpts{
			Location: loc,
			PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
				if err != nil {
					zap.L().Error("scheduled enqueue failed", zap.Error(err))
				}
			},
		},
	)
}

func runScheduler(lc fx.Lifecycle, scheduler *asynq.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := scheduler.Run(); err != nil {
					zap.L().Error("[Asynq] Scheduler stopped", zap.Error(err))
				}
			}()
			zap.L().Info("[Asynq] Scheduler started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Shutdown()
			return nil
		},
	})
}

// RegisterEntry registers a cron entry on the scheduler. A malformed spec is
// logged and skipped so sibling schedules still register.
func RegisterEntry(scheduler *asynq.Scheduler, spec string, t *asynq.Task, opts ...asynq.Option) {
	entryID, err := scheduler.Register(spec, t, opts...)
	if err != nil {
		zap.L().Error("failed to register schedule",
			zap.String("spec", spec),
			zap.String("task_type", t.Type()),
			zap.Error(err),
		)
		return
	}

	zap.L().Info("registered schedule",
		zap.String("entry_id", entryID),
		zap.String("spec", spec),
		zap.String("task_type", t.Type()),
	)
}
