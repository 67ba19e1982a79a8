package task

import (
	"context"
	"fmt"
	"time"

	"smallbiznis-airdrop/pkg/config"

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

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
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
		redisOpt(cfg),
		asynq.Config{
			// Polls are long and one per platform; a handful of workers is enough.
			Concurrency:    4,
			RetryDelayFunc: asynq.DefaultRetryDelayFunc,
			Queues: map[string]int{
				cfg.Airdrop.Queue: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				zap.L().Error("[Asynq] task failed", zap.String("task_type", task.Type()), zap.Error(err))
			}),
		},
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Start(mux); err != nil {
				return fmt.Errorf("start asynq server: %w", err)
			}
			zap.L().Info("[Asynq] Asynq server started", zap.String("addr", cfg.Redis.Addr), zap.String("queue", cfg.Airdrop.Queue))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Shutdown()
			return nil
		},
	})
}

// Scheduler enqueues periodic tasks. Entries are registered by domain modules
// before the fx start hook runs it.
var Scheduler = fx.Module("asynq:scheduler",
	fx.Provide(registerScheduler),
)

func registerScheduler(lc fx.Lifecycle, cfg *config.Config) (*asynq.Scheduler, error) {
	opts := &asynq.SchedulerOpts{
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				zap.L().Error("[Asynq] scheduled enqueue failed", zap.Error(err))
				return
			}
			zap.L().Debug("[Asynq] scheduled task enqueued", zap.String("task_type", info.Type), zap.String("task_id", info.ID))
		},
	}
	if cfg.Airdrop.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Airdrop.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load scheduler timezone: %w", err)
		}
		opts.Location = loc
	}

	scheduler := asynq.NewScheduler(redisOpt(cfg), opts)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := scheduler.Start(); err != nil {
				return fmt.Errorf("start asynq scheduler: %w", err)
			}
			zap.L().Info("[Asynq] Asynq scheduler started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Shutdown()
			return nil
		},
	})

	return scheduler, nil
}
