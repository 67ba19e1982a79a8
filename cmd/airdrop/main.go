package main

import (
	"log"

	"smallbiznis-airdrop/pkg/config"
	"smallbiznis-airdrop/pkg/db"
	"smallbiznis-airdrop/pkg/featureflags"
	"smallbiznis-airdrop/pkg/hashistack/secretmanager"
	"smallbiznis-airdrop/pkg/health"
	"smallbiznis-airdrop/pkg/logger"
	"smallbiznis-airdrop/pkg/otelcol"
	"smallbiznis-airdrop/pkg/profiling"
	"smallbiznis-airdrop/pkg/redis"
	"smallbiznis-airdrop/pkg/server"
	"smallbiznis-airdrop/pkg/task"
	"smallbiznis-airdrop/services/airdrop"
	"smallbiznis-airdrop/services/bootstrap"
	"smallbiznis-airdrop/services/gateway"
	"smallbiznis-airdrop/services/platform"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		otelcol.Module,
		profiling.Module,
		featureflags.Module,
		fx.Provide(provideSnowflakeNode),
		task.Server,
		task.Scheduler,
		bootstrap.Module,
		platform.Module,
		airdrop.Module,
		airdrop.TaskModule,
		gateway.Module,
		health.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
})

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
