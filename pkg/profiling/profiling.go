package profiling

import (
	"context"

	"smallbiznis-airdrop/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module pushes continuous profiles to Pyroscope when PYROSCOPE.ADDR is set.
var Module = fx.Module("profiling", fx.Invoke(register))

func Config(c *config.Config) pyroscope.Config {
	return pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Pyroscope.Addr,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockDuration,
		},
		Tags: map[string]string{
			"service_name": c.AppName,
			"env":          c.AppEnv,
			"version":      c.AppVersion,
		},
	}
}

func register(lc fx.Lifecycle, c *config.Config) {
	if c.Pyroscope.Addr == "" {
		return
	}

	var profiler *pyroscope.Profiler
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p, err := pyroscope.Start(Config(c))
			if err != nil {
				zap.L().Error("[pyroscope] failed to start", zap.Error(err))
				return nil
			}
			profiler = p
			zap.L().Info("[pyroscope] profiling started", zap.String("addr", c.Pyroscope.Addr))
			return nil
		},
		OnStop: func(context.Context) error {
			if profiler == nil {
				return nil
			}
			return profiler.Stop()
		},
	})
}
