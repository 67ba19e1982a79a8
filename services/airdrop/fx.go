package airdrop

import (
	"context"
	"strings"

	"smallbiznis-airdrop/pkg/config"
	"smallbiznis-airdrop/pkg/featureflags"
	"smallbiznis-airdrop/pkg/repository"
	"smallbiznis-airdrop/pkg/retry"
	"smallbiznis-airdrop/pkg/server"
	"smallbiznis-airdrop/services/platform"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("airdrop",
	fx.Provide(
		NewMetrics,
		newRuleCache,
		NewResolver,
		NewEngine,
		NewWriter,
		NewReader,
		NewListener,
		newOrchestrators,
		NewTaskHandler,
		server.AsRoute(NewHandler),
	),
)

// TaskModule mounts the poll and push handlers on the asynq server and the
// cron entries on the scheduler.
var TaskModule = fx.Module("airdrop:task",
	fx.Invoke(
		registerHandlers,
		RegisterSchedules,
		runOnStart,
	),
)

func newRuleCache(cfg *config.Config, m *Metrics) *RuleCache {
	c := NewRuleCache(cfg.Airdrop.RuleCacheTTL)
	m.Observe(c)
	return c
}

type flagGate struct {
	flags featureflags.FeatureFlag
}

// Enabled reads the airdrop_poll_<platform> flag; unknown flags leave polling on.
func (g flagGate) Enabled(ctx context.Context, p platform.Platform) bool {
	return g.flags.Enabled(ctx, "airdrop_poll_"+strings.ToLower(string(p)), true)
}

type OrchestratorsParams struct {
	fx.In
	Config   *config.Config
	DB       *gorm.DB
	Node     *snowflake.Node
	Registry *platform.Registry
	Resolver *Resolver
	Engine   *Engine
	Writer   *Writer
	Metrics  *Metrics
	Flags    featureflags.FeatureFlag `optional:"true"`
}

func newOrchestrators(p OrchestratorsParams) *Orchestrators {
	var gate Gate
	if p.Flags != nil {
		gate = flagGate{flags: p.Flags}
	}

	var items []*Orchestrator
	for _, name := range p.Registry.Enabled() {
		cfg := p.Registry.Config(name)
		if !cfg.Polls() {
			continue
		}
		client, _ := p.Registry.Client(name)
		items = append(items, NewOrchestrator(OrchestratorParams{
			Platform: name,
			Client:   client,
			Config:   cfg,
			Policy: p.Registry.Policy(name, func(class retry.Class, attempt int, err error) {
				p.Metrics.retry(name, class)
			}),
			MaxFailures: p.Config.Airdrop.MaxConsecutiveFailures,
			Resolver:    p.Resolver,
			Engine:      p.Engine,
			Writer:      p.Writer,
			Runs:        repository.ProvideStore[Run](p.DB),
			Node:        p.Node,
			Gate:        gate,
			Metrics:     p.Metrics,
		}))
	}
	return NewOrchestrators(items...)
}

func registerHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	h.Register(mux)
}

// runOnStart polls the platforms flagged RUN_ON_START once the app is up,
// without waiting for the first cron tick.
func runOnStart(lc fx.Lifecycle, orchestrators *Orchestrators) {
	var selected []*Orchestrator
	for _, p := range orchestrators.Platforms() {
		o, _ := orchestrators.Get(p)
		if o.cfg.RunOnStart {
			selected = append(selected, o)
		}
	}
	if len(selected) == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if _, err := NewOrchestrators(selected...).RunAll(ctx, "startup"); err != nil {
					zap.L().Error("[airdrop] startup run failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
