package gateway

import (
	"context"
	"errors"

	"smallbiznis-airdrop/pkg/config"
	"smallbiznis-airdrop/pkg/server"
	"smallbiznis-airdrop/services/airdrop"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(
		func(l *airdrop.Listener) Handler { return l },
		server.AsRoute(NewWebhook),
	),
	fx.Invoke(runStream),
)

func runStream(lc fx.Lifecycle, cfg *config.Config, h Handler) {
	d := cfg.Airdrop.Discord
	if !d.Enable || !d.Push.Enable {
		return
	}

	stream := NewStream(d.Push.GatewayURL, d.Token, d.Push.Intents, d.GuildID, h)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					zap.L().Error("[gateway] stream stopped", zap.Error(err))
				}
			}()
			zap.L().Info("[gateway] discord stream started", zap.String("guild_id", d.GuildID))
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
