package health

import (
	"smallbiznis-airdrop/pkg/server"

	"go.uber.org/fx"
)

var Module = fx.Module("health", fx.Provide(server.AsRoute(ProvideHealth)))
