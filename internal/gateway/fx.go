package gateway

import (
	"github.com/smallbiznis/gatemeter/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(func(cfg config.Config) Factory {
		return NewFactory(cfg.Sync.RequestTimeout)
	}),
)
