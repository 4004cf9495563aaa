package plan

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/gatemeter/internal/config"
)

var Module = fx.Module("plan",
	fx.Provide(provideHolder),
)

func provideHolder(cfg config.Config, log *zap.Logger) (*Holder, error) {
	return NewHolder(cfg.Billing.PlanFile, log)
}
