package consumer

import (
	"github.com/smallbiznis/gatemeter/internal/consumer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("consumer.service",
	fx.Provide(service.NewService),
)
