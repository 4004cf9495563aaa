package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/gatemeter/internal/billing"
	"github.com/smallbiznis/gatemeter/internal/cache"
	"github.com/smallbiznis/gatemeter/internal/catalog"
	"github.com/smallbiznis/gatemeter/internal/clock"
	"github.com/smallbiznis/gatemeter/internal/config"
	"github.com/smallbiznis/gatemeter/internal/connection"
	"github.com/smallbiznis/gatemeter/internal/consumer"
	"github.com/smallbiznis/gatemeter/internal/enforcement"
	"github.com/smallbiznis/gatemeter/internal/gateway"
	"github.com/smallbiznis/gatemeter/internal/migration"
	"github.com/smallbiznis/gatemeter/internal/observability"
	"github.com/smallbiznis/gatemeter/internal/plan"
	"github.com/smallbiznis/gatemeter/internal/ratelimit"
	"github.com/smallbiznis/gatemeter/internal/scheduler"
	"github.com/smallbiznis/gatemeter/internal/server"
	"github.com/smallbiznis/gatemeter/internal/syncer"
	"github.com/smallbiznis/gatemeter/internal/usage"
	"github.com/smallbiznis/gatemeter/internal/vault"
	"github.com/smallbiznis/gatemeter/pkg/db"
	pkglog "github.com/smallbiznis/gatemeter/pkg/log"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		pkglog.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		migration.Module,
		clock.Module,

		// Domain modules
		vault.Module,
		gateway.Module,
		connection.Module,
		catalog.Module,
		syncer.Module,
		plan.Module,
		cache.Module,
		consumer.Module,
		usage.Module,
		enforcement.Module,
		billing.Module,
		ratelimit.Module,

		// Drivers
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Fatalf("snowflake node: %v", err)
	}
	return node
}
