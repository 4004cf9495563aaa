package migration

import (
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/smallbiznis/gatemeter/internal/config"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The embedded migrations target postgres; other dialects
		// (sqlite in tests) migrate via gorm instead.
		if !strings.EqualFold(cfg.DBType, "postgres") {
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
