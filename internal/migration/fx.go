package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
		// The embedded migrations target postgres. Other dialects are for
		// local experiments and manage their own schema.
		if conn.Dialector.Name() != "postgres" {
			log.Named("migrations").Info("skipping migrations for non-postgres dialect",
				zap.String("dialect", conn.Dialector.Name()),
			)
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
