package migration

import (
	"github.com/smallbiznis/feedbackhub/internal/config"
	"github.com/smallbiznis/feedbackhub/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		if cfg.DBType != db.TypePostgres {
			log.Info("ensuring schema with auto migrate", zap.String("type", cfg.DBType))
			return EnsureSchema(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	}),
)
