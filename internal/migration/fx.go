package migration

import (
	"github.com/smallbiznis/micoriza/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(migrateOnStart),
)

func migrateOnStart(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migrations")
	if !cfg.DBAutoMigrate {
		log.Info("schema migrations skipped", zap.String("reason", "DATABASE_AUTO_MIGRATE=false"))
		return nil
	}
	strategy, err := Run(conn)
	if err != nil {
		log.Error("schema migrations failed", zap.String("strategy", string(strategy)), zap.Error(err))
		return err
	}
	log.Info("schema migrations applied",
		zap.String("dialect", conn.Dialector.Name()),
		zap.String("strategy", string(strategy)),
	)
	return nil
}
