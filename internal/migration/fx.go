package migration

import (
	exportdomain "github.com/omnisonic/coda/internal/exportjob/domain"
	ledgerdomain "github.com/omnisonic/coda/internal/ledger/domain"
	licensedomain "github.com/omnisonic/coda/internal/license/domain"

	"github.com/omnisonic/coda/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module applies the schema before any service touches the database.
var Module = fx.Module("migrations",
	fx.Invoke(apply),
)

func apply(cfg config.Config, db *gorm.DB, log *zap.Logger) error {
	if cfg.DBType != "postgres" {
		// sqlite is only used for local development and tests; gorm's
		// AutoMigrate keeps it in step without a second migration track.
		return db.AutoMigrate(
			&ledgerdomain.CycleCheckpoint{},
			&ledgerdomain.JournalEntry{},
			&licensedomain.License{},
			&exportdomain.Job{},
		)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := Run(sqlDB); err != nil {
		return err
	}
	log.Info("database migrations applied")
	return nil
}
