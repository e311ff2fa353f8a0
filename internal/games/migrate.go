package games

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate applies the games schema using Gorm's AutoMigrate and logs progress.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "games.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying games schema")
	}

	err := db.WithContext(ctx).AutoMigrate(
		&Game{},
		&GameImage{},
		&GameRule{},
		&GameTag{},
		&GameTagRelation{},
		&GamePlayerCount{},
		&UserPreference{},
	)
	if err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("games schema migration failed")
		}
		return eris.Wrap(err, "auto migrating games schema")
	}

	if logger != nil {
		logger.WithFields(logFields).Info("games schema migration complete")
	}

	return nil
}
