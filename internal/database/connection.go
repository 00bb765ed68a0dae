package database

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/thereayou/teleconsult/internal/config"
	"github.com/thereayou/teleconsult/internal/models"
)

// Connect открывает пул соединений и применяет миграции
func Connect(cfg config.DatabaseConfig, log *zap.Logger) (*Database, error) {
	if cfg.URL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := Migrate(db, log); err != nil {
		return nil, err
	}

	return NewDatabase(db), nil
}

// Migrate создает таблицы хранилища
func Migrate(db *gorm.DB, log *zap.Logger) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Consultation{},
		&models.Room{},
		&models.Participant{},
		&models.Signal{},
		&models.SignalReceipt{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	log.Info("database migrated")
	return nil
}
