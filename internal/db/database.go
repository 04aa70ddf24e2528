package db

import (
	"fmt"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/config"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	DB *gorm.DB
)

// DSN builds the postgres connection string from the database section.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.Host,
		cfg.Username,
		cfg.Password,
		cfg.Name,
		cfg.Port,
		cfg.SSLMode,
	)
}

func Initialize(cfg *config.Configuration, log *zap.Logger) (*gorm.DB, error) {
	logMode := logger.Warn
	if cfg.Database.LogQueries {
		logMode = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logMode),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}

	var err error
	DB, err = gorm.Open(postgres.Open(DSN(cfg.Database)), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	if err := runMigrations(DB, log); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return DB, nil
}

func runMigrations(db *gorm.DB, log *zap.Logger) error {
	log.Info("Running database migrations")

	return db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.GroupMember{},
		&models.KeyShare{},
		&models.Document{},
		&models.Assignment{},
		&models.Seal{},
		&models.ExternalParty{},
		&models.ShareToken{},
	)
}

func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
