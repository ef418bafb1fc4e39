package db

import (
	"fmt"
	"log"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/tokenkeeper/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the SQLite database at dbPath and runs migrations.
func InitDB(dbPath, logLevel string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(logLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Printf("📦 Database ready: %s", dbPath)
	return db, nil
}

// Migrate creates or updates the tables used by the account store.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Account{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Warn
	}
}
