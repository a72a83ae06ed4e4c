package db

import (
	"fmt"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/gengenie/internal/credits"
	"github.com/suPer8Hu/gengenie/internal/tryon"
)

// Connect opens the database for the given driver ("mysql" or "sqlite").
// SQLite is meant for local development: it is limited to a single
// connection so that writers queue instead of failing with SQLITE_BUSY.
func Connect(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}

	var (
		gdb *gorm.DB
		err error
	)
	switch driver {
	case "", "mysql":
		gdb, err = gorm.Open(mysql.Open(dsn), cfg)
	case "sqlite":
		gdb, err = gorm.Open(gormsqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER=%q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb, nil
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&credits.Balance{}, &credits.Entry{}, &tryon.Job{})
}
