package repo

import (
	"fmt"
	"strings"

	"maca-service/internal/config"
	"maca-service/internal/model"
	"maca-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var DB *gorm.DB

// Models lists every table the service migrates.
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.BalanceLog{},
		&model.RoundHistory{},
		&model.AdminAuditLog{},
	}
}

func dialector(conf config.DatabaseConfig) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(conf.Driver)) {
	case "", "postgres", "postgresql":
		return postgres.Open(conf.DSN), nil
	case "mysql":
		return mysql.Open(conf.DSN), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(conf.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", conf.Driver)
	}
}

func InitDB() {
	conf := config.GlobalConfig.Database
	d, err := dialector(conf)
	if err != nil {
		logger.Log.Fatal("Invalid database config", zap.Error(err))
	}

	DB, err = gorm.Open(d, &gorm.Config{})
	if err != nil {
		logger.Log.Fatal("Failed to connect to database",
			zap.String("driver", conf.Driver),
			zap.Error(err),
		)
	}

	if err := DB.AutoMigrate(Models()...); err != nil {
		logger.Log.Fatal("Failed to migrate database", zap.Error(err))
	}
}
